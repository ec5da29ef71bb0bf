package ai

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

func createOpenRouterFactory(args interface{}) (IProvider, error) {
	return newOpenAIProvider("openrouter", defaultOpenRouterBaseURL, args)
}

func init() {
	Register("openrouter", createOpenRouterFactory)
}
