package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type openAIConfig struct {
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Temperature float32 `json:"temperature"`
}

type openAIProvider struct {
	name        string
	apiKey      string
	temperature float32
	client      *openai.Client
}

func newOpenAIProvider(name, defaultBaseURL string, args interface{}) (IProvider, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	p := &openAIProvider{
		name:        name,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		temperature: cfg.Temperature,
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrUnavailable)
	}
	clientCfg := openai.DefaultConfig(p.apiKey)
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if baseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	p.client = openai.NewClientWithConfig(clientCfg)
	return p, nil
}

func (p *openAIProvider) Name() string {
	return p.name
}

func (p *openAIProvider) Generate(ctx context.Context, model string, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: p.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", providerError(p.name, "generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", providerError(p.name, "generate", fmt.Errorf("no choices returned"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Embed ignores taskType, the OpenAI embedding API has no equivalent.
func (p *openAIProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	_ = taskType
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, providerError(p.name, "embed", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, providerError(p.name, "embed", fmt.Errorf("no embedding values returned"))
	}
	return resp.Data[0].Embedding, nil
}

func createOpenAIFactory(args interface{}) (IProvider, error) {
	return newOpenAIProvider("openai", "", args)
}

func init() {
	Register("openai", createOpenAIFactory)
}
