package model

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatSession struct {
	ID              string                 `json:"session_id"`
	UserID          string                 `json:"user_id"`
	UserName        string                 `json:"user_name"`
	Name            string                 `json:"session_name"`
	History         []ChatTurn             `json:"chat_history,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	LastInteraction int64                  `json:"last_interaction"`
}
