package llm

import (
	"context"
	"strings"
)

// ChatClient performs single non-streaming completions
type ChatClient struct {
	*conn
	jsonMode bool
}

// ChatOption configures a ChatClient
type ChatOption func(*ChatClient)

// WithJSONMode asks the provider for a JSON object response
func WithJSONMode() ChatOption {
	return func(c *ChatClient) {
		c.jsonMode = true
	}
}

// NewChatClient creates a chat client
func NewChatClient(cfg Config, opts ...ChatOption) *ChatClient {
	c := &ChatClient{conn: newConn(cfg)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the model identifier
func (c *ChatClient) Model() string {
	return c.model
}

// Complete sends a system and user message and returns the trimmed reply
func (c *ChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	if c.jsonMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var out chatResponse
	if _, err := c.post(ctx, body, false, &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", &ProviderError{Provider: c.provider, Message: out.Error.Message}
	}
	if len(out.Choices) == 0 {
		return "", &ProviderError{Provider: c.provider, Message: "response contained no choices"}
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
