package bots

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Turn is one line of capped conversation history handed to the responder.
type Turn struct {
	FromBot bool
	Content string
}

// Responder generates an in-character reply from a style directive and
// recent conversation history.
type Responder interface {
	Reply(ctx context.Context, style string, history []Turn) (string, error)
}

var errEmptyCompletion = errors.New("empty completion")

// OpenAIResponder generates replies through an OpenAI-compatible chat
// completion endpoint.
type OpenAIResponder struct {
	client *openai.Client
	model  string
}

// NewOpenAIResponder creates a responder. An empty baseURL uses the
// default OpenAI endpoint.
func NewOpenAIResponder(apiKey, baseURL, model string) *OpenAIResponder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIResponder{client: openai.NewClientWithConfig(cfg), model: model}
}

// Reply generates one reply. The caller bounds ctx; failures fall back to
// the personality's canned response set.
func (r *OpenAIResponder) Reply(ctx context.Context, style string, history []Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: style,
	})
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.FromBot {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     r.model,
		Messages:  messages,
		MaxTokens: 120,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errEmptyCompletion
	}
	return out, nil
}
