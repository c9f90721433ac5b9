package gateway

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// openaiProvider serves both openai and groq; groq exposes an
// OpenAI-compatible API at its own base URL.
type openaiProvider struct {
	name   string
	client *openai.Client
}

func newOpenAIProvider(apiKey string) *openaiProvider {
	return &openaiProvider{name: "openai", client: openai.NewClient(apiKey)}
}

func newGroqProvider(apiKey string) *openaiProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = groqBaseURL
	return &openaiProvider{name: "groq", client: openai.NewClientWithConfig(cfg)}
}

func (p *openaiProvider) chat(ctx context.Context, req Request) (string, error) {
	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: req.Prompt,
	})

	apiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		apiReq.Temperature = float32(req.Temperature)
	}
	if req.MaxTokens != 0 {
		apiReq.MaxTokens = req.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Provider: p.name, Status: apiErr.HTTPStatusCode, Err: err}
		}
		return "", &ProviderError{Provider: p.name, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: p.name, Err: fmt.Errorf("no choices in response")}
	}
	return resp.Choices[0].Message.Content, nil
}
