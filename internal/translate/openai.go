package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type openAIBackend struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewOpenAIBackend(client *openai.Client, model string, temperature float64) Backend {
	if model == "" || strings.Contains(model, ":") {
		model = openai.GPT4oMini
	}
	return &openAIBackend{client: client, model: model, temperature: float32(temperature)}
}

func (b *openAIBackend) Translate(ctx context.Context, text, source, target string) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: b.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(source, target)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
