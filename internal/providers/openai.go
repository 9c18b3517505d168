package providers

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = openai.ChatModelGPT4oMini

// OpenAI is a Provider backed by the OpenAI Chat Completions API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI builds an OpenAI provider from an API key. The model defaults to
// a small chat model when empty.
func NewOpenAI(apiKey, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) SupportsStreaming() bool { return true }

func (o *OpenAI) AuthType() AuthType { return AuthHybrid }

// Generate issues a non-streaming chat completion and returns the first
// choice's text.
func (o *OpenAI) Generate(ctx context.Context, prompt string, pc Context) (string, error) {
	model := o.model
	if pc.Model != "" {
		model = pc.Model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if pc.System != "" {
		messages = append(messages, openai.SystemMessage(pc.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if pc.Temperature > 0 {
		params.Temperature = openai.Float(pc.Temperature)
	}
	if pc.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(pc.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai generate: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
