package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = string(sdk.ModelClaudeSonnet4_0)

// Anthropic is a Provider backed by the Claude Messages API.
type Anthropic struct {
	client sdk.Client
	model  string
}

// NewAnthropic builds an Anthropic provider from an API key.
func NewAnthropic(apiKey, model string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	return &Anthropic{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) SupportsStreaming() bool { return true }

func (a *Anthropic) AuthType() AuthType { return AuthHybrid }

// Generate issues a Messages.New request and concatenates the text blocks of
// the reply.
func (a *Anthropic) Generate(ctx context.Context, prompt string, pc Context) (string, error) {
	model := a.model
	if pc.Model != "" {
		model = pc.Model
	}
	maxTokens := int64(pc.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	if pc.System != "" {
		params.System = []sdk.TextBlockParam{{Text: pc.System}}
	}
	if pc.Temperature > 0 {
		params.Temperature = sdk.Float(pc.Temperature)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic generate: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic generate: empty response")
	}
	return sb.String(), nil
}
