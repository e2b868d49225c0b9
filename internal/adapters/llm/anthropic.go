package llm

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/PabloGalante/chatlog/internal/domain"
)

type AnthropicClient struct {
	client anthropic.Client
	model  string
}

var _ domain.AnswerGateway = &AnthropicClient{}

func NewAnthropicClient(apiKey, model string, opts ...anthropicoption.RequestOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY must be set for the anthropic gateway")
	}
	reqOpts := append([]anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithMaxRetries(0),
	}, opts...)
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicClient{client: anthropic.NewClient(reqOpts...), model: model}, nil
}

func (c *AnthropicClient) Generate(ctx context.Context, question string) (string, error) {
	const op = "anthropic.generate"
	prompt := BuildPrompt(question)

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 2048,
		System:    []anthropic.TextBlockParam{{Text: prompt.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if stderrors.As(err, &apiErr) {
			return "", domain.Errorf(domain.KindUpstreamError, op, "anthropic returned %d", apiErr.StatusCode)
		}
		return "", classify(op, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", emptyAnswer(op)
	}
	return text, nil
}
