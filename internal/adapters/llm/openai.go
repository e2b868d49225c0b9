package llm

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pkg/errors"

	"github.com/PabloGalante/chatlog/internal/domain"
)

// OpenAIClient works with OpenAI and every OpenAI-compatible endpoint reachable via baseURL.
type OpenAIClient struct {
	client openai.Client
	model  string
}

var _ domain.AnswerGateway = &OpenAIClient{}

func NewOpenAIClient(apiKey, baseURL, model string, opts ...option.RequestOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY must be set for the openai gateway")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{client: openai.NewClient(reqOpts...), model: model}, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, question string) (string, error) {
	const op = "openai.generate"
	prompt := BuildPrompt(question)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if stderrors.As(err, &apiErr) {
			return "", domain.Errorf(domain.KindUpstreamError, op, "openai returned %d: %s", apiErr.StatusCode, apiErr.Message)
		}
		return "", classify(op, err)
	}
	if len(resp.Choices) == 0 {
		return "", emptyAnswer(op)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", emptyAnswer(op)
	}
	return text, nil
}
