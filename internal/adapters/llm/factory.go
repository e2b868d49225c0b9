package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/PabloGalante/chatlog/internal/config"
	"github.com/PabloGalante/chatlog/internal/domain"
)

// New builds the configured gateway wrapped in WithTimeout.
func New(ctx context.Context, cfg *config.Config) (domain.AnswerGateway, error) {
	var (
		gw  domain.AnswerGateway
		err error
	)
	switch cfg.Gateway {
	case "mock", "":
		gw = NewMockLLM()
	case "http":
		gw, err = NewHTTPClient(cfg.AnswerURL, &http.Client{})
	case "vertex":
		gw, err = NewVertexClient(ctx, cfg.GCPProjectID, cfg.GCPLocation, cfg.ModelName)
	case "gemini":
		gw, err = NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.ModelName)
	case "openai":
		gw, err = NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, nonGeminiModel(cfg.ModelName))
	case "anthropic":
		gw, err = NewAnthropicClient(cfg.AnthropicAPIKey, nonGeminiModel(cfg.ModelName))
	default:
		return nil, errors.Errorf("unknown gateway %q", cfg.Gateway)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(gw, cfg.Gateway, cfg.GatewayTimeout), nil
}

// nonGeminiModel drops the gemini default so other providers fall back to their own.
func nonGeminiModel(model string) string {
	if strings.HasPrefix(model, "gemini") {
		return ""
	}
	return model
}
