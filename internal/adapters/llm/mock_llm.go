package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/chatlog/internal/domain"
)

// MockLLM answers deterministically without any network call. Local mode and tests.
type MockLLM struct{}

var _ domain.AnswerGateway = &MockLLM{}

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

func (m *MockLLM) Generate(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classify("mock.generate", err)
	}
	return fmt.Sprintf("You asked: %q. A local legal aid clinic can help you with the next steps.", strings.TrimSpace(question)), nil
}
