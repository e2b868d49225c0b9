package llm

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/PabloGalante/chatlog/internal/domain"
	"github.com/PabloGalante/chatlog/internal/observability"
)

// DefaultTimeout bounds one Generate call.
const DefaultTimeout = 60 * time.Second

type timeoutGateway struct {
	next    domain.AnswerGateway
	timeout time.Duration
	name    string
}

// WithTimeout bounds every Generate call of next by d and enforces the error contract
// on whatever next returns.
func WithTimeout(next domain.AnswerGateway, name string, d time.Duration) domain.AnswerGateway {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutGateway{next: next, timeout: d, name: name}
}

func (g *timeoutGateway) Generate(ctx context.Context, question string) (string, error) {
	const op = "gateway.generate"
	log := observability.LoggerFromContext(ctx).With().Str("gateway", g.name).Logger()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	answer, err := g.next.Generate(callCtx, question)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == nil && stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = &domain.Error{
				Kind: domain.KindUpstreamUnavailable,
				Op:   op,
				Msg:  "answer generation timed out after " + g.timeout.String(),
				Err:  err,
			}
		} else {
			err = classify(op, err)
		}
		log.Warn().Err(err).Dur("elapsed", elapsed).Msg("answer generation failed")
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		log.Warn().Dur("elapsed", elapsed).Msg("answer generation returned nothing")
		return "", emptyAnswer(op)
	}

	log.Debug().Dur("elapsed", elapsed).Int("answer_len", len(answer)).Msg("answer generated")
	return answer, nil
}
