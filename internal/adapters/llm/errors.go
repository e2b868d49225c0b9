package llm

import (
	"context"
	stderrors "errors"
	"net"

	"github.com/PabloGalante/chatlog/internal/domain"
)

// classify maps a transport or provider failure onto the gateway error contract:
// network trouble and timeouts are UpstreamUnavailable, everything else UpstreamError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if stderrors.As(err, &de) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return domain.Wrap(domain.KindUpstreamUnavailable, op, err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return domain.Wrap(domain.KindUpstreamUnavailable, op, err)
	}
	return domain.Wrap(domain.KindUpstreamError, op, err)
}

func emptyAnswer(op string) error {
	return domain.E(domain.KindUpstreamError, op, "empty answer")
}
