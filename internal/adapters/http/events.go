package httpadapter

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PabloGalante/chatlog/internal/domain"
	"github.com/PabloGalante/chatlog/internal/observability"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPingPeriod = 30 * time.Second
)

// EventSource streams an owner's session events until ctx is done.
type EventSource interface {
	Subscribe(ctx context.Context, owner domain.UserID) (<-chan domain.SessionEvent, error)
}

var upgrader = websocket.Upgrader{
	// credentials are checked by withAuth before the upgrade
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents upgrades to a websocket and pushes every session event of the caller as JSON.
// Clients never send anything meaningful; reads only detect the close.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	owner := UserFromContext(r.Context())
	log := observability.LoggerFromContext(r.Context()).With().Str("owner_id", string(owner)).Logger()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := s.events.Subscribe(ctx, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	log.Debug().Msg("event stream opened")

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(eventsWriteWait))
			log.Debug().Msg("event stream closed")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("event stream write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
		}
	}
}
