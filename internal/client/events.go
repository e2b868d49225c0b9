package client

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/PabloGalante/chatlog/internal/domain"
)

func (c *Client) eventsURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/api/events"
	return u.String()
}

// Watch streams the caller's session events into fn until ctx is done or the server closes
// the stream. A cancelled ctx is not reported as an error.
func (c *Client) Watch(ctx context.Context, fn func(domain.SessionEvent)) error {
	hdr := http.Header{}
	if c.token != "" {
		hdr.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.eventsURL(), hdr)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			apiErr := &APIError{Status: resp.StatusCode}
			apiErr.Body.Kind = kindForStatus(resp.StatusCode)
			apiErr.Body.Error = http.StatusText(resp.StatusCode)
			return apiErr
		}
		return errors.Wrap(err, "dial event stream")
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var ev domain.SessionEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "read event stream")
		}
		fn(ev)
	}
}

// WatchInto folds every event into vm until ctx is done.
func (c *Client) WatchInto(ctx context.Context, vm *ViewModel) error {
	return c.Watch(ctx, vm.ApplyEvent)
}
