package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/chatlog/internal/domain"
)

func receive(t *testing.T, ch <-chan domain.SessionEvent) domain.SessionEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return domain.SessionEvent{}
	}
}

func TestMemoryBusDeliversToOwnerOnly(t *testing.T) {
	bus := NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine, err := bus.Subscribe(ctx, "u1")
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, "u2")
	require.NoError(t, err)

	sess := domain.NewSession("s1", "u1", "", time.Now())
	require.NoError(t, bus.PublishSessionEvent(ctx, domain.SessionEvent{
		Type:      domain.EventSessionCreated,
		OwnerID:   "u1",
		SessionID: sess.ID,
		Session:   sess,
		At:        sess.CreatedAt,
	}))

	ev := receive(t, mine)
	require.Equal(t, domain.EventSessionCreated, ev.Type)
	require.Equal(t, sess.ID, ev.SessionID)
	require.NotNil(t, ev.Session)
	require.Equal(t, domain.DefaultTitle, ev.Session.Title)

	select {
	case ev := <-other:
		t.Fatalf("unexpected event for other owner: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusFansOut(t *testing.T) {
	bus := NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx, "u1")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, bus.PublishSessionEvent(ctx, domain.SessionEvent{
		Type: domain.EventSessionDeleted, OwnerID: "u1", SessionID: "s9", At: time.Now(),
	}))

	require.Equal(t, domain.SessionID("s9"), receive(t, a).SessionID)
	require.Equal(t, domain.SessionID("s9"), receive(t, b).SessionID)
}

func TestMemoryBusKeepsPublishOrder(t *testing.T) {
	bus := NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "u1")
	require.NoError(t, err)

	const n = 500
	published := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			err := bus.PublishSessionEvent(ctx, domain.SessionEvent{
				Type:      domain.EventSessionUpdated,
				OwnerID:   "u1",
				SessionID: domain.SessionID(fmt.Sprintf("s%04d", i)),
				At:        time.Now(),
			})
			if err != nil {
				published <- err
				return
			}
		}
		published <- nil
	}()

	for i := 0; i < n; i++ {
		ev := receive(t, ch)
		require.Equal(t, domain.SessionID(fmt.Sprintf("s%04d", i)), ev.SessionID)
	}
	require.NoError(t, <-published)
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	bus := NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx, "u1")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestPublishRequiresOwner(t *testing.T) {
	bus := NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	require.Error(t, bus.PublishSessionEvent(context.Background(), domain.SessionEvent{Type: domain.EventSessionUpdated}))
	_, err := bus.Subscribe(context.Background(), "")
	require.Equal(t, domain.KindUnauthorized, domain.KindOf(err))
}
