package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/chatlog/internal/adapters/events"
	httpadapter "github.com/PabloGalante/chatlog/internal/adapters/http"
	"github.com/PabloGalante/chatlog/internal/adapters/llm"
	"github.com/PabloGalante/chatlog/internal/adapters/storage/memory"
	"github.com/PabloGalante/chatlog/internal/app/conversation"
	"github.com/PabloGalante/chatlog/internal/auth"
	"github.com/PabloGalante/chatlog/internal/domain"
)

type apiEnv struct {
	srv     *httptest.Server
	auth    *auth.JWTAuthenticator
	gateway *flakyGateway
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	authn, err := auth.NewJWTAuthenticator("client-test-secret")
	require.NoError(t, err)
	bus := events.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	gw := &flakyGateway{mock: llm.NewMockLLM()}
	svc := conversation.NewService(gw, memory.NewSessionStore(), bus)
	srv := httptest.NewServer(httpadapter.NewServer(svc, authn, httpadapter.Options{Events: bus}))
	t.Cleanup(srv.Close)

	return &apiEnv{srv: srv, auth: authn, gateway: gw}
}

func (e *apiEnv) client(t *testing.T, user domain.UserID) *Client {
	t.Helper()
	tok, err := e.auth.Issue(user, time.Hour)
	require.NoError(t, err)
	c, err := New(e.srv.URL+"/", tok, WithHTTPClient(e.srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewValidatesURL(t *testing.T) {
	_, err := New("ftp://example.com", "")
	require.Error(t, err)
	_, err = New("localhost:8080", "")
	require.Error(t, err)
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newAPIEnv(t)
	c := env.client(t, "alice")

	user, err := c.VerifyToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), user)

	ok, err := c.CanCreateSession(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	empty, err := c.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTitle, empty.Title)

	_, err = c.CreateSession(ctx)
	assert.Equal(t, domain.KindPolicyViolation, domain.KindOf(err))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	res, err := c.Ask(ctx, empty.ID, "What is X?")
	require.NoError(t, err)
	assert.False(t, res.Retried)
	assert.Equal(t, "What is X?", res.Session.Title)
	assert.Len(t, res.Session.Turns, 2)

	renamed, err := c.Rename(ctx, empty.ID, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", renamed.Title)

	got, err := c.GetSession(ctx, empty.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	list, err := c.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, c.Delete(ctx, empty.ID))
	_, err = c.GetSession(ctx, empty.ID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestClientCarriesPartialSession(t *testing.T) {
	ctx := context.Background()
	env := newAPIEnv(t)
	c := env.client(t, "alice")

	env.gateway.down.Store(true)
	_, err := c.Ask(ctx, "", "Pending question")
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamUnavailable, domain.KindOf(err))

	partial := domain.SessionOf(err)
	require.NotNil(t, partial)
	q, ok := partial.PendingQuestion()
	require.True(t, ok)
	assert.Equal(t, "Pending question", q)

	env.gateway.down.Store(false)
	res, err := c.Ask(ctx, partial.ID, "Pending question")
	require.NoError(t, err)
	assert.True(t, res.Retried)
	assert.Len(t, res.Session.Turns, 2)
}

func TestClientUnauthorized(t *testing.T) {
	env := newAPIEnv(t)
	c, err := New(env.srv.URL, "bogus", WithHTTPClient(env.srv.Client()))
	require.NoError(t, err)

	_, err = c.ListSessions(context.Background())
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))

	err = c.Watch(context.Background(), func(domain.SessionEvent) {})
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))
}

func TestClientUnreachable(t *testing.T) {
	env := newAPIEnv(t)
	url := env.srv.URL
	env.srv.Close()

	c, err := New(url, "tok")
	require.NoError(t, err)
	_, err = c.ListSessions(context.Background())
	assert.Equal(t, domain.KindUpstreamUnavailable, domain.KindOf(err))
}

func TestWatchFeedsViewModel(t *testing.T) {
	env := newAPIEnv(t)
	watcher := env.client(t, "alice")
	actor := NewViewModel(env.client(t, "alice"))
	observer := NewViewModel(watcher)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, watcher.WatchInto(ctx, observer))
	}()

	// the stream is live once an ask made by the other surface shows up
	require.Eventually(t, func() bool {
		if len(observer.Snapshot().Sessions) > 0 {
			return true
		}
		actor.ShowDashboard()
		_, err := actor.Ask(context.Background(), "Shared question")
		assert.NoError(t, err)
		return false
	}, 5*time.Second, 50*time.Millisecond)

	target := actor.Snapshot().Sessions[0]
	require.NoError(t, actor.Delete(context.Background(), target.ID))
	require.Eventually(t, func() bool {
		return FindSession(observer.Snapshot().Sessions, target.ID) == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
}
