package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/chatlog/internal/adapters/llm"
	"github.com/PabloGalante/chatlog/internal/adapters/storage/memory"
	"github.com/PabloGalante/chatlog/internal/app/conversation"
	"github.com/PabloGalante/chatlog/internal/domain"
)

type flakyGateway struct {
	down atomic.Bool
	mock *llm.MockLLM
}

func (g *flakyGateway) Generate(ctx context.Context, q string) (string, error) {
	if g.down.Load() {
		return "", domain.E(domain.KindUpstreamUnavailable, "test.generate", "gateway is down")
	}
	return g.mock.Generate(ctx, q)
}

// serviceAPI serves the view model straight from a conversation.Service for one owner.
type serviceAPI struct {
	svc     *conversation.Service
	owner   domain.UserID
	gateway *flakyGateway

	// createGate, when set, holds CreateSession until closed.
	createGate chan struct{}
}

func newServiceAPI() *serviceAPI {
	gw := &flakyGateway{mock: llm.NewMockLLM()}
	return &serviceAPI{
		svc:     conversation.NewService(gw, memory.NewSessionStore(), nil),
		owner:   "alice",
		gateway: gw,
	}
}

func (a *serviceAPI) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	return a.svc.ListSessions(ctx, a.owner)
}

func (a *serviceAPI) CreateSession(ctx context.Context) (*domain.Session, error) {
	if a.createGate != nil {
		<-a.createGate
	}
	return a.svc.CreateEmptySession(ctx, a.owner)
}

func (a *serviceAPI) Ask(ctx context.Context, id domain.SessionID, question string) (*AskResult, error) {
	out, err := a.svc.Ask(ctx, conversation.AskInput{OwnerID: a.owner, SessionID: id, Question: question})
	if err != nil {
		return nil, err
	}
	return &AskResult{Session: out.Session, Retried: out.Retried}, nil
}

func (a *serviceAPI) Rename(ctx context.Context, id domain.SessionID, title string) (*domain.Session, error) {
	return a.svc.RenameSession(ctx, a.owner, id, title)
}

func (a *serviceAPI) Delete(ctx context.Context, id domain.SessionID) error {
	return a.svc.DeleteSession(ctx, a.owner, id)
}

func TestViewModelStartsOnDashboard(t *testing.T) {
	vm := NewViewModel(newServiceAPI())
	require.NoError(t, vm.Load(context.Background()))

	snap := vm.Snapshot()
	assert.Equal(t, ViewDashboard, snap.View)
	assert.Empty(t, snap.Sessions)
	assert.Empty(t, snap.ActiveSessionID)
	assert.True(t, snap.CanCreateNewSession)
}

func TestNewSessionSelectsAndGates(t *testing.T) {
	ctx := context.Background()
	vm := NewViewModel(newServiceAPI())

	sess, err := vm.NewSession(ctx)
	require.NoError(t, err)

	snap := vm.Snapshot()
	assert.Equal(t, ViewChat, snap.View)
	assert.Equal(t, sess.ID, snap.ActiveSessionID)
	assert.False(t, snap.CreationInFlight)
	assert.False(t, snap.CanCreateNewSession)

	_, err = vm.NewSession(ctx)
	assert.Equal(t, domain.KindPolicyViolation, domain.KindOf(err))

	_, err = vm.Ask(ctx, "What is a lease?")
	require.NoError(t, err)
	assert.True(t, vm.Snapshot().CanCreateNewSession)
}

func TestNewSessionRejectsDuplicateWhileInFlight(t *testing.T) {
	ctx := context.Background()
	api := newServiceAPI()
	api.createGate = make(chan struct{})
	vm := NewViewModel(api, WithCreationSafetyDelay(time.Minute))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := vm.NewSession(ctx)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return vm.Snapshot().CreationInFlight }, time.Second, time.Millisecond)
	assert.False(t, vm.Snapshot().CanCreateNewSession)

	_, err := vm.NewSession(ctx)
	require.ErrorIs(t, err, ErrCreationInFlight)

	close(api.createGate)
	wg.Wait()

	snap := vm.Snapshot()
	assert.False(t, snap.CreationInFlight)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, snap.Sessions[0].ID, snap.ActiveSessionID)
}

func TestCreationFlagClearsAfterSafetyDelay(t *testing.T) {
	ctx := context.Background()
	api := newServiceAPI()
	api.createGate = make(chan struct{})
	vm := NewViewModel(api, WithCreationSafetyDelay(20*time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = vm.NewSession(ctx)
	}()

	require.Eventually(t, func() bool { return vm.Snapshot().CreationInFlight }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !vm.Snapshot().CreationInFlight }, time.Second, 5*time.Millisecond)
	assert.True(t, vm.Snapshot().CanCreateNewSession)

	close(api.createGate)
	<-done
	assert.Len(t, vm.Snapshot().Sessions, 1)
}

func TestAskFromDashboardStartsSession(t *testing.T) {
	ctx := context.Background()
	vm := NewViewModel(newServiceAPI())

	res, err := vm.Ask(ctx, "What is X?")
	require.NoError(t, err)
	assert.Equal(t, "What is X?", res.Session.Title)
	assert.Len(t, res.Session.Turns, 2)

	snap := vm.Snapshot()
	assert.Equal(t, ViewChat, snap.View)
	assert.Equal(t, res.Session.ID, snap.ActiveSessionID)
	require.NotNil(t, snap.Active)
	assert.Len(t, snap.Active.Turns, 2)

	res, err = vm.Ask(ctx, "And Y?")
	require.NoError(t, err)
	assert.Len(t, res.Session.Turns, 4)
	assert.Len(t, vm.Snapshot().Sessions, 1)

	// from the dashboard the next ask opens another session
	vm.ShowDashboard()
	res2, err := vm.Ask(ctx, "Unrelated")
	require.NoError(t, err)
	assert.NotEqual(t, res.Session.ID, res2.Session.ID)
	snap = vm.Snapshot()
	require.Len(t, snap.Sessions, 2)
	assert.Equal(t, res2.Session.ID, snap.Sessions[0].ID)
}

func TestFailedAskKeepsPendingQuestionForRetry(t *testing.T) {
	ctx := context.Background()
	api := newServiceAPI()
	vm := NewViewModel(api)

	api.gateway.down.Store(true)
	_, err := vm.Ask(ctx, "Is this enforceable?")
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamUnavailable, domain.KindOf(err))

	snap := vm.Snapshot()
	require.NotNil(t, snap.Active)
	assert.Equal(t, ViewChat, snap.View)
	assert.Equal(t, domain.StatusAwaitingAnswer, snap.Active.Status)
	assert.Len(t, snap.Active.Turns, 1)

	api.gateway.down.Store(false)
	res, err := vm.RetryPending(ctx)
	require.NoError(t, err)
	assert.True(t, res.Retried)
	require.Len(t, res.Session.Turns, 2)
	assert.Equal(t, domain.RoleUser, res.Session.Turns[0].Role)
	assert.Equal(t, domain.RoleAssistant, res.Session.Turns[1].Role)
	assert.Equal(t, domain.StatusSettled, vm.Snapshot().Active.Status)

	_, err = vm.RetryPending(ctx)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestRetryPendingNeedsActiveSession(t *testing.T) {
	vm := NewViewModel(newServiceAPI())
	_, err := vm.RetryPending(context.Background())
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestSelectUnknownSession(t *testing.T) {
	vm := NewViewModel(newServiceAPI())
	err := vm.Select("missing")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, ViewDashboard, vm.Snapshot().View)
}

func TestRenameMergesResult(t *testing.T) {
	ctx := context.Background()
	vm := NewViewModel(newServiceAPI())

	res, err := vm.Ask(ctx, "Deposit question")
	require.NoError(t, err)

	renamed, err := vm.Rename(ctx, res.Session.ID, "Deposit")
	require.NoError(t, err)
	assert.Equal(t, "Deposit", renamed.Title)

	snap := vm.Snapshot()
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "Deposit", snap.Sessions[0].Title)
	assert.True(t, snap.Sessions[0].CreatedAt.Equal(res.Session.CreatedAt))
	assert.True(t, snap.Sessions[0].UpdatedAt.After(res.Session.UpdatedAt))
}

func TestDeleteActiveReturnsToDashboard(t *testing.T) {
	ctx := context.Background()
	vm := NewViewModel(newServiceAPI())

	first, err := vm.Ask(ctx, "First")
	require.NoError(t, err)
	vm.ShowDashboard()
	second, err := vm.Ask(ctx, "Second")
	require.NoError(t, err)

	require.NoError(t, vm.Delete(ctx, first.Session.ID))
	snap := vm.Snapshot()
	assert.Equal(t, second.Session.ID, snap.ActiveSessionID, "deleting another session keeps focus")
	assert.Equal(t, ViewChat, snap.View)

	require.NoError(t, vm.Delete(ctx, second.Session.ID))
	snap = vm.Snapshot()
	assert.Empty(t, snap.ActiveSessionID)
	assert.Equal(t, ViewDashboard, snap.View)
	assert.Empty(t, snap.Sessions)

	err = vm.Delete(ctx, second.Session.ID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestLoadDropsVanishedActiveSession(t *testing.T) {
	ctx := context.Background()
	api := newServiceAPI()
	vm := NewViewModel(api)

	res, err := vm.Ask(ctx, "Question")
	require.NoError(t, err)

	// deleted from another surface
	require.NoError(t, api.svc.DeleteSession(ctx, api.owner, res.Session.ID))

	require.NoError(t, vm.Load(ctx))
	snap := vm.Snapshot()
	assert.Empty(t, snap.Sessions)
	assert.Empty(t, snap.ActiveSessionID)
	assert.Equal(t, ViewDashboard, snap.View)
}

func TestAskOnVanishedSessionDropsIt(t *testing.T) {
	ctx := context.Background()
	api := newServiceAPI()
	vm := NewViewModel(api)

	res, err := vm.Ask(ctx, "First question")
	require.NoError(t, err)

	// deleted from another surface
	require.NoError(t, api.svc.DeleteSession(ctx, api.owner, res.Session.ID))

	_, err = vm.Ask(ctx, "Second question")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	snap := vm.Snapshot()
	assert.Empty(t, snap.Sessions)
	assert.Empty(t, snap.ActiveSessionID)
	assert.Nil(t, snap.Active)
	assert.Equal(t, ViewDashboard, snap.View)

	// the next ask from the dashboard starts fresh
	next, err := vm.Ask(ctx, "Third question")
	require.NoError(t, err)
	assert.NotEqual(t, res.Session.ID, next.Session.ID)
}

func TestApplyEventIgnoresUpdateAfterDelete(t *testing.T) {
	vm := NewViewModel(newServiceAPI())

	a := session("a", time.Minute)
	vm.ApplyEvent(domain.SessionEvent{Type: domain.EventSessionCreated, OwnerID: "alice", SessionID: a.ID, Session: a})
	require.Len(t, vm.Snapshot().Sessions, 1)

	vm.ApplyEvent(domain.SessionEvent{Type: domain.EventSessionDeleted, OwnerID: "alice", SessionID: a.ID})

	// an update published before the delete but delivered after it
	late := a.Clone()
	require.NoError(t, late.Apply(domain.Turn{Role: domain.RoleUser, Text: "hi"}, t0.Add(2*time.Minute)))
	vm.ApplyEvent(domain.SessionEvent{Type: domain.EventSessionUpdated, OwnerID: "alice", SessionID: a.ID, Session: late})
	vm.ApplyEvent(domain.SessionEvent{Type: domain.EventSessionCreated, OwnerID: "alice", SessionID: a.ID, Session: a})

	assert.Empty(t, vm.Snapshot().Sessions)

	// other sessions still merge
	b := session("b", 3*time.Minute)
	vm.ApplyEvent(domain.SessionEvent{Type: domain.EventSessionCreated, OwnerID: "alice", SessionID: b.ID, Session: b})
	assert.Equal(t, []domain.SessionID{"b"}, ids(vm.Snapshot().Sessions))
}

func TestApplyEvent(t *testing.T) {
	vm := NewViewModel(newServiceAPI())

	a := session("a", time.Minute)
	vm.ApplyEvent(domain.SessionEvent{Type: domain.EventSessionCreated, OwnerID: "alice", SessionID: a.ID, Session: a})
	require.NoError(t, vm.Select(a.ID))

	newer := a.Clone()
	require.NoError(t, newer.Apply(domain.Turn{Role: domain.RoleUser, Text: "hi"}, t0.Add(2*time.Minute)))
	vm.ApplyEvent(domain.SessionEvent{Type: domain.EventSessionUpdated, SessionID: a.ID, Session: newer})
	assert.Len(t, vm.Snapshot().Active.Turns, 1)

	// a late event carrying an older copy is ignored
	vm.ApplyEvent(domain.SessionEvent{Type: domain.EventSessionUpdated, SessionID: a.ID, Session: a})
	assert.Len(t, vm.Snapshot().Active.Turns, 1)

	vm.ApplyEvent(domain.SessionEvent{Type: domain.EventSessionDeleted, SessionID: a.ID})
	snap := vm.Snapshot()
	assert.Empty(t, snap.Sessions)
	assert.Empty(t, snap.ActiveSessionID)
	assert.Equal(t, ViewDashboard, snap.View)
}

func TestOnChangeReceivesSnapshots(t *testing.T) {
	var (
		mu    sync.Mutex
		views []View
	)
	vm := NewViewModel(newServiceAPI(), WithOnChange(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		views = append(views, s.View)
	}))

	_, err := vm.Ask(context.Background(), "Question")
	require.NoError(t, err)
	vm.ShowDashboard()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []View{ViewChat, ViewDashboard}, views)
}
