package client

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/PabloGalante/chatlog/internal/domain"
)

// DefaultCreationSafetyDelay bounds how long a lost create response can block NewSession.
const DefaultCreationSafetyDelay = 2 * time.Second

// ErrCreationInFlight is returned by NewSession while an earlier one has not resolved.
var ErrCreationInFlight = errors.New("session creation already in flight")

type View string

const (
	ViewDashboard View = "dashboard"
	ViewChat      View = "chat"
)

// API is the part of *Client the view model needs.
type API interface {
	ListSessions(ctx context.Context) ([]*domain.Session, error)
	CreateSession(ctx context.Context) (*domain.Session, error)
	Ask(ctx context.Context, id domain.SessionID, question string) (*AskResult, error)
	Rename(ctx context.Context, id domain.SessionID, title string) (*domain.Session, error)
	Delete(ctx context.Context, id domain.SessionID) error
}

var _ API = &Client{}

// Snapshot is a consistent copy of the view model state.
type Snapshot struct {
	Sessions            []*domain.Session
	ActiveSessionID     domain.SessionID
	Active              *domain.Session
	View                View
	CreationInFlight    bool
	CanCreateNewSession bool
}

// ViewModel keeps one UI instance's cache of sessions reconciled with the server. Every
// server result is merged by id; nothing is kept optimistically.
type ViewModel struct {
	api         API
	safetyDelay time.Duration
	onChange    func(Snapshot)

	mu       sync.Mutex
	sessions []*domain.Session
	active   domain.SessionID
	view     View
	// ids the server reported gone; late created or updated events for them are dropped
	deleted map[domain.SessionID]struct{}

	creating    bool
	creationGen uint64
	safetyTimer *time.Timer
}

type ViewModelOption func(*ViewModel)

func WithCreationSafetyDelay(d time.Duration) ViewModelOption {
	return func(vm *ViewModel) {
		if d > 0 {
			vm.safetyDelay = d
		}
	}
}

// WithOnChange registers fn to receive a snapshot after every state change. fn runs without
// the view model lock held.
func WithOnChange(fn func(Snapshot)) ViewModelOption {
	return func(vm *ViewModel) { vm.onChange = fn }
}

func NewViewModel(api API, opts ...ViewModelOption) *ViewModel {
	vm := &ViewModel{
		api:         api,
		safetyDelay: DefaultCreationSafetyDelay,
		view:        ViewDashboard,
		deleted:     map[domain.SessionID]struct{}{},
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

func (vm *ViewModel) snapshotLocked() Snapshot {
	sessions := make([]*domain.Session, len(vm.sessions))
	for i, s := range vm.sessions {
		sessions[i] = s.Clone()
	}
	return Snapshot{
		Sessions:            sessions,
		ActiveSessionID:     vm.active,
		Active:              FindSession(vm.sessions, vm.active).Clone(),
		View:                vm.view,
		CreationInFlight:    vm.creating,
		CanCreateNewSession: !vm.creating && domain.CanCreateSession(vm.sessions),
	}
}

func (vm *ViewModel) Snapshot() Snapshot {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.snapshotLocked()
}

// update runs fn under the lock and then notifies onChange.
func (vm *ViewModel) update(fn func()) {
	vm.mu.Lock()
	fn()
	snap := vm.snapshotLocked()
	vm.mu.Unlock()
	if vm.onChange != nil {
		vm.onChange(snap)
	}
}

func (vm *ViewModel) mergeAndSelectLocked(s *domain.Session) {
	vm.sessions = MergeSession(vm.sessions, s)
	vm.active = s.ID
	vm.view = ViewChat
}

func (vm *ViewModel) removeLocked(id domain.SessionID) {
	vm.deleted[id] = struct{}{}
	vm.sessions = RemoveSession(vm.sessions, id)
	if vm.active == id {
		vm.active = ""
		vm.view = ViewDashboard
	}
}

// Load replaces the cache with the server's list. An active session that disappeared is
// cleared.
func (vm *ViewModel) Load(ctx context.Context) error {
	sessions, err := vm.api.ListSessions(ctx)
	if err != nil {
		return err
	}
	sessions = slices.Clone(sessions)
	domain.SortNewestFirst(sessions)

	vm.update(func() {
		vm.sessions = sessions
		if vm.active != "" && FindSession(sessions, vm.active) == nil {
			vm.active = ""
			vm.view = ViewDashboard
		}
	})
	return nil
}

// Select focuses a cached session and switches to the chat view.
func (vm *ViewModel) Select(id domain.SessionID) error {
	var err error
	vm.update(func() {
		if FindSession(vm.sessions, id) == nil {
			err = domain.NotFound("client.select", id)
			return
		}
		vm.active = id
		vm.view = ViewChat
	})
	return err
}

// ShowDashboard leaves the chat view. The active pointer is kept.
func (vm *ViewModel) ShowDashboard() {
	vm.update(func() { vm.view = ViewDashboard })
}

// NewSession creates an empty session. A second call while one is unresolved returns
// ErrCreationInFlight; the guard lifts on response or after the safety delay.
func (vm *ViewModel) NewSession(ctx context.Context) (*domain.Session, error) {
	vm.mu.Lock()
	if vm.creating {
		vm.mu.Unlock()
		return nil, ErrCreationInFlight
	}
	if !domain.CanCreateSession(vm.sessions) {
		vm.mu.Unlock()
		return nil, domain.E(domain.KindPolicyViolation, "client.new_session", "the latest session has no turns yet")
	}
	vm.creating = true
	vm.creationGen++
	gen := vm.creationGen
	vm.safetyTimer = time.AfterFunc(vm.safetyDelay, func() { vm.clearCreation(gen) })
	vm.mu.Unlock()

	sess, err := vm.api.CreateSession(ctx)

	vm.update(func() {
		vm.clearCreationLocked(gen)
		if err == nil {
			vm.mergeAndSelectLocked(sess)
		}
	})
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

func (vm *ViewModel) clearCreation(gen uint64) {
	vm.update(func() { vm.clearCreationLocked(gen) })
}

// clearCreationLocked lifts the guard only for the creation that set it.
func (vm *ViewModel) clearCreationLocked(gen uint64) {
	if !vm.creating || vm.creationGen != gen {
		return
	}
	vm.creating = false
	if vm.safetyTimer != nil {
		vm.safetyTimer.Stop()
		vm.safetyTimer = nil
	}
}

// Ask sends question on the active session when the chat view is open, otherwise on a new
// session. If the answer fails after the question was stored, the partial session is merged
// and selected so RetryPending can re-ask it. A session the server no longer knows is dropped
// from the cache.
func (vm *ViewModel) Ask(ctx context.Context, question string) (*AskResult, error) {
	vm.mu.Lock()
	var target domain.SessionID
	if vm.view == ViewChat {
		target = vm.active
	}
	vm.mu.Unlock()

	return vm.ask(ctx, target, question)
}

// AskOn sends question on a specific session.
func (vm *ViewModel) AskOn(ctx context.Context, id domain.SessionID, question string) (*AskResult, error) {
	if id == "" {
		return nil, domain.E(domain.KindInvalidArgument, "client.ask", "session id is required")
	}
	return vm.ask(ctx, id, question)
}

func (vm *ViewModel) ask(ctx context.Context, id domain.SessionID, question string) (*AskResult, error) {
	res, err := vm.api.Ask(ctx, id, question)
	if err != nil {
		if partial := domain.SessionOf(err); partial != nil {
			vm.update(func() { vm.mergeAndSelectLocked(partial) })
		} else if id != "" && domain.KindOf(err) == domain.KindNotFound {
			vm.update(func() { vm.removeLocked(id) })
		}
		return nil, err
	}
	vm.update(func() { vm.mergeAndSelectLocked(res.Session) })
	return &AskResult{Session: res.Session.Clone(), Retried: res.Retried}, nil
}

// RetryPending re-asks the dangling question of the active session.
func (vm *ViewModel) RetryPending(ctx context.Context) (*AskResult, error) {
	const op = "client.retry_pending"

	vm.mu.Lock()
	id := vm.active
	sess := FindSession(vm.sessions, id)
	vm.mu.Unlock()

	if sess == nil {
		return nil, domain.E(domain.KindInvalidArgument, op, "no active session")
	}
	question, ok := sess.PendingQuestion()
	if !ok {
		return nil, &domain.Error{Kind: domain.KindInvalidArgument, Op: op, SessionID: id, Msg: "active session has no pending question"}
	}
	return vm.ask(ctx, id, question)
}

func (vm *ViewModel) Rename(ctx context.Context, id domain.SessionID, title string) (*domain.Session, error) {
	sess, err := vm.api.Rename(ctx, id, title)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			vm.update(func() { vm.removeLocked(id) })
		}
		return nil, err
	}
	vm.update(func() { vm.sessions = MergeSession(vm.sessions, sess) })
	return sess.Clone(), nil
}

// Delete removes a session. Deleting the active one returns to the dashboard. A session the
// server no longer knows is dropped from the cache as well.
func (vm *ViewModel) Delete(ctx context.Context, id domain.SessionID) error {
	err := vm.api.Delete(ctx, id)
	if err != nil && domain.KindOf(err) != domain.KindNotFound {
		return err
	}
	vm.update(func() { vm.removeLocked(id) })
	return err
}

// ApplyEvent folds a server-pushed event into the cache. Events older than the cached copy
// are ignored, as is anything for a session already seen deleted.
func (vm *ViewModel) ApplyEvent(ev domain.SessionEvent) {
	vm.update(func() {
		switch ev.Type {
		case domain.EventSessionDeleted:
			vm.removeLocked(ev.SessionID)
		case domain.EventSessionCreated, domain.EventSessionUpdated:
			if ev.Session == nil {
				return
			}
			if _, gone := vm.deleted[ev.Session.ID]; gone {
				return
			}
			if cur := FindSession(vm.sessions, ev.Session.ID); cur != nil && ev.Session.UpdatedAt.Before(cur.UpdatedAt) {
				return
			}
			vm.sessions = MergeSession(vm.sessions, ev.Session)
		}
	})
}
