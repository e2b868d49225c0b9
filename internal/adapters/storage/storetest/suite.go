// Package storetest holds the behavioural suite every domain.SessionStore backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/chatlog/internal/domain"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) domain.SessionStore

// Run executes the full conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s domain.SessionStore)
	}{
		{"CreateRequiresOwner", testCreateRequiresOwner},
		{"CreateDefaults", testCreateDefaults},
		{"GetHidesForeignSessions", testGetHidesForeignSessions},
		{"AppendAlternates", testAppendAlternates},
		{"AppendRoundTrips", testAppendRoundTrips},
		{"AppendRejectsInvalidTurn", testAppendRejectsInvalidTurn},
		{"Rename", testRename},
		{"DeleteIsTerminal", testDeleteIsTerminal},
		{"ListNewestFirstPerOwner", testListNewestFirstPerOwner},
		{"ConcurrentAppendsSameSession", testConcurrentAppendsSameSession},
		{"ConcurrentAppendsDifferentSessions", testConcurrentAppendsDifferentSessions},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func user(text string) domain.Turn      { return domain.Turn{Role: domain.RoleUser, Text: text} }
func assistant(text string) domain.Turn { return domain.Turn{Role: domain.RoleAssistant, Text: text} }

func requireKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, domain.KindOf(err), "error: %v", err)
}

// requireSameSession compares two sessions, using time.Equal for timestamps.
func requireSameSession(t *testing.T, want, got *domain.Session) {
	t.Helper()
	require.NotNil(t, got)
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.OwnerID, got.OwnerID)
	require.Equal(t, want.Title, got.Title)
	require.Equal(t, want.CustomTitle, got.CustomTitle)
	require.Equal(t, want.Status, got.Status)
	require.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", want.CreatedAt, got.CreatedAt)
	require.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updated_at %v != %v", want.UpdatedAt, got.UpdatedAt)
	require.Len(t, got.Turns, len(want.Turns))
	for i := range want.Turns {
		require.Equal(t, want.Turns[i].Role, got.Turns[i].Role)
		require.Equal(t, want.Turns[i].Text, got.Turns[i].Text)
		require.True(t, want.Turns[i].CreatedAt.Equal(got.Turns[i].CreatedAt))
	}
}

func testCreateRequiresOwner(t *testing.T, s domain.SessionStore) {
	_, err := s.Create(context.Background(), "", "title")
	requireKind(t, err, domain.KindUnauthorized)
}

func testCreateDefaults(t *testing.T, s domain.SessionStore) {
	ctx := context.Background()

	a, err := s.Create(ctx, "u1", "")
	require.NoError(t, err)
	b, err := s.Create(ctx, "u1", "Pre-seeded")
	require.NoError(t, err)

	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, domain.DefaultTitle, a.Title)
	require.Equal(t, "Pre-seeded", b.Title)
	require.Equal(t, domain.StatusEmpty, a.Status)
	require.Empty(t, a.Turns)
	require.Equal(t, domain.UserID("u1"), a.OwnerID)

	got, err := s.Get(ctx, "u1", a.ID)
	require.NoError(t, err)
	requireSameSession(t, a, got)
}

func testGetHidesForeignSessions(t *testing.T, s domain.SessionStore) {
	ctx := context.Background()
	sess, err := s.Create(ctx, "owner", "")
	require.NoError(t, err)

	_, err = s.Get(ctx, "intruder", sess.ID)
	requireKind(t, err, domain.KindNotFound)

	_, err = s.Get(ctx, "owner", "does-not-exist")
	requireKind(t, err, domain.KindNotFound)

	_, err = s.Append(ctx, "intruder", sess.ID, user("hi"))
	requireKind(t, err, domain.KindNotFound)

	_, err = s.Rename(ctx, "intruder", sess.ID, "mine now")
	requireKind(t, err, domain.KindNotFound)

	err = s.Delete(ctx, "intruder", sess.ID)
	requireKind(t, err, domain.KindNotFound)

	// the owner's session is untouched
	got, err := s.Get(ctx, "owner", sess.ID)
	require.NoError(t, err)
	requireSameSession(t, sess, got)
}

func testAppendAlternates(t *testing.T, s domain.SessionStore) {
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1", "")
	require.NoError(t, err)

	_, err = s.Append(ctx, "u1", sess.ID, assistant("unprompted"))
	requireKind(t, err, domain.KindConflict)

	afterUser, err := s.Append(ctx, "u1", sess.ID, user("What is X?"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusAwaitingAnswer, afterUser.Status)
	require.Equal(t, "What is X?", afterUser.Title)
	require.True(t, afterUser.UpdatedAt.After(sess.UpdatedAt))

	_, err = s.Append(ctx, "u1", sess.ID, user("What is X?"))
	requireKind(t, err, domain.KindConflict)

	settled, err := s.Append(ctx, "u1", sess.ID, assistant("X is Y."))
	require.NoError(t, err)
	require.Equal(t, domain.StatusSettled, settled.Status)
	require.Len(t, settled.Turns, 2)
	require.Equal(t, domain.RoleUser, settled.Turns[0].Role)
	require.Equal(t, domain.RoleAssistant, settled.Turns[1].Role)
	require.True(t, settled.UpdatedAt.After(afterUser.UpdatedAt))
	require.True(t, settled.CreatedAt.Equal(sess.CreatedAt))
}

func testAppendRoundTrips(t *testing.T, s domain.SessionStore) {
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1", "")
	require.NoError(t, err)

	_, err = s.Append(ctx, "u1", sess.ID, user("q1"))
	require.NoError(t, err)
	last, err := s.Append(ctx, "u1", sess.ID, assistant("a1"))
	require.NoError(t, err)

	got, err := s.Get(ctx, "u1", sess.ID)
	require.NoError(t, err)
	requireSameSession(t, last, got)
}

func testAppendRejectsInvalidTurn(t *testing.T, s domain.SessionStore) {
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1", "")
	require.NoError(t, err)

	_, err = s.Append(ctx, "u1", sess.ID, user("  "))
	requireKind(t, err, domain.KindInvalidArgument)

	_, err = s.Append(ctx, "u1", sess.ID, domain.Turn{Role: "system", Text: "x"})
	requireKind(t, err, domain.KindInvalidArgument)

	got, err := s.Get(ctx, "u1", sess.ID)
	require.NoError(t, err)
	require.Empty(t, got.Turns)
	require.Equal(t, domain.StatusEmpty, got.Status)
}

func testRename(t *testing.T, s domain.SessionStore) {
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1", "")
	require.NoError(t, err)

	_, err = s.Rename(ctx, "u1", sess.ID, "   ")
	requireKind(t, err, domain.KindInvalidArgument)

	renamed, err := s.Rename(ctx, "u1", sess.ID, "Tenancy questions")
	require.NoError(t, err)
	require.Equal(t, "Tenancy questions", renamed.Title)
	require.True(t, renamed.CustomTitle)
	require.True(t, renamed.CreatedAt.Equal(sess.CreatedAt))
	require.True(t, renamed.UpdatedAt.After(sess.UpdatedAt))

	// a custom title survives the first question
	asked, err := s.Append(ctx, "u1", sess.ID, user("Can my landlord evict me?"))
	require.NoError(t, err)
	require.Equal(t, "Tenancy questions", asked.Title)

	list, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Tenancy questions", list[0].Title)
	require.True(t, list[0].CreatedAt.Equal(sess.CreatedAt))
	require.True(t, list[0].UpdatedAt.After(sess.UpdatedAt))
}

func testDeleteIsTerminal(t *testing.T, s domain.SessionStore) {
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1", "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "u1", sess.ID))

	requireKind(t, s.Delete(ctx, "u1", sess.ID), domain.KindNotFound)
	_, err = s.Get(ctx, "u1", sess.ID)
	requireKind(t, err, domain.KindNotFound)
	_, err = s.Append(ctx, "u1", sess.ID, user("hello?"))
	requireKind(t, err, domain.KindNotFound)
	_, err = s.Rename(ctx, "u1", sess.ID, "ghost")
	requireKind(t, err, domain.KindNotFound)

	list, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func testListNewestFirstPerOwner(t *testing.T, s domain.SessionStore) {
	ctx := context.Background()

	var ids []domain.SessionID
	for i := 0; i < 3; i++ {
		sess, err := s.Create(ctx, "u1", fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}
	_, err := s.Create(ctx, "u2", "other")
	require.NoError(t, err)

	list, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []domain.SessionID{ids[2], ids[1], ids[0]}, []domain.SessionID{list[0].ID, list[1].ID, list[2].ID})
	for i := 1; i < len(list); i++ {
		require.False(t, list[i].CreatedAt.After(list[i-1].CreatedAt))
	}

	none, err := s.List(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, none)
}

func testConcurrentAppendsSameSession(t *testing.T, s domain.SessionStore) {
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1", "")
	require.NoError(t, err)

	const n = 16
	race := func(turn domain.Turn) int {
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				_, err := s.Append(ctx, "u1", sess.ID, turn)
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				assert.Equal(t, domain.KindConflict, domain.KindOf(err), "error: %v", err)
			}()
		}
		wg.Wait()
		return successes
	}

	require.Equal(t, 1, race(user("q")))
	require.Equal(t, 1, race(assistant("a")))

	got, err := s.Get(ctx, "u1", sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Turns, 2)
	require.Equal(t, domain.StatusSettled, got.Status)
}

func testConcurrentAppendsDifferentSessions(t *testing.T, s domain.SessionStore) {
	ctx := context.Background()

	const n = 8
	sessions := make([]*domain.Session, n)
	for i := range sessions {
		sess, err := s.Create(ctx, "u1", "")
		require.NoError(t, err)
		sessions[i] = sess
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i, sess := range sessions {
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, "u1", sess.ID, user(fmt.Sprintf("q%d", i)))
			assert.NoError(t, err)
			_, err = s.Append(ctx, "u1", sess.ID, assistant(fmt.Sprintf("a%d", i)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for i, sess := range sessions {
		got, err := s.Get(ctx, "u1", sess.ID)
		require.NoError(t, err)
		require.Len(t, got.Turns, 2)
		require.Equal(t, fmt.Sprintf("q%d", i), got.Turns[0].Text)
		require.Equal(t, fmt.Sprintf("a%d", i), got.Turns[1].Text)
	}
}
