package domain_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/chatlog/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestNewSessionDefaults(t *testing.T) {
	s := domain.NewSession("s1", "u1", "  ", t0)

	assert.Equal(t, domain.DefaultTitle, s.Title)
	assert.Equal(t, domain.StatusEmpty, s.Status)
	assert.Empty(t, s.Turns)
	assert.Equal(t, s.CreatedAt, s.UpdatedAt)
	assert.True(t, s.OwnedBy("u1"))
	assert.False(t, s.OwnedBy("u2"))
	assert.False(t, s.OwnedBy(""))
}

func TestApplyAlternates(t *testing.T) {
	s := domain.NewSession("s1", "u1", "", t0)

	require.NoError(t, s.Apply(domain.Turn{Role: domain.RoleUser, Text: "What is X?"}, t0.Add(time.Second)))
	assert.Equal(t, domain.StatusAwaitingAnswer, s.Status)
	assert.Equal(t, "What is X?", s.Title)

	pending, ok := s.PendingQuestion()
	require.True(t, ok)
	assert.Equal(t, "What is X?", pending)

	err := s.Apply(domain.Turn{Role: domain.RoleUser, Text: "again"}, t0.Add(2*time.Second))
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Len(t, s.Turns, 1)

	require.NoError(t, s.Apply(domain.Turn{Role: domain.RoleAssistant, Text: "X is Y."}, t0.Add(3*time.Second)))
	assert.Equal(t, domain.StatusSettled, s.Status)
	_, ok = s.PendingQuestion()
	assert.False(t, ok)

	err = s.Apply(domain.Turn{Role: domain.RoleAssistant, Text: "more"}, t0.Add(4*time.Second))
	assert.True(t, errors.Is(err, domain.ErrConflict))

	// second user turn does not retitle
	require.NoError(t, s.Apply(domain.Turn{Role: domain.RoleUser, Text: "And Z?"}, t0.Add(5*time.Second)))
	assert.Equal(t, "What is X?", s.Title)
}

func TestApplyRejectsInvalidTurns(t *testing.T) {
	s := domain.NewSession("s1", "u1", "", t0)

	err := s.Apply(domain.Turn{Role: "system", Text: "hi"}, t0)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))

	err = s.Apply(domain.Turn{Role: domain.RoleUser, Text: "   "}, t0)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
	assert.Empty(t, s.Turns)
}

func TestUpdatedAtStrictlyIncreases(t *testing.T) {
	s := domain.NewSession("s1", "u1", "", t0)
	prev := s.UpdatedAt

	// a stalled clock still moves UpdatedAt forward
	require.NoError(t, s.Apply(domain.Turn{Role: domain.RoleUser, Text: "q"}, t0))
	assert.True(t, s.UpdatedAt.After(prev))
	prev = s.UpdatedAt

	require.NoError(t, s.Rename("renamed", t0.Add(-time.Hour)))
	assert.True(t, s.UpdatedAt.After(prev))
	assert.Equal(t, t0, s.CreatedAt)
}

func TestRenameKeepsCustomTitle(t *testing.T) {
	s := domain.NewSession("s1", "u1", "", t0)
	require.NoError(t, s.Rename("  Mine  ", t0))
	assert.Equal(t, "Mine", s.Title)
	assert.True(t, s.CustomTitle)

	require.NoError(t, s.Apply(domain.Turn{Role: domain.RoleUser, Text: "first question"}, t0))
	assert.Equal(t, "Mine", s.Title)

	err := s.Rename(" ", t0)
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestTitleFrom(t *testing.T) {
	assert.Equal(t, "What is X?", domain.TitleFrom("  What is X?  "))
	assert.Equal(t, domain.DefaultTitle, domain.TitleFrom(""))

	long := strings.Repeat("ab", 40)
	assert.Len(t, []rune(domain.TitleFrom(long)), domain.MaxDerivedTitleLen)

	multibyte := strings.Repeat("न्या", 20)
	assert.LessOrEqual(t, len([]rune(domain.TitleFrom(multibyte))), domain.MaxDerivedTitleLen)
}

func TestCloneIsDeep(t *testing.T) {
	s := domain.NewSession("s1", "u1", "", t0)
	require.NoError(t, s.Apply(domain.Turn{Role: domain.RoleUser, Text: "q"}, t0))

	c := s.Clone()
	c.Turns[0].Text = "tampered"
	c.Turns = append(c.Turns, domain.Turn{Role: domain.RoleAssistant, Text: "a"})

	assert.Equal(t, "q", s.Turns[0].Text)
	assert.Len(t, s.Turns, 1)
}

func TestCanCreateSession(t *testing.T) {
	assert.True(t, domain.CanCreateSession(nil))

	older := domain.NewSession("a", "u1", "", t0)
	require.NoError(t, older.Apply(domain.Turn{Role: domain.RoleUser, Text: "q"}, t0))
	newer := domain.NewSession("b", "u1", "", t0.Add(time.Minute))

	// order of the slice does not matter, only CreatedAt
	assert.False(t, domain.CanCreateSession([]*domain.Session{older, newer}))
	assert.False(t, domain.CanCreateSession([]*domain.Session{newer, older}))

	require.NoError(t, newer.Apply(domain.Turn{Role: domain.RoleUser, Text: "q"}, t0.Add(time.Minute)))
	assert.True(t, domain.CanCreateSession([]*domain.Session{older, newer}))
}

func TestSortNewestFirst(t *testing.T) {
	a := domain.NewSession("a", "u1", "", t0)
	b := domain.NewSession("b", "u1", "", t0.Add(time.Second))
	c := domain.NewSession("c", "u1", "", t0.Add(time.Second))

	list := []*domain.Session{a, b, c}
	domain.SortNewestFirst(list)

	assert.Equal(t, []domain.SessionID{"c", "b", "a"}, []domain.SessionID{list[0].ID, list[1].ID, list[2].ID})
}

func TestErrorHelpers(t *testing.T) {
	partial := domain.NewSession("s1", "u1", "", t0)
	err := &domain.Error{Kind: domain.KindUpstreamUnavailable, Op: "ask", SessionID: "s1", Session: partial}

	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
	assert.False(t, errors.Is(err, domain.ErrNotFound))
	assert.Same(t, partial, domain.SessionOf(err))
	assert.Contains(t, err.Error(), "session s1")

	assert.Equal(t, domain.KindInternal, domain.KindOf(errors.New("boom")))
	assert.Equal(t, domain.Kind(""), domain.KindOf(nil))
	assert.Nil(t, domain.SessionOf(errors.New("boom")))
}
