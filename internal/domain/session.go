package domain

import (
	"slices"
	"strings"
	"time"
)

// Turn is one role-tagged message of a session. Turns are never edited once appended.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt Timestamp `json:"created_at"`
}

// Session is a titled, ordered conversation belonging to one owner.
type Session struct {
	ID          SessionID     `json:"id"`
	OwnerID     UserID        `json:"owner_id"`
	Title       string        `json:"title"`
	CustomTitle bool          `json:"custom_title"` // set once the title came from a rename
	Status      SessionStatus `json:"status"`
	Turns       []Turn        `json:"turns"`
	CreatedAt   Timestamp     `json:"created_at"`
	UpdatedAt   Timestamp     `json:"updated_at"`
}

// NewSession builds an empty session. Stores call it with a freshly generated id.
func NewSession(id SessionID, owner UserID, title string, now time.Time) *Session {
	now = NormalizeTime(now)
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	return &Session{
		ID:        id,
		OwnerID:   owner,
		Title:     title,
		Status:    StatusEmpty,
		Turns:     []Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// OwnedBy reports whether the session belongs to owner.
func (s *Session) OwnedBy(owner UserID) bool {
	return s != nil && owner != "" && s.OwnerID == owner
}

// PendingQuestion returns the dangling user turn text of an AWAITING_ANSWER session.
func (s *Session) PendingQuestion() (string, bool) {
	if s == nil || s.Status != StatusAwaitingAnswer || len(s.Turns) == 0 {
		return "", false
	}
	last := s.Turns[len(s.Turns)-1]
	if last.Role != RoleUser {
		return "", false
	}
	return last.Text, true
}

// Apply appends turn under the alternation rule and bumps UpdatedAt.
// Callers must hold whatever per-session exclusion their backend provides.
func (s *Session) Apply(turn Turn, now time.Time) error {
	const op = "session.apply"

	if !turn.Role.Valid() {
		return Errorf(KindInvalidArgument, op, "unknown role %q", turn.Role)
	}
	if strings.TrimSpace(turn.Text) == "" {
		return E(KindInvalidArgument, op, "turn text is empty")
	}

	switch turn.Role {
	case RoleUser:
		if s.Status == StatusAwaitingAnswer {
			return &Error{Kind: KindConflict, Op: op, SessionID: s.ID, Msg: "session is awaiting an answer"}
		}
	case RoleAssistant:
		if s.Status != StatusAwaitingAnswer {
			return &Error{Kind: KindConflict, Op: op, SessionID: s.ID, Msg: "session has no pending question"}
		}
	}

	now = NormalizeTime(now)
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	} else {
		turn.CreatedAt = NormalizeTime(turn.CreatedAt)
	}

	if turn.Role == RoleUser && len(s.Turns) == 0 && !s.CustomTitle {
		s.Title = TitleFrom(turn.Text)
	}

	s.Turns = append(s.Turns, turn)
	if turn.Role == RoleUser {
		s.Status = StatusAwaitingAnswer
	} else {
		s.Status = StatusSettled
	}
	s.UpdatedAt = NextUpdatedAt(s.UpdatedAt, now)
	return nil
}

// Rename sets an explicit title.
func (s *Session) Rename(title string, now time.Time) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return &Error{Kind: KindInvalidArgument, Op: "session.rename", SessionID: s.ID, Msg: "title is empty"}
	}
	s.Title = title
	s.CustomTitle = true
	s.UpdatedAt = NextUpdatedAt(s.UpdatedAt, NormalizeTime(now))
	return nil
}

// Clone returns a deep copy so callers never share the turn slice with a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Turns = slices.Clone(s.Turns)
	if c.Turns == nil {
		c.Turns = []Turn{}
	}
	return &c
}

// StatusFromTurns derives the tag for records written before status was persisted.
func StatusFromTurns(turns []Turn) SessionStatus {
	if len(turns) == 0 {
		return StatusEmpty
	}
	if turns[len(turns)-1].Role == RoleUser {
		return StatusAwaitingAnswer
	}
	return StatusSettled
}

// TitleFrom derives a session title from a question.
func TitleFrom(question string) string {
	q := strings.TrimSpace(question)
	r := []rune(q)
	if len(r) > MaxDerivedTitleLen {
		q = strings.TrimSpace(string(r[:MaxDerivedTitleLen]))
	}
	if q == "" {
		return DefaultTitle
	}
	return q
}

// NormalizeTime returns t in UTC at microsecond precision, which every backend stores exactly.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// NextUpdatedAt keeps UpdatedAt strictly increasing even when the clock stalls.
func NextUpdatedAt(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Microsecond)
}

// CanCreateSession is the creation-gating rule: a new empty session is allowed when the owner
// has none, or the most recently created one already has a turn.
func CanCreateSession(sessions []*Session) bool {
	var latest *Session
	for _, s := range sessions {
		if s == nil {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) ||
			(s.CreatedAt.Equal(latest.CreatedAt) && s.ID > latest.ID) {
			latest = s
		}
	}
	return latest == nil || len(latest.Turns) > 0
}

// SortNewestFirst orders sessions by CreatedAt descending, ties by id descending.
func SortNewestFirst(sessions []*Session) {
	slices.SortStableFunc(sessions, func(a, b *Session) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(b.ID), string(a.ID))
	})
}
