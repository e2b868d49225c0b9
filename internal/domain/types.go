package domain

import "time"

type SessionID string
type UserID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// SessionStatus is the persisted lifecycle tag of a session.
type SessionStatus string

const (
	StatusEmpty          SessionStatus = "empty"           // no turns yet
	StatusAwaitingAnswer SessionStatus = "awaiting_answer" // last turn is an unanswered user turn
	StatusSettled        SessionStatus = "settled"         // last turn is an assistant turn
)

type Timestamp = time.Time

// DefaultTitle is given to sessions created without a question.
const DefaultTitle = "New Chat"

// MaxDerivedTitleLen bounds titles derived from the first question, in runes.
const MaxDerivedTitleLen = 30
