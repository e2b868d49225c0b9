package domain

type EventType string

const (
	EventSessionCreated EventType = "session.created"
	EventSessionUpdated EventType = "session.updated"
	EventSessionDeleted EventType = "session.deleted"
)

// SessionEvent describes one committed change. Session is nil for deletions.
type SessionEvent struct {
	Type      EventType `json:"type"`
	OwnerID   UserID    `json:"owner_id"`
	SessionID SessionID `json:"session_id"`
	Session   *Session  `json:"session,omitempty"`
	At        Timestamp `json:"at"`
}
