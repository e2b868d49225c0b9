package domain

import "context"

// AnswerGateway calls the external answer-generation function.
// It fails with KindUpstreamUnavailable on network/timeout errors and
// KindUpstreamError on a non-success response. It never retries.
type AnswerGateway interface {
	Generate(ctx context.Context, question string) (string, error)
}

// SessionStore owns persisted sessions. Mutations of one session id are serialized;
// different ids proceed independently. Every method treats a foreign session as absent.
type SessionStore interface {
	Create(ctx context.Context, owner UserID, title string) (*Session, error)
	Get(ctx context.Context, owner UserID, id SessionID) (*Session, error)
	Append(ctx context.Context, owner UserID, id SessionID, turn Turn) (*Session, error)
	Rename(ctx context.Context, owner UserID, id SessionID, title string) (*Session, error)
	Delete(ctx context.Context, owner UserID, id SessionID) error
	// List returns the owner's sessions, newest CreatedAt first.
	List(ctx context.Context, owner UserID) ([]*Session, error)
	Close() error
}

// Authenticator resolves an opaque bearer credential to a caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (UserID, error)
}

// EventPublisher fans session changes out to observers (other UI surfaces).
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, ev SessionEvent) error
}
