package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/chatlog/internal/domain"
)

const defaultCollection = "chat_sessions"

// Store is a domain.SessionStore on Firestore. Each session is one document with its
// turns embedded; every mutation is a read-modify-write inside RunTransaction.
type Store struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

var _ domain.SessionStore = &Store{}

// NewStore creates a Firestore store.
// Uses the project passed (CHATLOG_GCP_PROJECT). collection may be empty.
func NewStore(ctx context.Context, projectID, collection string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	if collection == "" {
		collection = defaultCollection
	}
	return &Store{client: client, collection: collection, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) sessionsCol() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *Store) sessionDoc(id domain.SessionID) *firestore.DocumentRef {
	return s.sessionsCol().Doc(string(id))
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type sessionDoc struct {
	OwnerID     string    `firestore:"owner_id"`
	Title       string    `firestore:"title"`
	CustomTitle bool      `firestore:"custom_title"`
	Status      string    `firestore:"status"`
	Turns       []turnDoc `firestore:"turns"`
	CreatedAt   time.Time `firestore:"created_at"`
	UpdatedAt   time.Time `firestore:"updated_at"`
}

type turnDoc struct {
	Role      string    `firestore:"role"`
	Text      string    `firestore:"text"`
	CreatedAt time.Time `firestore:"created_at"`
}

func toDoc(sess *domain.Session) sessionDoc {
	turns := make([]turnDoc, len(sess.Turns))
	for i, t := range sess.Turns {
		turns[i] = turnDoc{Role: string(t.Role), Text: t.Text, CreatedAt: t.CreatedAt}
	}
	return sessionDoc{
		OwnerID:     string(sess.OwnerID),
		Title:       sess.Title,
		CustomTitle: sess.CustomTitle,
		Status:      string(sess.Status),
		Turns:       turns,
		CreatedAt:   sess.CreatedAt,
		UpdatedAt:   sess.UpdatedAt,
	}
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (*domain.Session, error) {
	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode sessionDoc: %w", err)
	}

	turns := make([]domain.Turn, len(doc.Turns))
	for i, t := range doc.Turns {
		turns[i] = domain.Turn{
			Role:      domain.Role(t.Role),
			Text:      t.Text,
			CreatedAt: domain.NormalizeTime(t.CreatedAt),
		}
	}
	st := domain.SessionStatus(doc.Status)
	if st == "" {
		st = domain.StatusFromTurns(turns)
	}
	return &domain.Session{
		ID:          domain.SessionID(snap.Ref.ID),
		OwnerID:     domain.UserID(doc.OwnerID),
		Title:       doc.Title,
		CustomTitle: doc.CustomTitle,
		Status:      st,
		Turns:       turns,
		CreatedAt:   domain.NormalizeTime(doc.CreatedAt),
		UpdatedAt:   domain.NormalizeTime(doc.UpdatedAt),
	}, nil
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

func (s *Store) Create(ctx context.Context, owner domain.UserID, title string) (*domain.Session, error) {
	if owner == "" {
		return nil, domain.E(domain.KindUnauthorized, "firestore.create", "owner is required")
	}

	id := domain.SessionID(uuid.Must(uuid.NewV7()).String())
	sess := domain.NewSession(id, owner, title, s.now())

	if _, err := s.sessionDoc(id).Create(ctx, toDoc(sess)); err != nil {
		return nil, fmt.Errorf("firestore CreateSession: %w", err)
	}
	return sess, nil
}

func (s *Store) getOwned(snap *firestore.DocumentSnapshot, err error, op string, owner domain.UserID, id domain.SessionID) (*domain.Session, error) {
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.NotFound(op, id)
		}
		return nil, fmt.Errorf("firestore %s: %w", op, err)
	}
	sess, err := fromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	if !sess.OwnedBy(owner) {
		return nil, domain.NotFound(op, id)
	}
	return sess, nil
}

func (s *Store) Get(ctx context.Context, owner domain.UserID, id domain.SessionID) (*domain.Session, error) {
	snap, err := s.sessionDoc(id).Get(ctx)
	return s.getOwned(snap, err, "firestore.get", owner, id)
}

func (s *Store) mutate(ctx context.Context, op string, owner domain.UserID, id domain.SessionID, fn func(*domain.Session) error) (*domain.Session, error) {
	ref := s.sessionDoc(id)

	var result *domain.Session
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		sess, err := s.getOwned(snap, err, op, owner, id)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		if err := tx.Set(ref, toDoc(sess)); err != nil {
			return err
		}
		result = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) Append(ctx context.Context, owner domain.UserID, id domain.SessionID, turn domain.Turn) (*domain.Session, error) {
	return s.mutate(ctx, "firestore.append", owner, id, func(sess *domain.Session) error {
		return sess.Apply(turn, s.now())
	})
}

func (s *Store) Rename(ctx context.Context, owner domain.UserID, id domain.SessionID, title string) (*domain.Session, error) {
	return s.mutate(ctx, "firestore.rename", owner, id, func(sess *domain.Session) error {
		return sess.Rename(title, s.now())
	})
}

func (s *Store) Delete(ctx context.Context, owner domain.UserID, id domain.SessionID) error {
	ref := s.sessionDoc(id)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if _, err := s.getOwned(snap, err, "firestore.delete", owner, id); err != nil {
			return err
		}
		return tx.Delete(ref)
	})
}

func (s *Store) List(ctx context.Context, owner domain.UserID) ([]*domain.Session, error) {
	q := s.sessionsCol().Where("owner_id", "==", string(owner)).OrderBy("created_at", firestore.Desc)

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := make([]*domain.Session, 0)
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore ListSessions: %w", err)
		}

		sess, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	domain.SortNewestFirst(out)
	return out, nil
}
