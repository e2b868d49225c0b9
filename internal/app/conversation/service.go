package conversation

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PabloGalante/chatlog/internal/domain"
	"github.com/PabloGalante/chatlog/internal/observability"
)

const ownerLockStripes = 64

type Service struct {
	gateway   domain.AnswerGateway
	store     domain.SessionStore
	publisher domain.EventPublisher
	now       func() time.Time

	// creation gating is list-then-create; stripes keep one owner's creates in order
	createLocks [ownerLockStripes]sync.Mutex
}

// NewService wires the session service. publisher may be nil.
func NewService(
	gateway domain.AnswerGateway,
	store domain.SessionStore,
	publisher domain.EventPublisher,
) *Service {
	return &Service{
		gateway:   gateway,
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

func (s *Service) ownerLock(owner domain.UserID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(owner))
	return &s.createLocks[h.Sum32()%ownerLockStripes]
}

func ownerLogger(ctx context.Context, owner domain.UserID) zerolog.Logger {
	return observability.LoggerFromContext(ctx).With().Str("owner_id", string(owner)).Logger()
}

func requireOwner(op string, owner domain.UserID) error {
	if owner == "" {
		return domain.E(domain.KindUnauthorized, op, "caller identity is required")
	}
	return nil
}

// publish never fails the operation; observers resync on their next list.
func (s *Service) publish(ctx context.Context, typ domain.EventType, owner domain.UserID, id domain.SessionID, sess *domain.Session) {
	if s.publisher == nil {
		return
	}
	ev := domain.SessionEvent{
		Type:      typ,
		OwnerID:   owner,
		SessionID: id,
		Session:   sess.Clone(),
		At:        domain.NormalizeTime(s.now()),
	}
	if err := s.publisher.PublishSessionEvent(ctx, ev); err != nil {
		log := ownerLogger(ctx, owner)
		log.Warn().Err(err).Str("session_id", string(id)).Str("event", string(typ)).Msg("failed to publish session event")
	}
}

// ─────────────────────────────────────────
// Queries
// ─────────────────────────────────────────

func (s *Service) ListSessions(ctx context.Context, owner domain.UserID) ([]*domain.Session, error) {
	if err := requireOwner("conversation.list", owner); err != nil {
		return nil, err
	}
	return s.store.List(ctx, owner)
}

func (s *Service) GetSession(ctx context.Context, owner domain.UserID, id domain.SessionID) (*domain.Session, error) {
	if err := requireOwner("conversation.get", owner); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, owner, id)
}

// CanCreateSession recomputes the gating rule from the owner's current sessions.
func (s *Service) CanCreateSession(ctx context.Context, owner domain.UserID) (bool, error) {
	sessions, err := s.ListSessions(ctx, owner)
	if err != nil {
		return false, err
	}
	return domain.CanCreateSession(sessions), nil
}

// ─────────────────────────────────────────
// Commands
// ─────────────────────────────────────────

// CreateEmptySession creates a session with no turns, unless the owner's newest one is
// still empty.
func (s *Service) CreateEmptySession(ctx context.Context, owner domain.UserID) (*domain.Session, error) {
	const op = "conversation.create_empty"
	if err := requireOwner(op, owner); err != nil {
		return nil, err
	}
	log := ownerLogger(ctx, owner)

	mu := s.ownerLock(owner)
	mu.Lock()
	defer mu.Unlock()

	ok, err := s.CanCreateSession(ctx, owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Info().Msg("session creation refused: latest session is still empty")
		return nil, domain.E(domain.KindPolicyViolation, op, "the latest session has no turns yet")
	}

	sess, err := s.store.Create(ctx, owner, "")
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		return nil, err
	}
	log.Info().Str("session_id", string(sess.ID)).Msg("session created")

	s.publish(ctx, domain.EventSessionCreated, owner, sess.ID, sess)
	return sess, nil
}

type AskInput struct {
	OwnerID   domain.UserID
	SessionID domain.SessionID // empty starts a new session titled from the question
	Question  string
}

type AskOutput struct {
	Session *domain.Session
	// Retried is set when the question was already pending and its turn was reused.
	Retried bool
}

// Ask records the question, asks the gateway and records the answer.
//
// The question is persisted on a context detached from the caller, so a disconnect never
// loses it. If the gateway fails, the returned *domain.Error carries the session with its
// dangling question; asking the same question again reuses that turn.
func (s *Service) Ask(ctx context.Context, in AskInput) (*AskOutput, error) {
	const op = "conversation.ask"

	if err := requireOwner(op, in.OwnerID); err != nil {
		return nil, err
	}
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, &domain.Error{Kind: domain.KindInvalidArgument, Op: op, SessionID: in.SessionID, Msg: "question is empty"}
	}

	log := ownerLogger(ctx, in.OwnerID)
	persistCtx := context.WithoutCancel(ctx)

	id := in.SessionID
	if id == "" {
		sess, err := s.store.Create(persistCtx, in.OwnerID, domain.TitleFrom(question))
		if err != nil {
			log.Error().Err(err).Msg("failed to create session for question")
			return nil, err
		}
		id = sess.ID
		log.Info().Str("session_id", string(id)).Msg("session created from question")
		s.publish(persistCtx, domain.EventSessionCreated, in.OwnerID, id, sess)
	}
	log = log.With().Str("session_id", string(id)).Logger()

	pending, retried, err := s.recordQuestion(persistCtx, in.OwnerID, id, question)
	if err != nil {
		log.Warn().Err(err).Msg("failed to record question")
		return nil, err
	}
	if retried {
		log.Info().Msg("retrying pending question")
	} else {
		s.publish(persistCtx, domain.EventSessionUpdated, in.OwnerID, id, pending)
	}

	answer, err := s.gateway.Generate(ctx, question)
	if err != nil {
		kind := gatewayKind(err)
		log.Warn().Err(err).Str("kind", string(kind)).Msg("answer generation failed; question left pending")
		return nil, &domain.Error{
			Kind:      kind,
			Op:        op,
			SessionID: id,
			Session:   pending,
			Msg:       "answer generation failed",
			Err:       err,
		}
	}

	final, err := s.store.Append(persistCtx, in.OwnerID, id, domain.Turn{Role: domain.RoleAssistant, Text: answer})
	if domain.KindOf(err) == domain.KindConflict {
		// a concurrent retry of the same question settled the session first
		log.Info().Msg("question already answered by a concurrent request")
		current, gerr := s.store.Get(persistCtx, in.OwnerID, id)
		if gerr != nil {
			return nil, gerr
		}
		return &AskOutput{Session: current, Retried: retried}, nil
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to record answer")
		return nil, err
	}

	log.Info().Int("turns", len(final.Turns)).Msg("question answered")
	s.publish(persistCtx, domain.EventSessionUpdated, in.OwnerID, id, final)
	return &AskOutput{Session: final, Retried: retried}, nil
}

// gatewayKind narrows a gateway failure to the two upstream kinds.
func gatewayKind(err error) domain.Kind {
	switch domain.KindOf(err) {
	case domain.KindUpstreamUnavailable:
		return domain.KindUpstreamUnavailable
	case domain.KindUpstreamError:
		return domain.KindUpstreamError
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.KindUpstreamUnavailable
	}
	return domain.KindUpstreamError
}

// recordQuestion appends the user turn. When the session already waits on exactly this
// question, the dangling turn is reused instead.
func (s *Service) recordQuestion(ctx context.Context, owner domain.UserID, id domain.SessionID, question string) (*domain.Session, bool, error) {
	sess, err := s.store.Append(ctx, owner, id, domain.Turn{Role: domain.RoleUser, Text: question})
	if err == nil {
		return sess, false, nil
	}
	if domain.KindOf(err) != domain.KindConflict {
		return nil, false, err
	}

	current, gerr := s.store.Get(ctx, owner, id)
	if gerr != nil {
		return nil, false, gerr
	}
	if pending, ok := current.PendingQuestion(); ok && strings.TrimSpace(pending) == question {
		return current, true, nil
	}
	return nil, false, &domain.Error{
		Kind:      domain.KindConflict,
		Op:        "conversation.ask",
		SessionID: id,
		Session:   current,
		Msg:       "session is awaiting an answer to a different question; retry it or delete the session",
		Err:       err,
	}
}

func (s *Service) RenameSession(ctx context.Context, owner domain.UserID, id domain.SessionID, title string) (*domain.Session, error) {
	if err := requireOwner("conversation.rename", owner); err != nil {
		return nil, err
	}
	sess, err := s.store.Rename(ctx, owner, id, title)
	if err != nil {
		return nil, err
	}
	log := ownerLogger(ctx, owner)
	log.Info().Str("session_id", string(id)).Msg("session renamed")
	s.publish(ctx, domain.EventSessionUpdated, owner, id, sess)
	return sess, nil
}

func (s *Service) DeleteSession(ctx context.Context, owner domain.UserID, id domain.SessionID) error {
	if err := requireOwner("conversation.delete", owner); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, owner, id); err != nil {
		return err
	}
	log := ownerLogger(ctx, owner)
	log.Info().Str("session_id", string(id)).Msg("session deleted")
	s.publish(ctx, domain.EventSessionDeleted, owner, id, nil)
	return nil
}
