package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/PabloGalante/chatlog/internal/domain"
)

const (
	defaultPrefix = "chatlog"
	// maxTxRetries bounds the WATCH/MULTI loop of a single mutation.
	maxTxRetries = 32
)

// Store is a domain.SessionStore on Redis. Each session is one JSON value; an owner's
// sessions are indexed in a sorted set scored by creation time. Mutations are optimistic
// transactions that WATCH the session key, so only writers of the same session contend.
type Store struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
}

var _ domain.SessionStore = &Store{}

type Option func(*Store)

// WithPrefix namespaces every key. Tests use it for isolation.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.prefix = p
		}
	}
}

// WithClock replaces the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore connects to addr and checks the connection with PING.
func NewStore(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis session store: empty address")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis session store: ping %s", addr)
	}
	return NewStoreWithClient(client, opts...), nil
}

// NewStoreWithClient wraps an existing client. Close closes it.
func NewStoreWithClient(client *goredis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// ─────────────────────────────────────────
// Keys
// ─────────────────────────────────────────

func (s *Store) sessionKey(id domain.SessionID) string {
	return s.prefix + ":session:" + string(id)
}

func (s *Store) ownerKey(owner domain.UserID) string {
	return s.prefix + ":owner:" + string(owner) + ":sessions"
}

func score(t time.Time) float64 { return float64(t.UnixMicro()) }

func decode(raw []byte) (*domain.Session, error) {
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, errors.Wrap(err, "redis session store: decode session")
	}
	if sess.Turns == nil {
		sess.Turns = []domain.Turn{}
	}
	if sess.Status == "" {
		sess.Status = domain.StatusFromTurns(sess.Turns)
	}
	return &sess, nil
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

func (s *Store) Create(ctx context.Context, owner domain.UserID, title string) (*domain.Session, error) {
	if owner == "" {
		return nil, domain.E(domain.KindUnauthorized, "redis.create", "owner is required")
	}

	id := domain.SessionID(uuid.Must(uuid.NewV7()).String())
	sess := domain.NewSession(id, owner, title, s.now())
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, errors.Wrap(err, "redis session store: encode session")
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(id), raw, 0)
		pipe.ZAdd(ctx, s.ownerKey(owner), goredis.Z{Score: score(sess.CreatedAt), Member: string(id)})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "redis session store: create session")
	}
	return sess, nil
}

func (s *Store) Get(ctx context.Context, owner domain.UserID, id domain.SessionID) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if stderrors.Is(err, goredis.Nil) {
		return nil, domain.NotFound("redis.get", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis session store: get session")
	}
	sess, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if !sess.OwnedBy(owner) {
		return nil, domain.NotFound("redis.get", id)
	}
	return sess, nil
}

// watch runs fn in an optimistic transaction on the session key, retrying when another
// writer changed the key between WATCH and EXEC.
func (s *Store) watch(ctx context.Context, id domain.SessionID, fn func(tx *goredis.Tx) error) error {
	key := s.sessionKey(id)
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if stderrors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return &domain.Error{Kind: domain.KindConflict, Op: "redis.watch", SessionID: id, Msg: "too much contention on session"}
}

func (s *Store) loadOwned(ctx context.Context, tx *goredis.Tx, op string, owner domain.UserID, id domain.SessionID) (*domain.Session, error) {
	raw, err := tx.Get(ctx, s.sessionKey(id)).Bytes()
	if stderrors.Is(err, goredis.Nil) {
		return nil, domain.NotFound(op, id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis session store: get session")
	}
	sess, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if !sess.OwnedBy(owner) {
		return nil, domain.NotFound(op, id)
	}
	return sess, nil
}

func (s *Store) mutate(ctx context.Context, op string, owner domain.UserID, id domain.SessionID, fn func(*domain.Session) error) (*domain.Session, error) {
	var result *domain.Session
	err := s.watch(ctx, id, func(tx *goredis.Tx) error {
		sess, err := s.loadOwned(ctx, tx, op, owner, id)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		raw, err := json.Marshal(sess)
		if err != nil {
			return errors.Wrap(err, "redis session store: encode session")
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, s.sessionKey(id), raw, 0)
			return nil
		})
		if err != nil {
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
	return s.mutate(ctx, "redis.append", owner, id, func(sess *domain.Session) error {
		return sess.Apply(turn, s.now())
	})
}

func (s *Store) Rename(ctx context.Context, owner domain.UserID, id domain.SessionID, title string) (*domain.Session, error) {
	return s.mutate(ctx, "redis.rename", owner, id, func(sess *domain.Session) error {
		return sess.Rename(title, s.now())
	})
}

func (s *Store) Delete(ctx context.Context, owner domain.UserID, id domain.SessionID) error {
	const op = "redis.delete"
	return s.watch(ctx, id, func(tx *goredis.Tx) error {
		if _, err := s.loadOwned(ctx, tx, op, owner, id); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, s.sessionKey(id))
			pipe.ZRem(ctx, s.ownerKey(owner), string(id))
			return nil
		})
		return err
	})
}

func (s *Store) List(ctx context.Context, owner domain.UserID) ([]*domain.Session, error) {
	ids, err := s.client.ZRevRange(ctx, s.ownerKey(owner), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis session store: list index")
	}
	out := make([]*domain.Session, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(domain.SessionID(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis session store: load sessions")
	}
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// deleted between ZREVRANGE and MGET
			continue
		}
		sess, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		if sess.OwnedBy(owner) {
			out = append(out, sess)
		}
	}
	domain.SortNewestFirst(out)
	return out, nil
}
