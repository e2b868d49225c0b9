package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/PabloGalante/chatlog/internal/domain"
)

// Store is a domain.SessionStore on a local SQLite file. Every mutation runs in a
// BEGIN IMMEDIATE transaction, so writers of the same session serialize on the database lock.
// Get and List use a second pool with deferred transactions and never take that lock.
type Store struct {
	db     *sql.DB
	readDB *sql.DB
	now    func() time.Time
}

var _ domain.SessionStore = &Store{}

// DSNForFile returns a DSN with WAL, a busy timeout, foreign keys and immediate transactions.
func DSNForFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("sqlite session store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path), nil
}

func NewStore(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite session store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite session store: open")
	}
	s := &Store{db: db, readDB: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if rdsn := readDSN(dsn); rdsn != dsn {
		readDB, err := sql.Open("sqlite3", rdsn)
		if err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "sqlite session store: open read pool")
		}
		s.readDB = readDB
	}
	return s, nil
}

// readDSN swaps immediate transactions for deferred ones.
func readDSN(dsn string) string {
	return strings.Replace(dsn, "_txlock=immediate", "_txlock=deferred", 1)
}

// WithClock replaces the store's time source. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var readErr error
	if s.readDB != nil && s.readDB != s.db {
		readErr = s.readDB.Close()
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	return readErr
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			custom_title INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at_us INTEGER NOT NULL,
			updated_at_us INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at_us INTEGER NOT NULL,
			PRIMARY KEY (session_id, ordinal),
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_by_owner ON sessions(owner_id, created_at_us DESC, id DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite session store: migrate")
		}
	}
	return nil
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }
func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func (s *Store) Create(ctx context.Context, owner domain.UserID, title string) (*domain.Session, error) {
	if owner == "" {
		return nil, domain.E(domain.KindUnauthorized, "sqlite.create", "owner is required")
	}

	id := domain.SessionID(uuid.Must(uuid.NewV7()).String())
	sess := domain.NewSession(id, owner, title, s.now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, title, custom_title, status, created_at_us, updated_at_us)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(sess.ID), string(sess.OwnerID), sess.Title, sess.CustomTitle, string(sess.Status),
		toMicros(sess.CreatedAt), toMicros(sess.UpdatedAt),
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite session store: insert session")
	}
	return sess, nil
}

// ─────────────────────────────────────────
// Reads
// ─────────────────────────────────────────

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// load returns nil, nil when the row is missing or owned by someone else.
func load(ctx context.Context, q querier, owner domain.UserID, id domain.SessionID) (*domain.Session, error) {
	var (
		sess                 domain.Session
		status               string
		custom               bool
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT owner_id, title, custom_title, status, created_at_us, updated_at_us
		FROM sessions WHERE id = ? AND owner_id = ?`,
		string(id), string(owner),
	).Scan(&sess.OwnerID, &sess.Title, &custom, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite session store: select session")
	}
	sess.ID = id
	sess.CustomTitle = custom
	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt = fromMicros(createdAt)
	sess.UpdatedAt = fromMicros(updatedAt)

	turns, err := loadTurns(ctx, q, id)
	if err != nil {
		return nil, err
	}
	sess.Turns = turns
	if sess.Status == "" {
		sess.Status = domain.StatusFromTurns(turns)
	}
	return &sess, nil
}

func loadTurns(ctx context.Context, q querier, id domain.SessionID) ([]domain.Turn, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT role, text, created_at_us FROM turns WHERE session_id = ? ORDER BY ordinal ASC`,
		string(id),
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite session store: select turns")
	}
	defer func() { _ = rows.Close() }()

	turns := make([]domain.Turn, 0)
	for rows.Next() {
		var (
			role string
			t    domain.Turn
			at   int64
		)
		if err := rows.Scan(&role, &t.Text, &at); err != nil {
			return nil, errors.Wrap(err, "sqlite session store: scan turn")
		}
		t.Role = domain.Role(role)
		t.CreatedAt = fromMicros(at)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite session store: iterate turns")
	}
	return turns, nil
}

// ─────────────────────────────────────────
// Mutations
// ─────────────────────────────────────────

// mutate loads the session inside an immediate transaction, applies fn and writes
// the row plus any turns fn appended.
func (s *Store) mutate(ctx context.Context, op string, owner domain.UserID, id domain.SessionID, fn func(*domain.Session) error) (*domain.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite session store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := load(ctx, tx, owner, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, domain.NotFound(op, id)
	}

	before := len(sess.Turns)
	if err := fn(sess); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET title = ?, custom_title = ?, status = ?, updated_at_us = ?
		WHERE id = ?`,
		sess.Title, sess.CustomTitle, string(sess.Status), toMicros(sess.UpdatedAt), string(sess.ID),
	); err != nil {
		return nil, errors.Wrap(err, "sqlite session store: update session")
	}
	for i := before; i < len(sess.Turns); i++ {
		t := sess.Turns[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (session_id, ordinal, role, text, created_at_us) VALUES (?, ?, ?, ?, ?)`,
			string(sess.ID), i, string(t.Role), t.Text, toMicros(t.CreatedAt),
		); err != nil {
			return nil, errors.Wrap(err, "sqlite session store: insert turn")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "sqlite session store: commit")
	}
	return sess, nil
}

func (s *Store) Get(ctx context.Context, owner domain.UserID, id domain.SessionID) (*domain.Session, error) {
	// row and turns must come from the same snapshot
	tx, err := s.readDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite session store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := load(ctx, tx, owner, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, domain.NotFound("sqlite.get", id)
	}
	return sess, nil
}

func (s *Store) Append(ctx context.Context, owner domain.UserID, id domain.SessionID, turn domain.Turn) (*domain.Session, error) {
	return s.mutate(ctx, "sqlite.append", owner, id, func(sess *domain.Session) error {
		return sess.Apply(turn, s.now())
	})
}

func (s *Store) Rename(ctx context.Context, owner domain.UserID, id domain.SessionID, title string) (*domain.Session, error) {
	return s.mutate(ctx, "sqlite.rename", owner, id, func(sess *domain.Session) error {
		return sess.Rename(title, s.now())
	})
}

func (s *Store) Delete(ctx context.Context, owner domain.UserID, id domain.SessionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND owner_id = ?`, string(id), string(owner))
	if err != nil {
		return errors.Wrap(err, "sqlite session store: delete session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "sqlite session store: delete rows affected")
	}
	if n == 0 {
		return domain.NotFound("sqlite.delete", id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, owner domain.UserID) ([]*domain.Session, error) {
	tx, err := s.readDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite session store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, title, custom_title, status, created_at_us, updated_at_us
		FROM sessions WHERE owner_id = ?
		ORDER BY created_at_us DESC, id DESC`,
		string(owner),
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite session store: list sessions")
	}

	out := make([]*domain.Session, 0)
	byID := map[domain.SessionID]*domain.Session{}
	for rows.Next() {
		var (
			sess                 domain.Session
			id, status           string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&id, &sess.Title, &sess.CustomTitle, &status, &createdAt, &updatedAt); err != nil {
			_ = rows.Close()
			return nil, errors.Wrap(err, "sqlite session store: scan session")
		}
		sess.ID = domain.SessionID(id)
		sess.OwnerID = owner
		sess.Status = domain.SessionStatus(status)
		sess.CreatedAt = fromMicros(createdAt)
		sess.UpdatedAt = fromMicros(updatedAt)
		sess.Turns = []domain.Turn{}
		out = append(out, &sess)
		byID[sess.ID] = &sess
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, errors.Wrap(err, "sqlite session store: iterate sessions")
	}
	_ = rows.Close()

	turnRows, err := tx.QueryContext(ctx, `
		SELECT t.session_id, t.role, t.text, t.created_at_us
		FROM turns t JOIN sessions s ON s.id = t.session_id
		WHERE s.owner_id = ?
		ORDER BY t.session_id, t.ordinal ASC`,
		string(owner),
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite session store: list turns")
	}
	defer func() { _ = turnRows.Close() }()
	for turnRows.Next() {
		var (
			sid, role string
			t         domain.Turn
			at        int64
		)
		if err := turnRows.Scan(&sid, &role, &t.Text, &at); err != nil {
			return nil, errors.Wrap(err, "sqlite session store: scan turn")
		}
		t.Role = domain.Role(role)
		t.CreatedAt = fromMicros(at)
		if sess, ok := byID[domain.SessionID(sid)]; ok {
			sess.Turns = append(sess.Turns, t)
		}
	}
	if err := turnRows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite session store: iterate turns")
	}

	for _, sess := range out {
		if sess.Status == "" {
			sess.Status = domain.StatusFromTurns(sess.Turns)
		}
	}
	return out, nil
}
