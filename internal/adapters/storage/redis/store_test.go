package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/chatlog/internal/adapters/storage/storetest"
	"github.com/PabloGalante/chatlog/internal/domain"
)

func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("CHATLOG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHATLOG_TEST_REDIS_ADDR not set")
	}
	return addr
}

func TestStoreConformance(t *testing.T) {
	addr := redisAddr(t)
	storetest.Run(t, func(t *testing.T) domain.SessionStore {
		s, err := NewStore(context.Background(), addr, WithPrefix("chatlog-test-"+uuid.NewString()))
		require.NoError(t, err)
		return s
	})
}

func TestNewStoreRejectsEmptyAddress(t *testing.T) {
	_, err := NewStore(context.Background(), " ")
	require.Error(t, err)
}

func TestKeysUsePrefix(t *testing.T) {
	s := NewStoreWithClient(nil, WithPrefix("p"))
	require.Equal(t, "p:session:abc", s.sessionKey("abc"))
	require.Equal(t, "p:owner:u1:sessions", s.ownerKey("u1"))

	s = NewStoreWithClient(nil, WithPrefix("  "))
	require.Equal(t, "chatlog:session:abc", s.sessionKey("abc"))
}

func TestStalledClockStillAdvancesUpdatedAt(t *testing.T) {
	addr := redisAddr(t)
	ctx := context.Background()
	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	s, err := NewStore(ctx, addr,
		WithPrefix("chatlog-test-"+uuid.NewString()),
		WithClock(func() time.Time { return frozen }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	sess, err := s.Create(ctx, "u1", "")
	require.NoError(t, err)
	a, err := s.Append(ctx, "u1", sess.ID, domain.Turn{Role: domain.RoleUser, Text: "q"})
	require.NoError(t, err)
	b, err := s.Rename(ctx, "u1", sess.ID, "t")
	require.NoError(t, err)

	require.True(t, a.UpdatedAt.After(sess.UpdatedAt))
	require.True(t, b.UpdatedAt.After(a.UpdatedAt))
	require.True(t, frozen.Equal(b.CreatedAt))
}

func TestWithClockSetsTimeSource(t *testing.T) {
	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStoreWithClient(nil, WithClock(func() time.Time { return frozen }))
	require.True(t, frozen.Equal(s.now()))
}
