package firestore

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

func TestStoreConformance(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	storetest.Run(t, func(t *testing.T) domain.SessionStore {
		s, err := NewStore(context.Background(), "chatlog-test", "sessions-"+uuid.NewString())
		require.NoError(t, err)
		return s
	})
}

func TestNewStoreRequiresProject(t *testing.T) {
	_, err := NewStore(context.Background(), "", "")
	require.Error(t, err)
}

func timeFixture() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestToDoc(t *testing.T) {
	sess := domain.NewSession("s1", "u1", "", timeFixture())
	require.NoError(t, sess.Apply(domain.Turn{Role: domain.RoleUser, Text: "q"}, timeFixture()))

	doc := toDoc(sess)
	require.Equal(t, "u1", doc.OwnerID)
	require.Equal(t, string(domain.StatusAwaitingAnswer), doc.Status)
	require.Len(t, doc.Turns, 1)
	require.Equal(t, "user", doc.Turns[0].Role)
}
