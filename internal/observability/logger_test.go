package observability

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestWithFieldsAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "info")
	t.Cleanup(func() { Configure(os.Stdout, "info") })

	l := WithFields("subsystem", "events")
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"subsystem":"events"`)

	buf.Reset()
	ctx := WithRequestID(context.Background(), "req-1")
	require.Equal(t, "req-1", RequestID(ctx))
	LoggerFromContext(ctx).Info().Msg("scoped")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}

func TestWatermillInfoIsDebug(t *testing.T) {
	var buf bytes.Buffer
	w := NewWatermillLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	w.Info("Subscribing to topic", nil)
	assert.Empty(t, buf.String())

	w.Error("publish failed", errors.New("boom"), nil)
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"component":"watermill"`)

	buf.Reset()
	dbg := NewWatermillLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))
	dbg.Info("Subscribing to topic", nil)
	assert.Contains(t, buf.String(), `"level":"debug"`)
}
