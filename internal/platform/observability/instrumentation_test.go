package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, enabled bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	shutdown, err := Setup(context.Background(), Config{Enabled: enabled}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })
	buf.Reset()
	return &buf
}

func TestSpanAndMetricWhenEnabled(t *testing.T) {
	buf := setup(t, true)
	assert.True(t, Enabled())

	ctx := WithRequestID(context.Background(), "req-42")
	ctx, endOuter := StartSpan(ctx, "narration", "narrate")
	_, endInner := StartSpan(ctx, "narration", "describe")
	endInner(errors.New("upstream timeout"))
	endOuter(nil)
	RecordMetric(ctx, "narration.audio_bytes", 1024, map[string]string{"format": "mp3", "backend": "openai"})

	out := buf.String()
	assert.Contains(t, out, "span=narration.describe")
	assert.Contains(t, out, "parent=narration.narrate")
	assert.Contains(t, out, "request_id=req-42")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "upstream timeout")
	assert.Contains(t, out, "metric=narration.audio_bytes")
	assert.Less(t, strings.Index(out, "backend=openai"), strings.Index(out, "format=mp3"))
}

func TestHooksAreNoopWhenDisabled(t *testing.T) {
	buf := setup(t, false)

	ctx, end := StartSpan(context.Background(), "narration", "speech")
	end(nil)
	RecordMetric(ctx, "http.requests", 1, nil)

	assert.Empty(t, buf.String())
	assert.False(t, Enabled())
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Equal(t, ctx, WithRequestID(ctx, ""))
	assert.Equal(t, "abc", RequestID(WithRequestID(ctx, "abc")))
}
