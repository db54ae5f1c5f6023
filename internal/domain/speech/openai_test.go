package speech

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformerrors "narrator-server/internal/platform/errors"
	testhelpers "narrator-server/internal/platform/testing"
)

var fakeMP3 = []byte{0xFF, 0xFB, 0x90, 0x64, 0x00, 0x00, 0x00, 0x00}

func speechServer(t *testing.T, status int, body []byte, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		if captured != nil {
			_ = json.Unmarshal(raw, captured)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSynth(t *testing.T, srv *httptest.Server) *Synthesizer {
	t.Helper()
	b, err := NewOpenAIBackend(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key"})
	require.NoError(t, err)
	return NewSynthesizer(b, testhelpers.SetupTestLogger(t))
}

func TestSynthesize(t *testing.T) {
	var captured map[string]any
	srv := speechServer(t, http.StatusOK, fakeMP3, &captured)

	audio, err := newSynth(t, srv).Synthesize(context.Background(), "A red bicycle.")
	require.NoError(t, err)
	assert.Equal(t, fakeMP3, audio.Data)
	assert.Equal(t, MimeTypeMP3, audio.MimeType)

	assert.Equal(t, "tts-1", captured["model"])
	assert.Equal(t, "alloy", captured["voice"])
	assert.Equal(t, "mp3", captured["response_format"])
	assert.Equal(t, "A red bicycle.", captured["input"])
}

func TestSynthesizeFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   []byte
		text   string
	}{
		{"server error", http.StatusInternalServerError, []byte(`{"error":{"message":"boom"}}`), "hi"},
		{"empty audio", http.StatusOK, nil, "hi"},
		{"blank text", http.StatusOK, fakeMP3, "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := speechServer(t, tt.status, tt.body, nil)
			_, err := newSynth(t, srv).Synthesize(context.Background(), tt.text)
			require.Error(t, err)
			assert.True(t, platformerrors.IsKind(err, platformerrors.KindUpstream))
		})
	}
}
