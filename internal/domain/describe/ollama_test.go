package describe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narrator-server/internal/platform/config"
)

func TestOllamaBackend(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = io.WriteString(w, `{"model":"llava","message":{"role":"assistant","content":"A bowl of fruit."},"done":true}`)
	}))
	defer srv.Close()

	b := NewOllamaBackend(OllamaConfig{ModelName: "llava", BaseURL: srv.URL + "/"}, nil)
	content, err := b.Describe(context.Background(), testDataURL)
	require.NoError(t, err)
	assert.Equal(t, PlainText("A bowl of fruit."), content)

	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, []string{"iVBORw0KGgo="}, got.Messages[1].Images)
}

func TestOllamaBackendErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	b := NewOllamaBackend(OllamaConfig{ModelName: "missing", BaseURL: srv.URL}, nil)
	_, err := b.Describe(context.Background(), testDataURL)
	assert.Error(t, err)

	_, err = b.Describe(context.Background(), "not-a-data-url")
	assert.Error(t, err)
}

func TestOllamaBackendHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewOllamaBackend(OllamaConfig{BaseURL: srv.URL}, nil).Describe(ctx, testDataURL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewBackend(t *testing.T) {
	cfg := config.DefaultConfig().Vision
	cfg.APIKey = "k"
	b, err := NewBackend(cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai", b.Name())

	cfg.Type = "ollama"
	b, err = NewBackend(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ollama", b.Name())

	cfg.Type = "gemini"
	_, err = NewBackend(cfg)
	assert.Error(t, err)
}
