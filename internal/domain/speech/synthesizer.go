package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	platformerrors "narrator-server/internal/platform/errors"
	"narrator-server/internal/platform/logging"
	"narrator-server/internal/platform/observability"
)

const (
	// MimeTypeMP3 is the only audio format produced.
	MimeTypeMP3 = "audio/mpeg"

	maxAudioBytes = 32 << 20
)

// Audio is one synthesized utterance.
type Audio struct {
	Data     []byte
	MimeType string
}

// Backend turns text into an encoded audio stream.
type Backend interface {
	Name() string
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// Synthesizer reads a backend's stream fully so the caller can set headers
// before any byte reaches the client.
type Synthesizer struct {
	backend Backend
	logger  *logging.Logger
}

// NewSynthesizer wraps backend.
func NewSynthesizer(backend Backend, logger *logging.Logger) *Synthesizer {
	return &Synthesizer{backend: backend, logger: logger}
}

// Synthesize speaks text as a single utterance.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*Audio, error) {
	op := "speech." + s.backend.Name()
	if strings.TrimSpace(text) == "" {
		return nil, platformerrors.New(platformerrors.KindUpstream, op, "nothing to synthesize")
	}

	ctx, end := observability.StartSpan(ctx, "speech", s.backend.Name())
	data, err := s.read(ctx, text)
	end(err)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindUpstream, op, "speech request failed", err)
	}

	s.logger.DebugTag("Speech", "audio ready: bytes=%d", len(data))
	observability.RecordMetric(ctx, "speech.audio_bytes", float64(len(data)), nil)
	return &Audio{Data: data, MimeType: MimeTypeMP3}, nil
}

func (s *Synthesizer) read(ctx context.Context, text string) ([]byte, error) {
	stream, err := s.backend.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	data, err := io.ReadAll(io.LimitReader(stream, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("audio exceeds %d bytes", maxAudioBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("empty audio response")
	}
	return data, nil
}
