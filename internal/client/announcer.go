package client

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"go.uber.org/zap"
)

// Announcer receives every state change, like a polite live region.
type Announcer interface {
	Announce(State)
}

// AnnouncerFunc adapts a function.
type AnnouncerFunc func(State)

func (f AnnouncerFunc) Announce(s State) { f(s) }

// TextAnnouncer writes one line per state change.
type TextAnnouncer struct {
	mu     sync.Mutex
	w      io.Writer
	logger *zap.Logger
}

// NewTextAnnouncer writes to w.
func NewTextAnnouncer(w io.Writer, logger *zap.Logger) *TextAnnouncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextAnnouncer{w: w, logger: logger}
}

func (a *TextAnnouncer) Announce(s State) {
	line := a.line(s)
	if line == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintln(a.w, line)
}

func (a *TextAnnouncer) line(s State) string {
	switch s.Status {
	case StatusUploading:
		return "Uploading image..."
	case StatusProcessing:
		return "Generating description and audio..."
	case StatusDone:
		msg := "Description ready"
		if s.Audio != nil {
			if d, err := AudioDuration(s.Audio.Path()); err == nil {
				msg += fmt.Sprintf(" (audio %s)", d.Round(100*time.Millisecond))
			} else {
				a.logger.Debug("audio duration unavailable", zap.Error(err))
			}
		}
		if s.Description != "" {
			msg += ": " + s.Description
		}
		return msg
	case StatusError:
		return "Error: " + s.Message
	default:
		return ""
	}
}

// AudioDuration decodes an MP3 file's header stream to compute its length.
func AudioDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, fmt.Errorf("decode mp3: %w", err)
	}
	rate := dec.SampleRate()
	if rate <= 0 || dec.Length() <= 0 {
		return 0, fmt.Errorf("unknown mp3 length")
	}
	// Decoded output is 16-bit stereo: four bytes per sample.
	samples := dec.Length() / 4
	return time.Duration(samples) * time.Second / time.Duration(rate), nil
}
