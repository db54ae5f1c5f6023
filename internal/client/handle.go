package client

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// AudioHandle is a playable local copy of a response body. It holds a
// temporary file until Release.
type AudioHandle struct {
	path     string
	size     int64
	once     sync.Once
	released atomic.Bool
	onFree   func()
}

func newAudioHandle(dir string, data []byte, onFree func()) (*AudioHandle, error) {
	f, err := os.CreateTemp(dir, "narration-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("create audio file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close audio file: %w", err)
	}
	return &AudioHandle{path: f.Name(), size: int64(len(data)), onFree: onFree}, nil
}

// Path is the backing file. It is removed on Release.
func (h *AudioHandle) Path() string { return h.path }

// Size is the audio length in bytes.
func (h *AudioHandle) Size() int64 { return h.size }

// Released reports whether Release has run.
func (h *AudioHandle) Released() bool { return h.released.Load() }

// Open reads the audio.
func (h *AudioHandle) Open() (io.ReadCloser, error) {
	if h.Released() {
		return nil, fmt.Errorf("audio handle released")
	}
	return os.Open(h.path)
}

// Release frees the backing file. It is safe to call more than once.
func (h *AudioHandle) Release() {
	h.once.Do(func() {
		h.released.Store(true)
		_ = os.Remove(h.path)
		if h.onFree != nil {
			h.onFree()
		}
	})
}

// HandleSlot owns at most one published AudioHandle.
type HandleSlot struct {
	mu      sync.Mutex
	current *AudioHandle
	dir     string
	live    atomic.Int32
}

// NewHandleSlot stores audio files in dir, or the system temp dir if empty.
func NewHandleSlot(dir string) *HandleSlot {
	return &HandleSlot{dir: dir}
}

// Acquire creates an unpublished handle. The caller must either Swap it in
// or Release it.
func (s *HandleSlot) Acquire(data []byte) (*AudioHandle, error) {
	h, err := newAudioHandle(s.dir, data, func() { s.live.Add(-1) })
	if err != nil {
		return nil, err
	}
	s.live.Add(1)
	return h, nil
}

// Swap releases the current handle and then publishes h.
func (s *HandleSlot) Swap(h *AudioHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current != h {
		s.current.Release()
	}
	s.current = h
}

// Release frees the published handle, if any.
func (s *HandleSlot) Release() {
	s.Swap(nil)
}

// Current returns the published handle or nil.
func (s *HandleSlot) Current() *AudioHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Live counts handles acquired from this slot and not yet released.
func (s *HandleSlot) Live() int {
	return int(s.live.Load())
}
