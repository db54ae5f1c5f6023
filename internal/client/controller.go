package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DescribePath is the server endpoint the controller posts to.
	DescribePath = "/api/describe-image"
	// DescriptionHeader carries the percent-encoded description text.
	DescriptionHeader = "X-Description-Text"

	defaultMaxFileSize = 10 * 1024 * 1024
	maxAudioBytes      = 32 * 1024 * 1024
)

// ErrBusy is returned when a selection or reset arrives mid-request.
var ErrBusy = errors.New("client: request already in flight")

// Options configures a Controller.
type Options struct {
	// ServerURL is the server origin, e.g. http://localhost:8080.
	ServerURL   string
	HTTPClient  *http.Client
	UserAgent   string
	MaxFileSize int64
	// AudioDir holds audio temp files; empty means os.TempDir.
	AudioDir  string
	Announcer Announcer
	Logger    *zap.Logger
}

// Controller drives one image through upload, processing and playback
// state, holding at most one live audio handle.
type Controller struct {
	opts     Options
	endpoint string
	input    FileInput
	slot     *HandleSlot
	inFlight atomic.Bool

	mu    sync.RWMutex
	state State
}

// New validates the server URL and returns an idle controller.
func New(opts Options) (*Controller, error) {
	base, err := url.Parse(strings.TrimRight(opts.ServerURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", opts.ServerURL)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Announcer == nil {
		opts.Announcer = AnnouncerFunc(func(State) {})
	}
	return &Controller{
		opts:     opts,
		endpoint: base.String() + DescribePath,
		slot:     NewHandleSlot(opts.AudioDir),
		state:    State{Status: StatusIdle},
	}, nil
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Input exposes the file input, mostly for tests.
func (c *Controller) Input() *FileInput { return &c.input }

// Slot exposes the audio handle slot.
func (c *Controller) Slot() *HandleSlot { return c.slot }

func (c *Controller) transition(s State) State {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.opts.Logger.Debug("state change",
		zap.Stringer("status", s.Status),
		zap.String("message", s.Message))
	c.opts.Announcer.Announce(s)
	return s
}

// Select handles a file-selection change event. A selection equal to the
// input's current value is not a change and returns the current state.
func (c *Controller) Select(ctx context.Context, sel Selection) (State, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return c.State(), ErrBusy
	}
	defer c.inFlight.Store(false)

	if !c.input.Set(sel) {
		return c.State(), nil
	}
	// the same file must fire a change event next time
	defer c.input.Clear()

	c.transition(State{Status: StatusIdle})

	if msg := c.validate(sel); msg != "" {
		c.slot.Release()
		return c.transition(State{Status: StatusError, Message: msg}), nil
	}

	state, err := c.upload(ctx, sel)
	if err != nil {
		c.opts.Logger.Warn("describe request failed",
			zap.String("file", sel.Name), zap.Error(err))
		c.slot.Release()
		return c.transition(State{Status: StatusError, Message: MessageGeneric}), nil
	}
	return state, nil
}

func (c *Controller) validate(sel Selection) string {
	if !strings.HasPrefix(strings.ToLower(sel.MimeType), "image/") {
		return MessageNotImage
	}
	if sel.Size > c.opts.MaxFileSize {
		return TooLargeMessage(c.opts.MaxFileSize)
	}
	return ""
}

func (c *Controller) upload(ctx context.Context, sel Selection) (State, error) {
	c.transition(State{Status: StatusUploading})

	body, contentType, err := c.encode(sel)
	if err != nil {
		return State{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return State{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "audio/mpeg")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return State{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return State{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	c.transition(State{Status: StatusProcessing})

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return State{}, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return State{}, errors.New("empty audio response")
	}
	if len(data) > maxAudioBytes {
		return State{}, errors.New("audio response too large")
	}

	pending, err := c.slot.Acquire(data)
	if err != nil {
		return State{}, err
	}
	description, err := decodeDescription(resp.Header.Get(DescriptionHeader))
	if err != nil {
		pending.Release()
		return State{}, err
	}
	c.slot.Swap(pending)

	return c.transition(State{
		Status:      StatusDone,
		Description: description,
		Audio:       pending,
	}), nil
}

// encode builds the multipart body with the declared type on the file part.
func (c *Controller) encode(sel Selection) (io.Reader, string, error) {
	if sel.Open == nil {
		return nil, "", errors.New("selection has no content")
	}
	src, err := sel.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", sel.Name, err)
	}
	defer src.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, sel.Name))
	h.Set("Content-Type", sel.MimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	n, err := io.Copy(part, io.LimitReader(src, c.opts.MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", sel.Name, err)
	}
	if n > c.opts.MaxFileSize {
		return nil, "", fmt.Errorf("%s grew past the size limit", sel.Name)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func decodeDescription(header string) (string, error) {
	if header == "" {
		return "", nil
	}
	text, err := url.PathUnescape(header)
	if err != nil {
		return "", fmt.Errorf("decode description header: %w", err)
	}
	return text, nil
}

// Reset releases the audio and returns to Idle.
func (c *Controller) Reset() error {
	if !c.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.inFlight.Store(false)
	c.slot.Release()
	c.input.Clear()
	c.transition(State{Status: StatusIdle})
	return nil
}

// Close releases any live audio handle.
func (c *Controller) Close() {
	c.slot.Release()
}
