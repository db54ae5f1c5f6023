package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// Console receives the human readable stream. Defaults to os.Stdout.
	Console io.Writer
}

// Logger writes every record twice: JSON lines to the log file and a tagged
// text line to the console.
type Logger struct {
	level    slog.Level
	file     *os.File
	json     *slog.Logger
	text     *slog.Logger
	combined *slog.Logger
	mu       sync.RWMutex
}

// New creates a Logger. An empty Dir disables the file sink.
func New(cfg Config) (*Logger, error) {
	level := ParseLevel(cfg.Level)
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{level: level}
	handlers := []slog.Handler{&consoleHandler{writer: console, level: level}}
	l.text = slog.New(handlers[0])

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		name := cfg.Filename
		if name == "" {
			name = "server.log"
		}
		file, err := os.OpenFile(filepath.Join(cfg.Dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = file
		jsonHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
		l.json = slog.New(jsonHandler)
		handlers = append(handlers, jsonHandler)
	}

	l.combined = slog.New(fanoutHandler(handlers))
	return l, nil
}

// ParseLevel maps a config level name onto slog. Unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Slog exposes the structured logger that feeds both sinks.
func (l *Logger) Slog() *slog.Logger {
	return l.combined
}

// Close flushes and closes the file sink.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.json = nil
	return err
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if l == nil || level < l.level {
		return
	}

	var attrs []slog.Attr
	if len(args) > 0 && strings.Contains(msg, "%") {
		msg = fmt.Sprintf(msg, args...)
	} else if len(args) > 0 {
		attrs = fieldsToAttrs(args[0])
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	ctx := context.Background()
	if l.json != nil {
		l.json.LogAttrs(ctx, level, msg, attrs...)
	}
	l.text.LogAttrs(ctx, level, msg, attrs...)
}

func fieldsToAttrs(fields any) []slog.Attr {
	m, ok := fields.(map[string]any)
	if !ok {
		return []slog.Attr{slog.Any("fields", fields)}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, m[k]))
	}
	return attrs
}

func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// FormatLog prefixes message with a single tag: FormatLog("HTTP", "ready") -> "[HTTP] ready".
// Messages that already start with "[" are returned unchanged.
func FormatLog(tag, message string) string {
	tag = strings.TrimSpace(tag)
	message = strings.TrimSpace(message)
	if tag == "" || strings.HasPrefix(message, "[") {
		return message
	}
	return fmt.Sprintf("[%s] %s", tag, message)
}

func (l *Logger) DebugTag(tag, msg string, args ...any) { l.Debug(FormatLog(tag, msg), args...) }
func (l *Logger) InfoTag(tag, msg string, args ...any)  { l.Info(FormatLog(tag, msg), args...) }
func (l *Logger) WarnTag(tag, msg string, args ...any)  { l.Warn(FormatLog(tag, msg), args...) }
func (l *Logger) ErrorTag(tag, msg string, args ...any) { l.Error(FormatLog(tag, msg), args...) }

const (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m"
	colorDebug = "\x1b[36m"
	colorInfo  = "\x1b[32m"
	colorWarn  = "\x1b[33m"
	colorError = "\x1b[31m"
	colorTag   = "\x1b[95m"
)

// consoleHandler renders "[time] [LEVEL] message {k=v}" lines, or
// "[time] [TAG] message" when the message carries a tag prefix.
type consoleHandler struct {
	writer io.Writer
	level  slog.Level
	mu     sync.Mutex
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(colorTime + "[" + r.Time.Format("2006-01-02 15:04:05.000") + "]" + colorReset + " ")

	if strings.HasPrefix(r.Message, "[") && r.Level < slog.LevelWarn {
		b.WriteString(colorTag + r.Message + colorReset)
	} else {
		levelColor := colorInfo
		switch {
		case r.Level >= slog.LevelError:
			levelColor = colorError
		case r.Level >= slog.LevelWarn:
			levelColor = colorWarn
		case r.Level < slog.LevelInfo:
			levelColor = colorDebug
		}
		b.WriteString(levelColor + "[" + r.Level.String() + "]" + colorReset + " " + r.Message)
	}

	if r.NumAttrs() > 0 {
		b.WriteString(" {")
		r.Attrs(func(a slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
			return true
		})
		b.WriteString(" }")
	}
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *consoleHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *consoleHandler) WithGroup(string) slog.Handler      { return h }

type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanoutHandler, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	next := make(fanoutHandler, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}
