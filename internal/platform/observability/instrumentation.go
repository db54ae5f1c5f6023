package observability

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	spanKey
)

// WithRequestID tags ctx so spans and metrics started under it carry id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the id attached by WithRequestID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

func spanName(component, operation string) string {
	return component + "." + operation
}

func baseAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if id := RequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if parent, ok := ctx.Value(spanKey).(string); ok {
		attrs = append(attrs, slog.String("parent", parent))
	}
	return attrs
}

// StartSpan logs the start of component.operation and returns a func that
// logs its end. Nested spans record their parent.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return ctx, func(error) {}
	}

	name := spanName(component, operation)
	attrs := append(baseAttrs(ctx), slog.String("span", name))
	logger.LogAttrs(ctx, slog.LevelDebug, "span start", attrs...)

	start := time.Now()
	child := context.WithValue(ctx, spanKey, name)
	return child, func(err error) {
		end := append(attrs, slog.Duration("duration", time.Since(start)))
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
			end = append(end, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "span end", end...)
	}
}

// RecordMetric emits one datapoint. Labels are written in key order.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return
	}

	attrs := append(baseAttrs(ctx),
		slog.String("metric", name),
		slog.Float64("value", value),
	)
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, labels[k]))
	}

	logger.LogAttrs(ctx, slog.LevelDebug, "metric", attrs...)
}
