package observability

import (
	"context"
	"log/slog"
	"sync"
)

// Config captures observability toggles.
type Config struct {
	Enabled bool
}

// ShutdownFunc detaches the hooks installed by Setup.
type ShutdownFunc func(context.Context) error

var (
	mu      sync.RWMutex
	sink    *slog.Logger
	current Config
)

func currentLogger() (*slog.Logger, Config) {
	mu.RLock()
	defer mu.RUnlock()
	return sink, current
}

// Setup routes spans and metric datapoints to logger. When cfg.Enabled is
// false every hook becomes a no-op.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	mu.Lock()
	sink, current = logger, cfg
	mu.Unlock()

	if logger != nil {
		logger.LogAttrs(ctx, slog.LevelInfo, "[Observability] hooks installed", slog.Bool("enabled", cfg.Enabled))
	}
	return func(context.Context) error {
		mu.Lock()
		sink, current = nil, Config{}
		mu.Unlock()
		return nil
	}, nil
}
