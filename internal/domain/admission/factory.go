package admission

import (
	"context"

	"narrator-server/internal/domain/admission/store"
	"narrator-server/internal/platform/config"
	platformerrors "narrator-server/internal/platform/errors"
	"narrator-server/internal/platform/logging"
)

// NewFromConfig builds the gate, its token bucket store and the hosting
// classifier from configuration. Bot verification uses the system resolver.
func NewFromConfig(cfg config.AdmissionConfig, logger *logging.Logger) (*Gate, error) {
	hosting, err := NewHostingClassifier(cfg.HostingIP.Ranges)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindConfig, "admission.hosting", "invalid hosting range", err)
	}
	if cfg.HostingIP.RangesFile != "" {
		if err := hosting.LoadFile(cfg.HostingIP.RangesFile); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "admission.hosting", "load hosting ranges file", err)
		}
	}

	st, err := store.New(store.Config{
		Driver: cfg.Store.Type,
		Bucket: store.Bucket{
			Capacity:   cfg.TokenBucket.Capacity,
			RefillRate: cfg.TokenBucket.RefillRate,
			Interval:   cfg.TokenBucket.Interval,
		},
		Memory: &store.MemoryConfig{GCInterval: cfg.Store.GCInterval},
		Redis: &store.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Username: cfg.Store.Redis.Username,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		},
	})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "admission.store", "create token bucket store", err)
	}

	gate, err := NewGate(Options{
		Enabled:         cfg.Enabled,
		FailOpen:        cfg.FailOpen,
		DenyHostingIP:   cfg.DenyHostingIP,
		DenySpoofed:     cfg.DenySpoofed,
		ShieldMode:      Mode(cfg.Shield.Mode),
		BotMode:         Mode(cfg.Bot.Mode),
		BucketMode:      Mode(cfg.TokenBucket.Mode),
		Allow:           cfg.Bot.Allow,
		VerifyTimeout:   cfg.Bot.VerifyTimeout,
		Characteristics: cfg.TokenBucket.Characteristics,
	}, st, hosting, NewDNSVerifier(nil), logger)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	logger.InfoTag("Admission", "gate ready", map[string]any{
		"enabled":       cfg.Enabled,
		"store":         cfg.Store.Type,
		"capacity":      cfg.TokenBucket.Capacity,
		"refill_rate":   cfg.TokenBucket.RefillRate,
		"interval":      cfg.TokenBucket.Interval.String(),
		"hosting_rules": hosting.Len(),
	})
	return gate, nil
}
