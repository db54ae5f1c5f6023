package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath names the variable that overrides the config file location.
	EnvConfigPath = "NARRATOR_CONFIG"
	// EnvOpenAIKey is the shared vision/speech provider credential.
	EnvOpenAIKey = "OPENAI_API_KEY"
	// EnvRedisPassword is the credential of the distributed rate-limit store.
	EnvRedisPassword = "NARRATOR_REDIS_PASSWORD"

	defaultConfigPath = "config.yaml"
)

// Loader reads configuration from .env, a YAML file and the environment.
type Loader struct {
	useDotEnv bool
	path      string
}

// NewLoader creates a loader for the default config location.
func NewLoader() *Loader {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = defaultConfigPath
	}
	return &Loader{
		useDotEnv: true,
		path:      path,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the config file path.
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// Result captures the loaded configuration and its origin.
type Result struct {
	Config *Config
	// Path is the file the config was read from, or "defaults".
	Path string
}

// Load merges the YAML file over DefaultConfig, applies environment
// fallbacks and validates the outcome.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// A missing .env is normal outside development.
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	origin := "defaults"

	raw, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal([]byte(ExpandEnv(string(raw))), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", l.path, err)
		}
		origin = l.path
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", l.path, err)
	}

	applyEnvFallbacks(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, err
	}
	return &Result{Config: cfg, Path: origin}, nil
}

func applyEnvFallbacks(cfg *Config) {
	if key := os.Getenv(EnvOpenAIKey); key != "" {
		if cfg.Vision.APIKey == "" {
			cfg.Vision.APIKey = key
		}
		if cfg.Speech.APIKey == "" {
			cfg.Speech.APIKey = key
		}
	}
	if pw := os.Getenv(EnvRedisPassword); pw != "" && cfg.Admission.Store.Redis.Password == "" {
		cfg.Admission.Store.Redis.Password = pw
	}
}

func (l *Loader) validate(cfg *Config) error {
	return Validate(cfg)
}

// Validate reports the first structural problem found in cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive, got %d", cfg.Upload.MaxFileSize)
	}

	switch strings.ToLower(cfg.Vision.Type) {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unsupported vision type: %q", cfg.Vision.Type)
	}
	if strings.ToLower(cfg.Speech.Type) != "openai" {
		return fmt.Errorf("unsupported speech type: %q", cfg.Speech.Type)
	}
	if !strings.EqualFold(cfg.Speech.Format, "mp3") {
		return fmt.Errorf("unsupported speech format: %q", cfg.Speech.Format)
	}

	adm := cfg.Admission
	for name, mode := range map[string]string{
		"shield":       adm.Shield.Mode,
		"bot":          adm.Bot.Mode,
		"token_bucket": adm.TokenBucket.Mode,
	} {
		if mode != ModeLive && mode != ModeDryRun {
			return fmt.Errorf("admission.%s.mode must be %s or %s, got %q", name, ModeLive, ModeDryRun, mode)
		}
	}
	tb := adm.TokenBucket
	if tb.Capacity <= 0 || tb.RefillRate <= 0 || tb.Interval <= 0 {
		return fmt.Errorf("token bucket requires positive capacity, refill_rate and interval")
	}

	switch adm.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if adm.Store.Redis.Addr == "" {
			return errors.New("admission.store.redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("unsupported admission store type: %q", adm.Store.Type)
	}
	return nil
}
