package config

import (
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Web       WebConfig       `yaml:"web"`
	Upload    UploadConfig    `yaml:"upload"`
	Vision    VisionConfig    `yaml:"vision"`
	Speech    SpeechConfig    `yaml:"speech"`
	Admission AdmissionConfig `yaml:"admission"`
}

type ServerConfig struct {
	IP              string        `yaml:"ip"`
	Port            int           `yaml:"port"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// WebConfig controls the optional static asset mount. Leave StaticDir empty
// to serve the API only.
type WebConfig struct {
	StaticDir    string   `yaml:"static_dir"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// UploadConfig bounds what the payload extractor accepts.
type UploadConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`
	DeepScan       bool     `yaml:"deep_scan"`
	MaxPixels      int64    `yaml:"max_pixels"`
	MaxWidth       int      `yaml:"max_width"`
	MaxHeight      int      `yaml:"max_height"`
	AllowedFormats []string `yaml:"allowed_formats"`
}

type VisionConfig struct {
	Type        string        `yaml:"type"`
	ModelName   string        `yaml:"model_name"`
	BaseURL     string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type SpeechConfig struct {
	Type      string        `yaml:"type"`
	ModelName string        `yaml:"model_name"`
	Voice     string        `yaml:"voice"`
	Format    string        `yaml:"format"`
	BaseURL   string        `yaml:"url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
}

type AdmissionConfig struct {
	Enabled       bool              `yaml:"enabled"`
	FailOpen      bool              `yaml:"fail_open"`
	DenyHostingIP bool              `yaml:"deny_hosting_ip"`
	DenySpoofed   bool              `yaml:"deny_spoofed"`
	Shield        ShieldConfig      `yaml:"shield"`
	Bot           BotConfig         `yaml:"bot"`
	TokenBucket   TokenBucketConfig `yaml:"token_bucket"`
	HostingIP     HostingIPConfig   `yaml:"hosting_ip"`
	Store         StoreConfig       `yaml:"store"`
}

type ShieldConfig struct {
	Mode string `yaml:"mode"`
}

type BotConfig struct {
	Mode          string        `yaml:"mode"`
	Allow         []string      `yaml:"allow"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
}

type TokenBucketConfig struct {
	Mode            string        `yaml:"mode"`
	Capacity        int           `yaml:"capacity"`
	RefillRate      int           `yaml:"refill_rate"`
	Interval        time.Duration `yaml:"interval"`
	Characteristics []string      `yaml:"characteristics"`
}

type HostingIPConfig struct {
	Ranges     []string `yaml:"ranges"`
	RangesFile string   `yaml:"ranges_file"`
}

type StoreConfig struct {
	Type       string           `yaml:"type"`
	GCInterval time.Duration    `yaml:"gc_interval"`
	Redis      RedisStoreConfig `yaml:"redis"`
}

type RedisStoreConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}
