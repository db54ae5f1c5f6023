package config

import "time"

const (
	// MaxUploadSize is the largest image accepted by server and client alike.
	MaxUploadSize = 10 * 1024 * 1024

	ModeLive   = "LIVE"
	ModeDryRun = "DRY_RUN"

	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:              "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			AllowOrigins: []string{"*"},
		},
		Upload: UploadConfig{
			MaxFileSize:    MaxUploadSize,
			DeepScan:       false,
			MaxPixels:      16777216,
			MaxWidth:       8192,
			MaxHeight:      8192,
			AllowedFormats: []string{"jpeg", "png", "gif", "webp"},
		},
		Vision: VisionConfig{
			Type:        "openai",
			ModelName:   "gpt-4o-mini",
			MaxTokens:   300,
			Temperature: 0.2,
			Timeout:     30 * time.Second,
		},
		Speech: SpeechConfig{
			Type:      "openai",
			ModelName: "tts-1",
			Voice:     "alloy",
			Format:    "mp3",
			Timeout:   30 * time.Second,
		},
		Admission: AdmissionConfig{
			Enabled:       true,
			FailOpen:      true,
			DenyHostingIP: true,
			DenySpoofed:   true,
			Shield:        ShieldConfig{Mode: ModeLive},
			Bot: BotConfig{
				Mode:          ModeLive,
				Allow:         []string{"CATEGORY:SEARCH_ENGINE"},
				VerifyTimeout: 2 * time.Second,
			},
			TokenBucket: TokenBucketConfig{
				Mode:            ModeLive,
				Capacity:        5,
				RefillRate:      5,
				Interval:        60 * time.Second,
				Characteristics: []string{"ip.src"},
			},
			Store: StoreConfig{
				Type:       StoreMemory,
				GCInterval: 5 * time.Minute,
				Redis: RedisStoreConfig{
					Prefix: "narrator:ratelimit:",
				},
			},
		},
	}
}
