package describe

import (
	"fmt"
	"strings"

	"narrator-server/internal/platform/config"
)

// NewBackend selects the vision backend named by cfg.Type.
func NewBackend(cfg config.VisionConfig) (Backend, error) {
	switch strings.ToLower(cfg.Type) {
	case "openai", "":
		return NewOpenAIBackend(OpenAIConfig{
			ModelName:   cfg.ModelName,
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case "ollama":
		return NewOllamaBackend(OllamaConfig{
			ModelName:   cfg.ModelName,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, nil), nil
	default:
		return nil, fmt.Errorf("unsupported vision type: %s", cfg.Type)
	}
}
