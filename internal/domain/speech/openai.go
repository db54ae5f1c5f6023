package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"narrator-server/internal/platform/config"
)

// OpenAIConfig configures the OpenAI speech endpoint.
type OpenAIConfig struct {
	ModelName string
	Voice     string
	BaseURL   string
	APIKey    string
}

// OpenAIBackend calls /audio/speech and always requests MP3.
type OpenAIBackend struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAIBackend builds the client once; it is reused for every request.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	resp, err := b.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(b.config.ModelName),
		Input:          text,
		Voice:          openai.SpeechVoice(b.config.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// NewBackend selects the speech backend named by cfg.Type.
func NewBackend(cfg config.SpeechConfig) (Backend, error) {
	switch strings.ToLower(cfg.Type) {
	case "openai", "":
		return NewOpenAIBackend(OpenAIConfig{
			ModelName: cfg.ModelName,
			Voice:     cfg.Voice,
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
		})
	default:
		return nil, fmt.Errorf("unsupported speech type: %s", cfg.Type)
	}
}
