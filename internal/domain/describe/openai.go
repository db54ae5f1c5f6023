package describe

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible chat completion backend.
type OpenAIConfig struct {
	ModelName   string
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float64
}

// OpenAIBackend calls /chat/completions with an image_url content part.
type OpenAIBackend struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAIBackend builds the client once; it is reused for every request.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
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

func (b *OpenAIBackend) Describe(ctx context.Context, dataURL string) (Content, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.config.ModelName,
		MaxTokens:   b.config.MaxTokens,
		Temperature: float32(b.config.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: SystemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: UserPrompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("vision model returned no choices")
	}

	msg := resp.Choices[0].Message
	if len(msg.MultiContent) == 0 {
		return PlainText(msg.Content), nil
	}
	parts := make(PartList, 0, len(msg.MultiContent))
	for _, p := range msg.MultiContent {
		part := Part{Kind: string(p.Type)}
		if p.Type == openai.ChatMessagePartTypeText {
			text := p.Text
			part.Text = &text
		}
		parts = append(parts, part)
	}
	return parts, nil
}
