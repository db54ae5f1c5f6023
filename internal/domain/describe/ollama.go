package describe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaConfig configures a local Ollama server.
type OllamaConfig struct {
	ModelName   string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

// OllamaBackend calls /api/chat without streaming.
type OllamaBackend struct {
	config     OllamaConfig
	httpClient *http.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Images carries bare base64, without the data URL header.
	Images []string `json:"images,omitempty"`
}

type ollamaResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// NewOllamaBackend defaults BaseURL to the local Ollama address. Deadlines
// come from the caller's context.
func NewOllamaBackend(cfg OllamaConfig, httpClient *http.Client) *OllamaBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OllamaBackend{config: cfg, httpClient: httpClient}
}

func (b *OllamaBackend) Name() string { return "ollama" }

func (b *OllamaBackend) Describe(ctx context.Context, dataURL string) (Content, error) {
	_, payload, ok := strings.Cut(dataURL, ";base64,")
	if !ok {
		return nil, fmt.Errorf("image is not a base64 data URL")
	}

	options := map[string]any{"temperature": b.config.Temperature}
	if b.config.MaxTokens > 0 {
		options["num_predict"] = b.config.MaxTokens
	}
	body, err := sonic.Marshal(ollamaRequest{
		Model: b.config.ModelName,
		Messages: []ollamaMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: UserPrompt, Images: []string{payload}},
		},
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return nil, fmt.Errorf("encode ollama request: %w", err)
	}

	url := strings.TrimSuffix(b.config.BaseURL, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var out ollamaResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama: %s", out.Error)
	}
	return PlainText(out.Message.Content), nil
}
