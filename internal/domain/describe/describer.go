package describe

import (
	"context"

	platformerrors "narrator-server/internal/platform/errors"
	"narrator-server/internal/platform/logging"
	"narrator-server/internal/platform/observability"
)

const (
	// SystemPrompt frames every vision request.
	SystemPrompt = "You describe images concisely for blind and low-vision users. " +
		"Lead with the most important content, mention any legible text, and avoid speculation."
	// UserPrompt accompanies the image in the user turn.
	UserPrompt = "Describe this image in a few short sentences."
)

// Backend sends one image to a vision model and returns its raw reply.
type Backend interface {
	Name() string
	Describe(ctx context.Context, dataURL string) (Content, error)
}

// Generator turns a canonical image encoding into a bounded description.
type Generator struct {
	backend Backend
	logger  *logging.Logger
}

// NewGenerator wraps backend.
func NewGenerator(backend Backend, logger *logging.Logger) *Generator {
	return &Generator{backend: backend, logger: logger}
}

// Describe calls the backend once. Any backend failure is an upstream
// error; a reply with no usable text yields FallbackDescription.
func (g *Generator) Describe(ctx context.Context, dataURL string) (string, error) {
	ctx, end := observability.StartSpan(ctx, "describe", g.backend.Name())
	content, err := g.backend.Describe(ctx, dataURL)
	end(err)
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.KindUpstream, "describe."+g.backend.Name(), "vision request failed", err)
	}

	text := Normalize(content)
	if text == FallbackDescription {
		g.logger.WarnTag("Describe", "model returned no usable text")
	}
	g.logger.DebugTag("Describe", "description ready: runes=%d", len([]rune(text)))
	return text, nil
}
