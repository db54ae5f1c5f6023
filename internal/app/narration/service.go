package narration

import (
	"context"
	"errors"
	"time"

	"narrator-server/internal/domain/speech"
	platformerrors "narrator-server/internal/platform/errors"
	"narrator-server/internal/platform/logging"
	"narrator-server/internal/platform/observability"
)

// Describer produces a bounded description of an image data URL.
type Describer interface {
	Describe(ctx context.Context, dataURL string) (string, error)
}

// Speaker synthesizes a description into audio.
type Speaker interface {
	Synthesize(ctx context.Context, text string) (*speech.Audio, error)
}

// Result is one completed narration.
type Result struct {
	Description string
	Audio       *speech.Audio
	VisionTime  time.Duration
	SpeechTime  time.Duration
}

// Service runs describe then synthesize for a single image.
type Service struct {
	describer     Describer
	speaker       Speaker
	logger        *logging.Logger
	visionTimeout time.Duration
	speechTimeout time.Duration
}

// Config 叙述服务配置
type Config struct {
	Describer     Describer
	Speaker       Speaker
	Logger        *logging.Logger
	VisionTimeout time.Duration
	SpeechTimeout time.Duration
}

// NewService 创建叙述服务
func NewService(config *Config) *Service {
	return &Service{
		describer:     config.Describer,
		speaker:       config.Speaker,
		logger:        config.Logger,
		visionTimeout: config.VisionTimeout,
		speechTimeout: config.SpeechTimeout,
	}
}

// Narrate describes the image and speaks the description. The speech call
// starts only after the description is final. Each call gets its own
// deadline; exceeding it is an upstream failure and nothing is retried.
func (s *Service) Narrate(ctx context.Context, dataURL string) (*Result, error) {
	ctx, end := observability.StartSpan(ctx, "narration", "narrate")
	res, err := s.narrate(ctx, dataURL)
	end(err)
	return res, err
}

func (s *Service) narrate(ctx context.Context, dataURL string) (*Result, error) {
	start := time.Now()
	text, err := call(ctx, s.visionTimeout, "narration.describe", func(ctx context.Context) (string, error) {
		return s.describer.Describe(ctx, dataURL)
	})
	if err != nil {
		s.logger.ErrorTag("Narration", "describe failed: %v", err)
		return nil, err
	}
	visionTime := time.Since(start)

	start = time.Now()
	audio, err := call(ctx, s.speechTimeout, "narration.synthesize", func(ctx context.Context) (*speech.Audio, error) {
		return s.speaker.Synthesize(ctx, text)
	})
	if err != nil {
		s.logger.ErrorTag("Narration", "synthesize failed: %v", err)
		return nil, err
	}
	speechTime := time.Since(start)

	s.logger.InfoTag("Narration", "narration complete", map[string]any{
		"description_runes": len([]rune(text)),
		"audio_bytes":       len(audio.Data),
		"vision_ms":         visionTime.Milliseconds(),
		"speech_ms":         speechTime.Milliseconds(),
	})
	return &Result{
		Description: text,
		Audio:       audio,
		VisionTime:  visionTime,
		SpeechTime:  speechTime,
	}, nil
}

func call[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	v, err := fn(ctx)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return v, platformerrors.Wrap(platformerrors.KindUpstream, op, "timed out", context.DeadlineExceeded)
	}
	return v, platformerrors.Wrap(platformerrors.KindUpstream, op, "upstream call failed", err)
}
