package describe

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"narrator-server/internal/app/narration"
	"narrator-server/internal/domain/admission"
	domainimage "narrator-server/internal/domain/image"
	"narrator-server/internal/platform/errors"
	"narrator-server/internal/platform/logging"
	httptransport "narrator-server/internal/transport/http"
)

// requestCost is the number of tokens one narration consumes.
const requestCost = 1

// Gatekeeper screens requests before any expensive work.
type Gatekeeper interface {
	Protect(ctx context.Context, req admission.Request, requested int) (admission.Decision, error)
}

// Narrator runs the describe and synthesize pipeline.
type Narrator interface {
	Narrate(ctx context.Context, dataURL string) (*narration.Result, error)
}

// Options wires the handler's collaborators.
type Options struct {
	Gate      Gatekeeper
	Extractor *domainimage.Extractor
	Narrator  Narrator
	Logger    *logging.Logger
	// Status is the text served by GET.
	Status string
}

// Service is the HTTP transport of the narration pipeline.
type Service struct {
	gate      Gatekeeper
	extractor *domainimage.Extractor
	narrator  Narrator
	logger    *logging.Logger
	status    string
}

// NewService 创建图片描述服务
func NewService(opts Options) (*Service, error) {
	if opts.Gate == nil {
		return nil, errors.New(errors.KindConfig, "describe.new", "admission gate is required")
	}
	if opts.Extractor == nil {
		return nil, errors.New(errors.KindConfig, "describe.new", "payload extractor is required")
	}
	if opts.Narrator == nil {
		return nil, errors.New(errors.KindConfig, "describe.new", "narrator is required")
	}
	status := opts.Status
	if status == "" {
		status = "Image narration service is running."
	}
	return &Service{
		gate:      opts.Gate,
		extractor: opts.Extractor,
		narrator:  opts.Narrator,
		logger:    opts.Logger,
		status:    status,
	}, nil
}

// Register 注册图片描述路由
func (s *Service) Register(router *gin.RouterGroup) {
	router.GET("/describe-image", s.handleGet)
	router.POST("/describe-image", s.handlePost)
	s.logger.InfoTag("HTTP", "describe-image routes registered")
}

func (s *Service) handleGet(c *gin.Context) {
	c.String(http.StatusOK, s.status)
}

func (s *Service) handlePost(c *gin.Context) {
	ctx := c.Request.Context()

	decision, err := s.gate.Protect(ctx, admission.RequestFromHTTP(c.Request, c.ClientIP()), requestCost)
	if err != nil {
		s.logger.ErrorTag("HTTP", "admission failed: %v", err)
		httptransport.RespondError(c, http.StatusInternalServerError, "Internal server error", nil)
		return
	}
	if decision.Denied() {
		s.respondDenied(c, decision)
		return
	}

	payload := s.extractor.Extract(ctx, c.Writer, c.Request)
	if !payload.Valid() {
		httptransport.RespondError(c, http.StatusBadRequest, "No valid image provided: "+payload.Reason, nil)
		return
	}

	result, err := s.narrator.Narrate(ctx, payload.DataURL)
	if err != nil {
		s.logger.ErrorTag("HTTP", "narration failed", map[string]any{
			"kind":       string(errors.KindOf(err)),
			"error":      err.Error(),
			"request_id": c.GetString("request_id"),
		})
		httptransport.RespondError(c, http.StatusInternalServerError, "Internal server error", nil)
		return
	}

	writeAudio(c, result.Description, result.Audio)
}

func (s *Service) respondDenied(c *gin.Context, d admission.Decision) {
	switch d.Reason {
	case admission.ReasonRateLimited:
		if d.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
		}
		if d.Remaining >= 0 {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}
		httptransport.RespondError(c, http.StatusTooManyRequests, "Too many requests", nil)
	case admission.ReasonBot:
		httptransport.RespondError(c, http.StatusForbidden, "No bots allowed", nil)
	default:
		httptransport.RespondError(c, http.StatusForbidden, "Forbidden", nil)
	}
}

// StatusLine formats the GET response for the configured models.
func StatusLine(visionModel, speechModel, voice string) string {
	return fmt.Sprintf("Image narration service is running (vision=%s, speech=%s/%s).", visionModel, speechModel, voice)
}
