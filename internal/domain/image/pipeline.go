package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"narrator-server/internal/platform/config"
	"narrator-server/internal/platform/logging"
)

// Pipeline streams raw image bytes into a data URL, enforcing the size limit
// while reading and optionally validating the decoded image.
type Pipeline struct {
	validator *SecurityValidator
	logger    *logging.Logger
	upload    config.UploadConfig
}

// Options configures the pipeline behaviour.
type Options struct {
	Upload config.UploadConfig
	Logger *logging.Logger
}

// Input describes a streaming image payload.
type Input struct {
	Reader   io.Reader
	MimeType string
}

// Output contains the artefacts produced by the pipeline.
type Output struct {
	DataURL    string
	Size       int64
	Validation *ValidationResult
}

// NewPipeline constructs a streaming image pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Upload.MaxFileSize <= 0 {
		return nil, fmt.Errorf("upload max file size must be positive")
	}
	return &Pipeline{
		validator: NewSecurityValidator(opts.Upload, opts.Logger),
		logger:    opts.Logger,
		upload:    opts.Upload,
	}, nil
}

// MaxFileSize is the largest accepted decoded image.
func (p *Pipeline) MaxFileSize() int64 { return p.upload.MaxFileSize }

// Process streams the input through base64 encoding and, when deep scanning
// is enabled, through validation.
func (p *Pipeline) Process(ctx context.Context, input Input) (*Output, error) {
	if input.Reader == nil {
		return nil, fmt.Errorf("image reader is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mimeType := strings.TrimSpace(input.MimeType)
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	limited := &io.LimitedReader{
		R: input.Reader,
		N: p.upload.MaxFileSize + 1,
	}

	var rawBuf *bytes.Buffer
	out := bytes.NewBuffer(make([]byte, 0, 64*1024))
	out.WriteString("data:" + mimeType + ";base64,")
	encoder := base64.NewEncoder(base64.StdEncoding, out)

	var w io.Writer = encoder
	if p.upload.DeepScan {
		rawBuf = bytes.NewBuffer(make([]byte, 0, 32*1024))
		w = io.MultiWriter(rawBuf, encoder)
	}

	n, err := io.Copy(w, limited)
	if err != nil {
		return nil, fmt.Errorf("stream image bytes: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("finalise base64 encoding: %w", err)
	}
	if limited.N <= 0 {
		return nil, fmt.Errorf("image exceeds maximum size of %d bytes", p.upload.MaxFileSize)
	}
	if n == 0 {
		return nil, fmt.Errorf("empty image payload")
	}

	output := &Output{DataURL: out.String(), Size: n}
	if rawBuf != nil {
		validation := p.validator.ValidateBytes(rawBuf.Bytes(), subtype(mimeType))
		if !validation.IsValid {
			return nil, validationError(validation)
		}
		output.Validation = &validation
	}
	return output, nil
}

// Validate runs deep validation on an already encoded data URL. It is a
// no-op unless deep scanning is enabled.
func (p *Pipeline) Validate(d DataURL) error {
	if !p.upload.DeepScan {
		return nil
	}
	validation := p.validator.ValidateDataURL(d)
	if !validation.IsValid {
		return validationError(validation)
	}
	return nil
}

func validationError(v ValidationResult) error {
	if v.Error != nil {
		return v.Error
	}
	return fmt.Errorf("image validation failed")
}
