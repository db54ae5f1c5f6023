package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"narrator-server/internal/platform/logging"
	"narrator-server/internal/platform/observability"
)

const (
	// FileField is the multipart field carrying the image.
	FileField = "file"
	// JSONField is the JSON property carrying a data URL.
	JSONField = "imageBase64"

	multipartMemory = 8 << 20
)

// Extractor turns an inbound request into a canonical Payload. It accepts
// multipart/form-data with a file field, or a JSON body holding a data URL.
type Extractor struct {
	pipeline *Pipeline
	logger   *logging.Logger
}

// NewExtractor wraps a pipeline.
func NewExtractor(p *Pipeline, logger *logging.Logger) *Extractor {
	return &Extractor{pipeline: p, logger: logger}
}

// BodyLimit is the largest request body worth reading: a maximal image
// after base64 expansion plus room for multipart framing or JSON.
func (e *Extractor) BodyLimit() int64 {
	return e.pipeline.MaxFileSize()*4/3 + 1<<20
}

// Extract reads r's body once and classifies it. It never returns an error;
// every failure is reported as an invalid payload with a reason.
func (e *Extractor) Extract(ctx context.Context, w http.ResponseWriter, r *http.Request) Payload {
	ctx, end := observability.StartSpan(ctx, "image", "extract")

	r.Body = http.MaxBytesReader(w, r.Body, e.BodyLimit())

	var p Payload
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		p = e.fromMultipart(ctx, r)
	} else {
		p = e.fromJSON(r)
	}

	if p.Valid() {
		end(nil)
	} else {
		end(errors.New(p.Reason))
		e.logger.InfoTag("Image", "rejected payload: %s", p.Reason)
	}
	return p
}

func (e *Extractor) fromMultipart(ctx context.Context, r *http.Request) Payload {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return invalid(bodyError("malformed multipart body", err))
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(FileField)
	if err != nil {
		return invalid(fmt.Sprintf("missing %q file field", FileField))
	}
	defer file.Close()

	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if !strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return invalid("uploaded file must be an image")
	}
	if header.Size > e.pipeline.MaxFileSize() {
		return invalid(tooLarge(e.pipeline.MaxFileSize()))
	}

	out, err := e.pipeline.Process(ctx, Input{Reader: file, MimeType: mimeType})
	if err != nil {
		return invalid(err.Error())
	}
	return Payload{
		Kind:     KindMultipart,
		DataURL:  out.DataURL,
		MimeType: mimeType,
		Size:     out.Size,
	}
}

type jsonBody struct {
	ImageBase64 any `json:"imageBase64"`
}

func (e *Extractor) fromJSON(r *http.Request) Payload {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return invalid(bodyError("unreadable body", err))
	}

	var body jsonBody
	if err := sonic.Unmarshal(raw, &body); err != nil {
		return invalid("body is neither multipart nor valid JSON")
	}
	s, ok := body.ImageBase64.(string)
	if !ok {
		return invalid(fmt.Sprintf("%q must be a string data URL", JSONField))
	}

	d, err := ParseDataURL(s)
	if err != nil {
		return invalid(fmt.Sprintf("%q is not an image data URL", JSONField))
	}
	size := d.DecodedSize()
	if size > e.pipeline.MaxFileSize() {
		return invalid(tooLarge(e.pipeline.MaxFileSize()))
	}
	if err := e.pipeline.Validate(d); err != nil {
		return invalid(err.Error())
	}
	return Payload{
		Kind:     KindDataURL,
		DataURL:  s,
		MimeType: d.MimeType,
		Size:     size,
	}
}

func bodyError(msg string, err error) string {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return "request body too large"
	}
	return msg
}

func tooLarge(limit int64) string {
	return fmt.Sprintf("image exceeds the %d MB limit", limit>>20)
}
