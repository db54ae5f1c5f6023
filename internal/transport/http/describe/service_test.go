package describe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narrator-server/internal/app/narration"
	"narrator-server/internal/domain/admission"
	"narrator-server/internal/domain/admission/store"
	domaindescribe "narrator-server/internal/domain/describe"
	domainimage "narrator-server/internal/domain/image"
	"narrator-server/internal/domain/speech"
	"narrator-server/internal/platform/config"
	testhelpers "narrator-server/internal/platform/testing"
	httptransport "narrator-server/internal/transport/http"
)

const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15"

var fakeMP3 = []byte{0xFF, 0xFB, 0x90, 0x64, 0x00, 0x00, 0x00, 0x00}

type fakeVision struct {
	reply domaindescribe.Content
	err   error
	calls atomic.Int32
}

func (f *fakeVision) Name() string { return "fake" }

func (f *fakeVision) Describe(context.Context, string) (domaindescribe.Content, error) {
	f.calls.Add(1)
	return f.reply, f.err
}

type fakeVoice struct {
	calls atomic.Int32
	input atomic.Value
}

func (f *fakeVoice) Name() string { return "fake" }

func (f *fakeVoice) Synthesize(_ context.Context, text string) (io.ReadCloser, error) {
	f.calls.Add(1)
	f.input.Store(text)
	return io.NopCloser(bytes.NewReader(fakeMP3)), nil
}

type harness struct {
	engine *gin.Engine
	vision *fakeVision
	voice  *fakeVoice
}

func newHarness(t *testing.T, reply domaindescribe.Content) *harness {
	t.Helper()
	cfg := testhelpers.SetupTestConfig(t)
	logger := testhelpers.SetupTestLogger(t)

	router, err := httptransport.Build(httptransport.Options{Config: cfg, Logger: logger})
	require.NoError(t, err)

	st, err := store.New(store.Config{Bucket: store.Bucket{Capacity: 5, RefillRate: 5, Interval: time.Minute}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	gate, err := admission.NewGate(admission.Options{
		Enabled:       true,
		FailOpen:      true,
		DenyHostingIP: true,
		DenySpoofed:   true,
		Allow:         []string{"CATEGORY:SEARCH_ENGINE"},
	}, st, nil, nil, logger)
	require.NoError(t, err)

	pipeline, err := domainimage.NewPipeline(domainimage.Options{Upload: cfg.Upload, Logger: logger})
	require.NoError(t, err)

	h := &harness{
		engine: router.Engine,
		vision: &fakeVision{reply: reply},
		voice:  &fakeVoice{},
	}
	svc, err := NewService(Options{
		Gate:      gate,
		Extractor: domainimage.NewExtractor(pipeline, logger),
		Narrator: narration.NewService(&narration.Config{
			Describer:     domaindescribe.NewGenerator(h.vision, logger),
			Speaker:       speech.NewSynthesizer(h.voice, logger),
			Logger:        logger,
			VisionTimeout: time.Second,
			SpeechTimeout: time.Second,
		}),
		Logger: logger,
		Status: StatusLine("gpt-4o-mini", "tts-1", "alloy"),
	})
	require.NoError(t, err)
	svc.Register(router.API)
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", browserUA)
	}
	if req.RemoteAddr == "" || req.RemoteAddr == "192.0.2.1:1234" {
		req.RemoteAddr = "203.0.113.50:40000"
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="file"; filename="photo.png"`}
	hdr["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func uploadRequest(t *testing.T, contentType string, data []byte) *http.Request {
	body, ct := multipartBody(t, contentType, data)
	req := httptest.NewRequest(http.MethodPost, "/api/describe-image", body)
	req.Header.Set("Content-Type", ct)
	return req
}

func jsonRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/describe-image", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodedHeader(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	raw := rec.Header().Get(DescriptionHeader)
	require.NotEmpty(t, raw)
	text, err := DecodeDescription(raw)
	require.NoError(t, err)
	return text
}

func envelope(t *testing.T, rec *httptest.ResponseRecorder) httptransport.APIResponse {
	t.Helper()
	var resp httptransport.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestDescribeMultipartPNG(t *testing.T) {
	h := newHarness(t, domaindescribe.PlainText("A sunflower field under a blue sky, café sign reads “Open”."))
	png := testhelpers.Padded(testhelpers.PNG(t, 32, 32), 2*1000*1000)

	rec := h.do(uploadRequest(t, "image/png", png))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=description.mp3", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, fakeMP3, rec.Body.Bytes())
	assert.NotEmpty(t, rec.Header().Get(httptransport.RequestIDHeader))

	raw := rec.Header().Get(DescriptionHeader)
	for _, r := range raw {
		assert.True(t, r > 0x20 && r < 0x7f, "header byte %q not header-safe", r)
	}
	text := decodedHeader(t, rec)
	assert.Equal(t, "A sunflower field under a blue sky, café sign reads “Open”.", text)
	assert.LessOrEqual(t, len([]rune(text)), domaindescribe.MaxDescriptionRunes)
	assert.Equal(t, text, h.voice.input.Load())
}

func TestDescribeJSONDataURL(t *testing.T) {
	h := newHarness(t, domaindescribe.PlainText("A kettle."))
	url := domainimage.EncodeDataURL("image/png", testhelpers.PNG(t, 4, 4))

	rec := h.do(jsonRequest(`{"imageBase64":"` + url + `"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A kettle.", decodedHeader(t, rec))
}

func TestDescribeInvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
	}{
		{"json not a data url", func(*testing.T) *http.Request { return jsonRequest(`{"imageBase64":"not-a-data-url"}`) }},
		{"non image type", func(t *testing.T) *http.Request { return uploadRequest(t, "application/pdf", []byte("%PDF-1.7")) }},
		{"oversized", func(t *testing.T) *http.Request {
			return uploadRequest(t, "image/png", testhelpers.Padded(testhelpers.PNG(t, 2, 2), config.MaxUploadSize+1))
		}},
		{"empty body", func(*testing.T) *http.Request { return jsonRequest("") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, domaindescribe.PlainText("never used"))
			rec := h.do(tt.req(t))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := envelope(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Zero(t, h.vision.calls.Load())
			assert.Zero(t, h.voice.calls.Load())
		})
	}
}

func TestDescribeSixthRequestRateLimited(t *testing.T) {
	h := newHarness(t, domaindescribe.PlainText("A chair."))
	png := testhelpers.PNG(t, 4, 4)

	for i := 1; i <= 5; i++ {
		rec := h.do(uploadRequest(t, "image/png", png))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := h.do(uploadRequest(t, "image/png", png))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.EqualValues(t, 5, h.vision.calls.Load())
}

func TestDescribeBotsForbidden(t *testing.T) {
	h := newHarness(t, domaindescribe.PlainText("A chair."))
	req := uploadRequest(t, "image/png", testhelpers.PNG(t, 4, 4))
	req.Header.Set("User-Agent", "python-requests/2.32")

	rec := h.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "No bots allowed", envelope(t, rec).Message)
	assert.Zero(t, h.vision.calls.Load())
}

func TestDescribeShieldedIsGenericForbidden(t *testing.T) {
	h := newHarness(t, domaindescribe.PlainText("A chair."))
	req := uploadRequest(t, "image/png", testhelpers.PNG(t, 4, 4))
	req.URL.RawQuery = "q=1%20UNION%20SELECT%20secret"

	rec := h.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", envelope(t, rec).Message)
}

func TestDescribeTruncatesLongDescriptions(t *testing.T) {
	long := strings.Repeat("x", 1000)
	h := newHarness(t, domaindescribe.PlainText(long))

	rec := h.do(uploadRequest(t, "image/png", testhelpers.PNG(t, 4, 4)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, long[:800], decodedHeader(t, rec))
}

func TestDescribeEmptyDescriptionFallback(t *testing.T) {
	h := newHarness(t, domaindescribe.PartList{{Kind: "image_url"}})

	rec := h.do(uploadRequest(t, "image/png", testhelpers.PNG(t, 4, 4)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No description available.", decodedHeader(t, rec))
	assert.Equal(t, "No description available.", h.voice.input.Load())
}

func TestDescribeUpstreamFailureIs500(t *testing.T) {
	h := newHarness(t, nil)
	h.vision.err = errors.New("model overloaded")

	rec := h.do(uploadRequest(t, "image/png", testhelpers.PNG(t, 4, 4)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "overloaded")
	assert.Zero(t, h.voice.calls.Load())
}

func TestDescribeStatusAndCORS(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/describe-image", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gpt-4o-mini")

	req := httptest.NewRequest(http.MethodPost, "/api/describe-image", strings.NewReader(`{}`))
	req.Header.Set("Origin", "https://app.example.org")
	req.Header.Set("Content-Type", "application/json")
	rec = h.do(req)
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), DescriptionHeader)
}

func TestEncodeDescriptionRoundTrip(t *testing.T) {
	for _, s := range []string{"plain", "Zoë & friends: 100% “quoted”\nnewline", "日本語のテキスト"} {
		enc := EncodeDescription(s)
		assert.NotContains(t, enc, "\n")
		dec, err := DecodeDescription(enc)
		require.NoError(t, err)
		assert.Equal(t, s, dec)
	}
}
