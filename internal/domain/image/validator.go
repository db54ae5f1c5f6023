package image

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"narrator-server/internal/platform/config"
	"narrator-server/internal/platform/logging"
)

// SecurityValidator decodes image headers and checks dimensions, magic
// signatures and embedded executable or script content.
type SecurityValidator struct {
	config config.UploadConfig
	logger *logging.Logger
}

// NewSecurityValidator constructs a new validator instance.
func NewSecurityValidator(cfg config.UploadConfig, logger *logging.Logger) *SecurityValidator {
	return &SecurityValidator{
		config: cfg,
		logger: logger,
	}
}

var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"jpg":  {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46},
	"bmp":  {0x42, 0x4D},
}

// ValidateDataURL decodes and validates a data URL payload.
func (v *SecurityValidator) ValidateDataURL(d DataURL) ValidationResult {
	raw, err := d.Bytes()
	if err != nil {
		return ValidationResult{
			Error:        fmt.Errorf("decode base64: %w", err),
			SecurityRisk: "invalid base64 encoding",
		}
	}
	return v.deepValidateImage(raw, d.Subtype())
}

// ValidateBytes validates raw bytes directly.
func (v *SecurityValidator) ValidateBytes(raw []byte, declaredFormat string) ValidationResult {
	return v.deepValidateImage(raw, declaredFormat)
}

func (v *SecurityValidator) deepValidateImage(
	data []byte,
	declaredFormat string,
) ValidationResult {
	result := ValidationResult{IsValid: false}

	if len(data) == 0 {
		result.Error = fmt.Errorf("empty image payload")
		return result
	}

	if int64(len(data)) > v.config.MaxFileSize {
		result.Error = fmt.Errorf(
			"file size exceeds limit: %d bytes (max %d bytes)",
			len(data),
			v.config.MaxFileSize,
		)
		result.SecurityRisk = "file too large"
		return result
	}

	if declaredFormat != "" && !v.isFormatAllowed(declaredFormat) {
		result.Error = fmt.Errorf("unsupported format: %s", declaredFormat)
		result.SecurityRisk = "unapproved format"
		return result
	}

	decodeResult := v.validateImageDecoding(data, declaredFormat)
	if !decodeResult.IsValid {
		if declaredFormat != "" && !v.validateFileSignature(data, declaredFormat) {
			actualHeader := fmt.Sprintf("%x", data[:min(len(data), 16)])
			v.logger.Warn(
				"file signature mismatch: declared_format=%s actual_header=%s",
				declaredFormat,
				actualHeader,
			)
		}
		return decodeResult
	}

	result = decodeResult
	result.IsValid = true
	result.FileSize = int64(len(data))
	return result
}

func (v *SecurityValidator) isFormatAllowed(format string) bool {
	if len(v.config.AllowedFormats) == 0 || format == "" {
		return true
	}

	format = strings.ToLower(format)
	if format == "jpg" {
		format = "jpeg"
	}
	for _, allowed := range v.config.AllowedFormats {
		if strings.ToLower(allowed) == format {
			return true
		}
	}
	return false
}

func (v *SecurityValidator) validateFileSignature(data []byte, format string) bool {
	signature, ok := imageSignatures[strings.ToLower(format)]
	if !ok || len(signature) == 0 {
		return true
	}
	if len(data) < len(signature) {
		return false
	}
	return bytes.Equal(signature, data[:len(signature)])
}

func (v *SecurityValidator) scanForMaliciousContent(data []byte) bool {
	suspiciousSignatures := [][]byte{
		{0x4D, 0x5A},             // PE
		{0x7F, 0x45, 0x4C, 0x46}, // ELF
		{0x25, 0x50, 0x44, 0x46}, // PDF
	}

	for _, signature := range suspiciousSignatures {
		if bytes.HasPrefix(data, signature) {
			signatureHex := fmt.Sprintf("%x", signature)
			v.logger.Warn(
				"detected executable signature: signature_hex=%s",
				signatureHex,
			)
			return true
		}
	}

	compressionSignatures := [][]byte{
		{0x50, 0x4B, 0x03, 0x04},
		{0x1F, 0x8B, 0x08},
	}

	for _, signature := range compressionSignatures {
		if bytes.HasPrefix(data, signature) {
			signatureHex := fmt.Sprintf("%x", signature)
			v.logger.Warn(
				"detected compressed archive: signature_hex=%s",
				signatureHex,
			)
			return true
		}
	}

	text := string(data)
	if strings.Contains(strings.ToLower(text), "<svg") {
		return v.checkSVGScripts(text)
	}

	return false
}

func (v *SecurityValidator) checkSVGScripts(text string) bool {
	suspiciousStrings := []string{
		"<script",
		"javascript:",
		"vbscript:",
		"onload=",
		"onerror=",
		"eval(",
		"document.cookie",
		"window.location",
		"<iframe",
		"<object",
		"<embed",
	}

	lower := strings.ToLower(text)
	for _, suspicious := range suspiciousStrings {
		if strings.Contains(lower, suspicious) {
			v.logger.Warn("detected suspicious SVG content: token=%s", suspicious)
			return true
		}
	}
	return false
}

func (v *SecurityValidator) validateImageDecoding(
	data []byte,
	format string,
) ValidationResult {
	result := ValidationResult{Format: format}
	reader := bytes.NewReader(data)

	cfg, actualFormat, err := image.DecodeConfig(reader)
	if err != nil {
		result.Error = fmt.Errorf("decode image config: %w", err)
		result.SecurityRisk = "corrupted image data"
		return result
	}

	if actualFormat != "" {
		result.Format = actualFormat
	}
	if !v.isFormatAllowed(result.Format) {
		result.Error = fmt.Errorf("unsupported format: %s", result.Format)
		result.SecurityRisk = "unapproved format"
		return result
	}

	if cfg.Width > v.config.MaxWidth || cfg.Height > v.config.MaxHeight {
		result.Error = fmt.Errorf("dimensions exceed limit: %dx%d (max %dx%d)",
			cfg.Width, cfg.Height, v.config.MaxWidth, v.config.MaxHeight)
		result.SecurityRisk = "dimensions too large"
		return result
	}

	totalPixels := int64(cfg.Width) * int64(cfg.Height)
	if totalPixels > v.config.MaxPixels {
		result.Error = fmt.Errorf("pixel count exceeds limit: %d (max %d)", totalPixels, v.config.MaxPixels)
		result.SecurityRisk = "pixel count too high"
		return result
	}

	if v.scanForMaliciousContent(data) {
		result.Error = fmt.Errorf("potential malicious content detected")
		result.SecurityRisk = "suspicious content"
		return result
	}

	result.IsValid = true
	result.Width = cfg.Width
	result.Height = cfg.Height
	result.FileSize = int64(len(data))

	v.logger.Debug(
		"image validation success: format=%s width=%d height=%d size=%d",
		result.Format,
		result.Width,
		result.Height,
		result.FileSize,
	)

	return result
}
