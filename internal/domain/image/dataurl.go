package image

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

const defaultMimeType = "image/png"

// dataURLPattern accepts data:image/<subtype>[;param...];base64,<payload>.
var dataURLPattern = regexp.MustCompile(`^data:(image/[A-Za-z0-9.+-]+)((?:;[A-Za-z0-9-]+=[^;,]*)*);base64,`)

// DataURL is a parsed image data URL.
type DataURL struct {
	MimeType string
	Payload  string
}

// EncodeDataURL wraps raw bytes in a base64 data URL. An empty mime type
// becomes image/png.
func EncodeDataURL(mimeType string, raw []byte) string {
	if strings.TrimSpace(mimeType) == "" {
		mimeType = defaultMimeType
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(raw)
}

// ParseDataURL validates the header of an image data URL and splits off its
// payload. The payload itself is not decoded.
func ParseDataURL(s string) (DataURL, error) {
	m := dataURLPattern.FindStringSubmatchIndex(s)
	if m == nil {
		return DataURL{}, fmt.Errorf("not a base64 image data URL")
	}
	payload := s[m[1]:]
	if payload == "" {
		return DataURL{}, fmt.Errorf("empty data URL payload")
	}
	return DataURL{
		MimeType: strings.ToLower(s[m[2]:m[3]]),
		Payload:  payload,
	}, nil
}

// DecodedSize estimates the decoded length of the payload without decoding.
func (d DataURL) DecodedSize() int64 {
	n := int64(len(d.Payload))
	pad := int64(0)
	if strings.HasSuffix(d.Payload, "==") {
		pad = 2
	} else if strings.HasSuffix(d.Payload, "=") {
		pad = 1
	}
	return n*3/4 - pad
}

// Bytes decodes the payload.
func (d DataURL) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(d.Payload)
}

// Subtype returns the part after "image/", e.g. "png".
func (d DataURL) Subtype() string {
	return subtype(d.MimeType)
}

func subtype(mimeType string) string {
	_, sub, _ := strings.Cut(strings.ToLower(mimeType), "/")
	if i := strings.IndexByte(sub, ';'); i >= 0 {
		sub = sub[:i]
	}
	return strings.TrimSpace(sub)
}
