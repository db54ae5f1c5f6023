package describe

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"narrator-server/internal/domain/speech"
)

const (
	// DescriptionHeader carries the percent-encoded description.
	DescriptionHeader = "X-Description-Text"
	// AudioFilename is the download name offered to clients.
	AudioFilename = "description.mp3"
)

// EncodeDescription percent-encodes text so that only header-safe ASCII
// remains. Clients reverse it with url.PathUnescape or decodeURIComponent.
func EncodeDescription(text string) string {
	return url.PathEscape(text)
}

// DecodeDescription reverses EncodeDescription.
func DecodeDescription(header string) (string, error) {
	return url.PathUnescape(header)
}

// writeAudio sends the MP3 body with the description out of band.
func writeAudio(c *gin.Context, description string, audio *speech.Audio) {
	h := c.Writer.Header()
	h.Set("Content-Disposition", "attachment; filename="+AudioFilename)
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Length", strconv.Itoa(len(audio.Data)))
	h.Set(DescriptionHeader, EncodeDescription(description))
	c.Data(http.StatusOK, speech.MimeTypeMP3, audio.Data)
}
