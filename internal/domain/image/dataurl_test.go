package image

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDataURL(t *testing.T) {
	assert.Equal(t, "data:image/jpeg;base64,AQID", EncodeDataURL("image/jpeg", []byte{1, 2, 3}))
	assert.Equal(t, "data:image/png;base64,AQID", EncodeDataURL("", []byte{1, 2, 3}))
}

func TestParseDataURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		mime    string
		wantErr bool
	}{
		{name: "png", in: "data:image/png;base64,AQID", mime: "image/png"},
		{name: "params", in: "data:image/svg+xml;charset=utf-8;base64,AQID", mime: "image/svg+xml"},
		{name: "upper case mime", in: "data:image/JPEG;base64,AQID", mime: "image/jpeg"},
		{name: "plain text", in: "not-a-data-url", wantErr: true},
		{name: "non image", in: "data:text/plain;base64,AQID", wantErr: true},
		{name: "not base64", in: "data:image/png,rawbytes", wantErr: true},
		{name: "empty payload", in: "data:image/png;base64,", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDataURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mime, d.MimeType)
		})
	}
}

func TestDataURLDecodedSize(t *testing.T) {
	for _, raw := range [][]byte{{1}, {1, 2}, {1, 2, 3}, make([]byte, 1000)} {
		d, err := ParseDataURL(EncodeDataURL("image/png", raw))
		require.NoError(t, err)
		assert.Equal(t, int64(len(raw)), d.DecodedSize())

		decoded, err := d.Bytes()
		require.NoError(t, err)
		assert.Equal(t, raw, decoded)
	}
	assert.Equal(t, "png", DataURL{MimeType: "image/png"}.Subtype())
	assert.True(t, strings.HasPrefix(EncodeDataURL("image/gif", nil), "data:image/gif;base64,"))
}
