package client

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// Selection is a file chosen by the user.
type Selection struct {
	Name     string
	MimeType string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// SelectionFromFile describes a local file, sniffing its type from content.
func SelectionFromFile(path string) (Selection, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Selection{}, err
	}
	if info.IsDir() {
		return Selection{}, fmt.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Selection{}, fmt.Errorf("detect type of %s: %w", path, err)
	}
	return Selection{
		Name:     filepath.Base(path),
		MimeType: mt.String(),
		Size:     info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// FileInput mirrors a file picker: choosing the value it already holds is
// not a change.
type FileInput struct {
	mu    sync.Mutex
	value string
	set   bool
}

// Set records sel and reports whether it differs from the current value.
func (in *FileInput) Set(sel Selection) bool {
	key := fmt.Sprintf("%s\x00%d\x00%s", sel.Name, sel.Size, sel.MimeType)
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.set && in.value == key {
		return false
	}
	in.value, in.set = key, true
	return true
}

// Clear empties the input so the next selection always counts as a change.
func (in *FileInput) Clear() {
	in.mu.Lock()
	in.value, in.set = "", false
	in.mu.Unlock()
}
