package client

import "fmt"

// Status is the upload lifecycle. Idle is initial; Done and Error stay put
// until a new selection starts another cycle.
type Status int

const (
	StatusIdle Status = iota
	StatusUploading
	StatusProcessing
	StatusDone
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusUploading:
		return "uploading"
	case StatusProcessing:
		return "processing"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// User-facing messages.
const (
	MessageNotImage = "Please choose an image file."
	MessageGeneric  = "Something went wrong while describing the image. Please try again."
)

// State is a snapshot of the controller.
type State struct {
	Status      Status
	Message     string
	Description string
	// Audio is the live handle in StatusDone, nil otherwise.
	Audio *AudioHandle
}

// TooLargeMessage tells the user the configured size limit.
func TooLargeMessage(limit int64) string {
	return fmt.Sprintf("Image is too large. The maximum size is %g MB.", float64(limit)/(1<<20))
}
