package image

// Kind tags how an image reached the server.
type Kind int

const (
	KindInvalid Kind = iota
	KindMultipart
	KindDataURL
)

func (k Kind) String() string {
	switch k {
	case KindMultipart:
		return "multipart"
	case KindDataURL:
		return "data_url"
	default:
		return "invalid"
	}
}

// Payload is the outcome of extraction. For valid payloads DataURL holds the
// canonical data:<mime>;base64,<payload> encoding; for KindInvalid Reason
// says what was wrong.
type Payload struct {
	Kind     Kind
	DataURL  string
	MimeType string
	// Size is the decoded image size in bytes. For data URLs it is
	// estimated from the base64 length.
	Size   int64
	Reason string
}

// Valid reports whether the payload carries an image.
func (p Payload) Valid() bool { return p.Kind != KindInvalid }

func invalid(reason string) Payload {
	return Payload{Kind: KindInvalid, Reason: reason}
}

// ValidationResult captures the outcome of deep validation.
type ValidationResult struct {
	IsValid      bool
	Format       string
	Width        int
	Height       int
	FileSize     int64
	Error        error
	SecurityRisk string
}
