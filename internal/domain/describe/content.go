package describe

import (
	"regexp"
	"strings"
)

const (
	// MaxDescriptionRunes bounds the description handed to speech synthesis.
	MaxDescriptionRunes = 800
	// FallbackDescription replaces output that normalises to nothing.
	FallbackDescription = "No description available."
)

// Content is the raw reply of a vision model: either PlainText or a
// PartList.
type Content interface {
	isContent()
}

// PlainText is a reply delivered as one string.
type PlainText string

// PartList is a reply delivered as typed parts.
type PartList []Part

// Part is one typed content part. Text is nil for parts that carry no text,
// such as images.
type Part struct {
	Kind string
	Text *string
}

func (PlainText) isContent() {}
func (PartList) isContent()  {}

// TextPart is a convenience constructor.
func TextPart(s string) Part {
	return Part{Kind: "text", Text: &s}
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Normalize flattens c into a bounded description: text-bearing parts are
// joined with single spaces, reasoning blocks dropped, the result trimmed
// and cut to MaxDescriptionRunes. Empty results become FallbackDescription.
func Normalize(c Content) string {
	var text string
	switch v := c.(type) {
	case PlainText:
		text = string(v)
	case PartList:
		texts := make([]string, 0, len(v))
		for _, p := range v {
			if p.Text != nil {
				texts = append(texts, *p.Text)
			}
		}
		text = strings.Join(texts, " ")
	}

	text = thinkBlock.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	if runes := []rune(text); len(runes) > MaxDescriptionRunes {
		text = string(runes[:MaxDescriptionRunes])
	}
	if text == "" {
		return FallbackDescription
	}
	return text
}
