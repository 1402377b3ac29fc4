// Package intent classifies raw message text into the remote operation to
// perform. The classification is a keyword heuristic: good enough for
// routing, with no correctness guarantee on ambiguous phrasing.
package intent

import (
	"strings"
)

// Intent is the operation a message maps onto.
type Intent int

const (
	Chat Intent = iota
	WebSearch
	ImageGeneration
)

func (i Intent) String() string {
	switch i {
	case WebSearch:
		return "web_search"
	case ImageGeneration:
		return "image_generation"
	default:
		return "chat"
	}
}

// Ordered pattern lists. Web-search patterns are tested before
// image-generation patterns; the first match wins.
var webSearchPrefixes = []string{
	"найди информацию",
	"найди в интернете",
	"найди",
	"поищи в интернете",
	"поищи",
	"погугли",
	"search the web for",
	"search for",
	"search",
	"google",
	"look up",
}

var imageGenPrefixes = []string{
	"нарисуй картинку",
	"нарисуй",
	"сгенерируй изображение",
	"сгенерируй картинку",
	"сгенерируй",
	"создай изображение",
	"draw me",
	"draw",
	"generate an image of",
	"generate image",
	"create an image of",
	"paint",
}

// Detect maps message text to an intent and its extracted payload: the
// search query, the image prompt, or the original message for plain chat.
// The payload falls back to the whole input when nothing follows the
// matched keyword.
func Detect(text string) (Intent, string) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	if payload, ok := matchPrefix(trimmed, lower, webSearchPrefixes); ok {
		return WebSearch, payload
	}
	if payload, ok := matchPrefix(trimmed, lower, imageGenPrefixes); ok {
		return ImageGeneration, payload
	}
	return Chat, trimmed
}

// matchPrefix tests each pattern against the start of the message and
// extracts the trimmed residue after the keyword.
func matchPrefix(original, lower string, prefixes []string) (string, bool) {
	for _, prefix := range prefixes {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		rest := original[len(prefix):]
		// The keyword must end at a word boundary.
		if rest != "" && !strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, ",") && !strings.HasPrefix(rest, ":") {
			continue
		}
		payload := strings.TrimLeft(rest, " ,:")
		payload = strings.TrimSpace(payload)
		if payload == "" {
			payload = original
		}
		return payload, true
	}
	return "", false
}
