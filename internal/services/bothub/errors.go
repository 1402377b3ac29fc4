package bothub

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is a remote application failure: a non-2xx status or a response
// body carrying an error/errors field. The raw remote message is preserved
// verbatim so callers can match on it; the remote API has no typed error
// format to map onto.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bothub api error %d: %s", e.Status, e.Message)
}

// ErrorKind is the coarse classification of a remote failure used to pick
// user-facing behavior.
type ErrorKind int

const (
	ErrKindOther ErrorKind = iota
	ErrKindNotEnoughTokens
	ErrKindChatNotFound
	ErrKindModelNotFound
	ErrKindUnavailable
)

// ClassifyError maps a remote failure onto an ErrorKind by substring match.
// This is the legacy wire contract of the upstream API: error payloads are
// free text, so matching on markers like CHAT_NOT_FOUND is the only signal
// available. Keep all such matching here.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrKindOther
	}
	text := err.Error()
	switch {
	case strings.Contains(text, "NOT_ENOUGH_TOKENS"):
		return ErrKindNotEnoughTokens
	case strings.Contains(text, "CHAT_NOT_FOUND"):
		return ErrKindChatNotFound
	case strings.Contains(text, "MODEL_NOT_FOUND"), strings.Contains(text, "DEFAULT_MODEL_NOT_FOUND"):
		return ErrKindModelNotFound
	case strings.Contains(text, "502"), strings.Contains(text, "unavailable"), strings.Contains(text, "Bad Gateway"):
		return ErrKindUnavailable
	}
	return ErrKindOther
}

// IsAPIError reports whether err is a remote application failure (as opposed
// to a transport failure) and returns it when so.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
