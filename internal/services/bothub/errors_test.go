package bothub

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ErrKindOther},
		{"not enough tokens", &APIError{Status: 403, Message: "NOT_ENOUGH_TOKENS"}, ErrKindNotEnoughTokens},
		{"chat not found", &APIError{Status: 404, Message: "CHAT_NOT_FOUND"}, ErrKindChatNotFound},
		{"model not found", &APIError{Status: 404, Message: "MODEL_NOT_FOUND"}, ErrKindModelNotFound},
		{"default model not found", &APIError{Status: 404, Message: "DEFAULT_MODEL_NOT_FOUND"}, ErrKindModelNotFound},
		{"bad gateway", &APIError{Status: 502, Message: "502 Bad Gateway: BotHub is temporarily unavailable"}, ErrKindUnavailable},
		{"unavailable text", errors.New("service unavailable"), ErrKindUnavailable},
		{"marker inside longer message", &APIError{Status: 400, Message: "error: CHAT_NOT_FOUND for id 42"}, ErrKindChatNotFound},
		{"wrapped", fmt.Errorf("send failed: %w", &APIError{Status: 403, Message: "NOT_ENOUGH_TOKENS"}), ErrKindNotEnoughTokens},
		{"plain failure", errors.New("connection refused"), ErrKindOther},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyError(tc.err); got != tc.want {
				t.Fatalf("ClassifyError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsAPIError(t *testing.T) {
	apiErr := &APIError{Status: 404, Message: "CHAT_NOT_FOUND"}
	wrapped := fmt.Errorf("send: %w", apiErr)

	if got, ok := IsAPIError(wrapped); !ok || got != apiErr {
		t.Fatalf("IsAPIError(wrapped) = (%v, %v)", got, ok)
	}
	if _, ok := IsAPIError(errors.New("timeout")); ok {
		t.Fatal("transport error classified as api error")
	}
}

func TestAPIErrorMessagePreserved(t *testing.T) {
	err := &APIError{Status: 500, Message: "weird free-form text"}
	if err.Error() != "bothub api error 500: weird free-form text" {
		t.Fatalf("unexpected format: %q", err.Error())
	}
}
