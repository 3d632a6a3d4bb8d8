package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxPromptLength bounds a single prompt in characters
	MaxPromptLength = 32000
	// MaxSessionIDLength bounds client supplied session ids
	MaxSessionIDLength = 128
)

// ChatRequestValidator validates chat-related requests
type ChatRequestValidator struct {
	maxPromptLength int
}

// NewChatRequestValidator creates a new ChatRequestValidator
func NewChatRequestValidator() *ChatRequestValidator {
	return &ChatRequestValidator{maxPromptLength: MaxPromptLength}
}

// ValidatePrompt validates a chat prompt
func (v *ChatRequestValidator) ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return errors.New("prompt cannot be empty")
	}
	if n := utf8.RuneCountInString(prompt); n > v.maxPromptLength {
		return fmt.Errorf("prompt must be at most %d characters, got %d", v.maxPromptLength, n)
	}
	return nil
}

// ValidateSessionID validates an optional session id. Empty is accepted.
func (v *ChatRequestValidator) ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if len(sessionID) > MaxSessionIDLength {
		return fmt.Errorf("session_id must be at most %d bytes, got %d", MaxSessionIDLength, len(sessionID))
	}
	for _, r := range sessionID {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '/' {
			return fmt.Errorf("session_id contains invalid character %q", r)
		}
	}
	return nil
}

// RequireSessionID validates a session id that must be present
func (v *ChatRequestValidator) RequireSessionID(sessionID string) error {
	if sessionID == "" {
		return errors.New("session_id is required")
	}
	return v.ValidateSessionID(sessionID)
}

// ValidateChatRequest validates a complete chat request
func (v *ChatRequestValidator) ValidateChatRequest(prompt, sessionID string) error {
	if err := v.ValidatePrompt(prompt); err != nil {
		return err
	}
	return v.ValidateSessionID(sessionID)
}
