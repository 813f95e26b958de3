package sdruntime

import (
	"strings"
)

// ValidatePrompt rejects empty prompts and prompts with NUL bytes, which
// cannot be passed as a process argument.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return invalidRequest(ErrInvalidPrompt, "prompt is required and cannot be empty")
	}

	if strings.ContainsRune(prompt, '\x00') {
		return invalidRequest(ErrInvalidPrompt, "prompt contains null bytes")
	}

	return nil
}
