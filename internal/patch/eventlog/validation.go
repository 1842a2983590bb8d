package eventlog

import (
	"strings"
	"unicode/utf8"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/codepatch/internal/patch"
)

// maxFilterLength caps filter values.
const maxFilterLength = 255

// sanitizeOptionalText trims input and rejects null bytes and overlong values.
func sanitizeOptionalText(input string, maxLen int, field string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", nil
	}
	if strings.ContainsRune(trimmed, '\x00') {
		return "", errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, field, "contains invalid null byte"))
	}
	if utf8.RuneCountInString(trimmed) > maxLen {
		return "", errors.WithStack(patch.NewValidationError(patch.ErrCodeInvalidField, field, "exceeds max length %d", maxLen))
	}
	return trimmed, nil
}
