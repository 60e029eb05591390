package suggestion

import (
	"errors"
	"unicode/utf8"
)

// ErrNotFound is returned when a job, entity or ancestor does not resolve
// for the calling tenant.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Retryable reports whether a failed delivery may be attempted again.
func Retryable(err error) bool {
	return err != nil && !IsValidation(err)
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
