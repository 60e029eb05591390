package ai

import "errors"

var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrRateLimited         = errors.New("ai provider rate limited")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
)

// IsProviderError reports whether err originates from the external model
// call. Provider errors are worth retrying.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrInferenceTimeout) ||
		errors.Is(err, ErrInvalidResponse)
}
