package resilience

import "errors"

// PermanentError marks a failure no retry can fix, such as a rejected API key.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so a Policy without ShouldRetry stops at once. Nil
// stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err's chain holds a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RetryableStatus reports whether a provider HTTP status is worth retrying:
// request timeouts, throttling and server-side failures.
func RetryableStatus(code int) bool {
	switch {
	case code == 408, code == 425, code == 429:
		return true
	case code >= 500 && code != 501 && code != 505:
		return true
	default:
		return false
	}
}
