package service

import "errors"

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	StatusCode int
	Wrapped    error
}

func (e HTTPError) Error() string {
	return e.Wrapped.Error()
}

func (e HTTPError) Unwrap() error {
	return e.Wrapped
}

func httpError(statusCode int, err error) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Wrapped:    err,
	}
}

// StatusCode returns the status attached to err, or fallback.
func StatusCode(err error, fallback int) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return fallback
}
