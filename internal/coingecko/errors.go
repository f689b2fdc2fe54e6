package coingecko

import "errors"

// RemoteFetchError reports a failed upstream call.
// Error returns the transport message unchanged so callers can log it as-is.
type RemoteFetchError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *RemoteFetchError) Error() string {
	return e.Err.Error()
}

func (e *RemoteFetchError) Unwrap() error {
	return e.Err
}

// IsRemoteFetchError reports whether err wraps a *RemoteFetchError.
func IsRemoteFetchError(err error) bool {
	var rfe *RemoteFetchError
	return errors.As(err, &rfe)
}
