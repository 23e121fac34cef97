package client

import (
	"errors"
	"fmt"
)

// ErrQueryTooShort is returned by SearchLocations for text under MinQueryLength characters.
var ErrQueryTooShort = errors.New("search text must be at least 3 characters")

// RemoteError describes a failed request to a remote service. Status is the
// HTTP status code, or 0 when the service could not be reached.
type RemoteError struct {
	Status  int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("remote service unreachable: %s", e.Message)
	}
	return fmt.Sprintf("remote service error %d: %s", e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// StatusOf returns the remote status carried by err, or 0.
func StatusOf(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}
