package backend

import (
	"errors"
	"fmt"
)

// ErrUnavailable indicates the commerce backend could not be reached or
// returned a server error. Callers should treat this as transient.
var ErrUnavailable = errors.New("commerce backend unavailable")

// RejectedError carries a definitive business rejection from the backend.
// It is never retried.
type RejectedError struct {
	Code    string
	Message string
	Status  int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("backend rejected request: %s (%s)", e.Message, e.Code)
}

// AsRejection extracts a RejectedError from an error chain.
func AsRejection(err error) (*RejectedError, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}
