// SPDX-License-Identifier: MIT

package backend

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound     = errors.New("backend: campaign not found")
	ErrAuthRejected = errors.New("backend: credentials rejected")
	ErrUnavailable  = errors.New("backend: host unreachable or transport failure")
	ErrServer       = errors.New("backend: internal error (5xx)")
	ErrBadResponse  = errors.New("backend: invalid response format or malformed data")
)

// APIError wraps the sentinel errors with request context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Err       error // nested lower-level error (e.g. net.Error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("backend: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}
