package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the pokemon domain. Use errors.Is() to check these.
var (
	// ErrPokemonNotFound indicates the remote catalog has no entry for the requested name.
	ErrPokemonNotFound = errors.New("pokemon not found")

	// ErrInvalidQuery indicates a search query violates domain constraints.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrSessionNotFound indicates the browse session does not exist or has expired.
	ErrSessionNotFound = errors.New("browse session not found")

	// ErrInvalidResourceURL indicates a remote list entry carried a URL without a numeric id segment.
	ErrInvalidResourceURL = errors.New("invalid resource url")
)

// TransportError is a connectivity-level failure talking to the remote catalog:
// dial errors, timeouts, reset connections, an open circuit breaker.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteStatusError is a non-2xx response from the remote catalog.
type RemoteStatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote %s returned HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("remote %s returned HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrPokemonNotFound) match a 404 from the detail endpoint.
func (e *RemoteStatusError) Is(target error) bool {
	return target == ErrPokemonNotFound && e.StatusCode == http.StatusNotFound
}

// StorageError is a local persistence failure. A merge that fails with a
// StorageError has been rolled back in full.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a remote failure the caller may retry.
// Storage failures and malformed payloads are not retryable.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var statusErr *RemoteStatusError
	return errors.As(err, &statusErr)
}
