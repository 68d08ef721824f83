// Package errhttp maps domain sentinel errors to HTTP status codes.
// Add a case to StatusFor for each new domain sentinel error.
package errhttp

import (
	"context"
	"errors"
	"net/http"

	"github.com/ghuser/pokedex/pkg/httpx"
	"github.com/ghuser/pokedex/pkg/resilience/circuitbreaker"
	"github.com/ghuser/pokedex/services/pokemon/domain"
)

// WriteError maps err to an HTTP status code and writes a JSON error response.
// Uses errors.Is() so wrapped sentinel errors are matched correctly.
// Defaults to 500 Internal Server Error for unrecognized errors, whose
// message is not echoed.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	httpx.JSONError(w, status, httpx.SafeError(err, status))
}

// StatusFor returns the HTTP status WriteError would use for err.
func StatusFor(err error) int {
	var (
		transportErr *domain.TransportError
		statusErr    *domain.RemoteStatusError
	)
	switch {
	case errors.Is(err, domain.ErrPokemonNotFound):
		return http.StatusNotFound // 404
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound // 404
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest // 400
	case errors.Is(err, circuitbreaker.ErrOpen):
		return http.StatusServiceUnavailable // 503
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout // 504
	case errors.As(err, &transportErr), errors.As(err, &statusErr):
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}
