package services

import "github.com/ghuser/pokedex/services/pokemon/domain/models"

// UnknownErrorMessage is reported by DetailError when the failure carries no message.
const UnknownErrorMessage = "An unknown error occurred"

// DetailResult is one state of a detail lookup.
// Variants: DetailLoading, DetailSuccess, DetailError.
type DetailResult interface {
	isDetailResult()
}

// DetailLoading is emitted before the lookup completes.
type DetailLoading struct{}

// DetailSuccess carries the resolved details.
type DetailSuccess struct {
	Details models.Details
}

// DetailError carries a displayable message and the underlying error.
type DetailError struct {
	Message string
	Err     error
}

func (DetailLoading) isDetailResult() {}
func (DetailSuccess) isDetailResult() {}
func (DetailError) isDetailResult()   {}

// NewDetailError builds a DetailError from err.
func NewDetailError(err error) DetailError {
	msg := UnknownErrorMessage
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return DetailError{Message: msg, Err: err}
}
