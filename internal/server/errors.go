package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/storefront-agent/internal/marketplace"
	"github.com/jonathan/storefront-agent/internal/pipeline"
	"github.com/jonathan/storefront-agent/internal/publish"
	"github.com/jonathan/storefront-agent/internal/types"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		verr   *ErrValidation
		fields validator.ValidationErrors
		noCred *marketplace.NoCredentialError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &fields), errors.Is(err, publish.ErrMissingFields):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrEntityNotFound), errors.Is(err, pipeline.ErrOpportunityNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrStatusConflict), errors.Is(err, pipeline.ErrEntityBusy),
		errors.Is(err, publish.ErrNotPublishable), errors.Is(err, pipeline.ErrNotRegenerable):
		return http.StatusConflict
	case errors.As(err, &noCred):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}
