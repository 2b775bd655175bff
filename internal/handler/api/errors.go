package api

import (
	"errors"

	"SwapQuote/internal/service/resilience"
	"SwapQuote/internal/usecase"
	xhttp "SwapQuote/pkg/http"
)

// toAppError maps usecase errors onto HTTP errors.
func toAppError(err error) *xhttp.AppError {
	var nq *usecase.NoQuoteError
	switch {
	case errors.As(err, &nq):
		appErr := xhttp.ServiceUnavailableError("no quote source reachable").WithError(err)
		for name, ferr := range nq.Failures {
			if resilience.IsCircuitOpen(ferr) {
				appErr.WithParam(name, "temporarily avoided: circuit open")
				continue
			}
			appErr.WithParam(name, "failed")
		}
		return appErr
	case errors.Is(err, usecase.ErrInvalidParams):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrUnknownSource):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
