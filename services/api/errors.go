package api

import (
	"errors"
	"net/http"

	"liquidity-sweep-backtest/services/engine"
	"liquidity-sweep-backtest/services/marketdata"
)

// APIError is the error body of every failed request
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e APIError) Error() string {
	if e.Details == "" {
		return e.Code + ": " + e.Message
	}
	return e.Code + ": " + e.Message + ": " + e.Details
}

var (
	ErrInvalidParams    = APIError{Code: "INVALID_PARAMS", Message: "Invalid parameters provided"}
	ErrInsufficientData = APIError{Code: "INSUFFICIENT_DATA", Message: "Not enough bars to run a backtest"}
	ErrDataNotFound     = APIError{Code: "DATA_NOT_FOUND", Message: "Required data not available"}
	ErrJobNotFound      = APIError{Code: "JOB_NOT_FOUND", Message: "Backtest job not found"}
	ErrJobNotFinished   = APIError{Code: "JOB_NOT_FINISHED", Message: "Backtest job has no report yet"}
	ErrExecutionFailed  = APIError{Code: "EXECUTION_FAILED", Message: "Backtest execution failed"}
)

func (e APIError) with(err error) *APIError {
	e.Details = err.Error()
	return &e
}

// classify maps engine and loader errors onto the API taxonomy
func classify(err error) (int, *APIError) {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return statusOf(*apiErr), apiErr
	case errors.Is(err, engine.ErrInvalidConfig), errors.Is(err, engine.ErrUnorderedSeries):
		return http.StatusBadRequest, ErrInvalidParams.with(err)
	case errors.Is(err, engine.ErrInsufficientData), errors.Is(err, marketdata.ErrNoBars):
		return http.StatusUnprocessableEntity, ErrInsufficientData.with(err)
	default:
		return http.StatusInternalServerError, ErrExecutionFailed.with(err)
	}
}

func statusOf(e APIError) int {
	switch e.Code {
	case ErrInvalidParams.Code:
		return http.StatusBadRequest
	case ErrInsufficientData.Code:
		return http.StatusUnprocessableEntity
	case ErrDataNotFound.Code, ErrJobNotFound.Code:
		return http.StatusNotFound
	case ErrJobNotFinished.Code:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
