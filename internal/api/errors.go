package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ephemchat/roomstate/internal/coordinator"
)

// ApiError is the failure envelope: a stable category string, an optional
// detail (development mode only) and the environment name.
type ApiError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Details    string `json:"details,omitempty"`
	Env        string `json:"env"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError(details string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
		Details:    details,
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    lower(http.StatusText(http.StatusForbidden)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewMethodNotAllowedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    lower(http.StatusText(http.StatusMethodNotAllowed)),
	}
}

func NewTooManyRequestsError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusTooManyRequests,
		Message:    lower(http.StatusText(http.StatusTooManyRequests)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

// fromCoordinatorError maps a typed coordinator failure onto the HTTP
// envelope. Internal detail is only exposed in development.
func fromCoordinatorError(err error) *ApiError {
	var cerr *coordinator.Error
	if !errors.As(err, &cerr) {
		return NewInternalServerError(err)
	}

	apiErr := &ApiError{
		Message: cerr.Reason,
		Details: cerr.Message,
		Err:     cerr,
	}

	switch cerr.Code {
	case coordinator.CodeValidation:
		apiErr.StatusCode = http.StatusBadRequest
	case coordinator.CodeForbidden:
		apiErr.StatusCode = http.StatusForbidden
	case coordinator.CodeNotFound:
		apiErr.StatusCode = http.StatusNotFound
	default:
		apiErr.StatusCode = http.StatusInternalServerError
		apiErr.Message = lower(http.StatusText(http.StatusInternalServerError))
		apiErr.Details = ""
	}

	return apiErr
}
