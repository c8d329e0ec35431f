package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tbellam/go-meeting/internal/control"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	// Reason is a stable machine-readable code set on authorization
	// denials. Clients key off it, so it never changes meaning.
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
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

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewForbiddenError(reason, message string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    message,
		Reason:     reason,
	}
}

func NewConflictError(message string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusConflict,
		Message:    message,
	}
}

func NewTooManyRequestsError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusTooManyRequests,
		Message:    lower(http.StatusText(http.StatusTooManyRequests)),
	}
}

func NewMethodNotAllowedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    lower(http.StatusText(http.StatusMethodNotAllowed)),
	}
}

// fromControlError translates control-plane outcomes into API responses.
func fromControlError(err error) *ApiError {
	var denial *control.DenialError
	if errors.As(err, &denial) {
		return NewForbiddenError(denial.Reason, denial.Message)
	}

	var rateLimited *control.RateLimitError
	if errors.As(err, &rateLimited) {
		return NewTooManyRequestsError()
	}

	var conflict *control.ConflictError
	if errors.As(err, &conflict) {
		return NewConflictError(conflict.Message)
	}

	if errors.Is(err, control.ErrNotFound) {
		return NewNotFoundError()
	}

	return NewInternalServerError(err)
}
