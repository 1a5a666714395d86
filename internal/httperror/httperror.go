// Package httperror defines the error type rendered by the relay's HTTP API.
package httperror

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

type HTTPError struct {
	error
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *HTTPError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.Code)
	return nil
}

func (e *HTTPError) Unwrap() error {
	return e.error
}

func New(code int, message string, cause error) *HTTPError {
	return &HTTPError{
		error:   cause,
		Code:    code,
		Message: message,
	}
}

func ServiceUnavailable(message string, err error) *HTTPError {
	return New(http.StatusServiceUnavailable, message, fmt.Errorf("%s: %w", message, err))
}

func BadRequestWithError(message string, err error) *HTTPError {
	return New(http.StatusBadRequest, message, fmt.Errorf("%s: %w", message, err))
}
