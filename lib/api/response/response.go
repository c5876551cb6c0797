package response

import (
	"aprendecomigo/lib/clock"
	"aprendecomigo/lib/errs"
	"errors"
	"net/http"
)

type Response struct {
	Data      interface{} `json:"data,omitempty"`
	Success   bool        `json:"success" validate:"required"`
	Message   string      `json:"message,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      errs.Code   `json:"code,omitempty"`
	Details   []string    `json:"details,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func Ok(data interface{}) Response {
	return Response{
		Data:      data,
		Success:   true,
		Message:   "Success",
		Timestamp: clock.Now(),
	}
}

func OkMessage(message string, data interface{}) Response {
	return Response{
		Data:      data,
		Success:   true,
		Message:   message,
		Timestamp: clock.Now(),
	}
}

func Error(message string) Response {
	return Response{
		Success:   false,
		Error:     message,
		Timestamp: clock.Now(),
	}
}

// FromError maps an error to a status code and an error envelope carrying
// the machine-readable code. Errors without a domain code are reported as
// internal without exposing their text.
func FromError(err error) (int, Response) {
	var e *errs.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, Response{
			Success:   false,
			Error:     "Internal server error",
			Code:      errs.CodeInternal,
			Timestamp: clock.Now(),
		}
	}
	return e.Code.HTTPStatus(), Response{
		Success:   false,
		Error:     e.Message,
		Code:      e.Code,
		Details:   e.Details,
		Timestamp: clock.Now(),
	}
}
