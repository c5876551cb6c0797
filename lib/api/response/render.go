package response

import (
	"aprendecomigo/lib/clock"
	"aprendecomigo/lib/errs"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// RenderError writes the error envelope with the status derived from the
// error code.
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := FromError(err)
	render.Status(r, status)
	render.JSON(w, r, resp)
}

// RenderBindError reports a request body that could not be decoded or
// failed validation.
func RenderBindError(w http.ResponseWriter, r *http.Request, err error) {
	resp := Response{
		Success:   false,
		Error:     fmt.Sprintf("Invalid request: %v", err),
		Code:      errs.CodeValidation,
		Timestamp: clock.Now(),
	}
	var e *errs.Error
	if errors.As(err, &e) {
		resp.Details = e.Details
	}
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, resp)
}
