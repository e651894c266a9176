// Package apierr defines the error kinds shared by every riskd domain and
// maps them onto HTTP responses.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rentwise/riskd/internal/logging"
	"github.com/rentwise/riskd/internal/validation"
)

// Error kinds. Domain errors wrap exactly one of these.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUnauthenticated   = errors.New("authentication required")
	ErrForbidden         = errors.New("insufficient role")
	ErrBadRequest        = errors.New("bad request")
)

// Error is a domain error carrying its kind.
type Error struct {
	Kind error
	Msg  string
}

// New creates a domain error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf is New with formatting.
func Newf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

// TransitionError reports an action that is not allowed from the entity's
// current state.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %s", e.Action, e.Entity, e.ID, e.From)
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Code returns the wire error code for err.
func Code(err error) string {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_state_transition"
	case errors.Is(err, ErrUnauthenticated):
		return "authentication_error"
	case errors.Is(err, ErrForbidden):
		return "authorization_error"
	case errors.Is(err, ErrBadRequest):
		return "invalid_request"
	}
	return "internal_error"
}

// Status returns the HTTP status for err.
func Status(err error) int {
	switch Code(err) {
	case "validation_error", "invalid_request":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "conflict", "invalid_state_transition":
		return http.StatusConflict
	case "authentication_error":
		return http.StatusUnauthorized
	case "authorization_error":
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// Write aborts the request with the JSON body for err. Internal errors are
// logged and their message is not exposed.
func Write(c *gin.Context, err error) {
	status := Status(err)
	body := gin.H{"error": Code(err), "message": err.Error()}

	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		body["details"] = verrs
	}
	if status == http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
		body["message"] = "internal server error"
	}
	c.AbortWithStatusJSON(status, body)
}

// Invalid writes a 400 for a malformed request body.
func Invalid(c *gin.Context, msg string) {
	Write(c, New(ErrBadRequest, msg))
}
