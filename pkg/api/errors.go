package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rhinehart514/hivesync/pkg/auth"
	"github.com/rhinehart514/hivesync/pkg/engine"
	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/stream"
)

// Stable error codes. Clients branch on these, not on messages.
const (
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeInvalidInput = "invalid_input"
	CodeNotFound     = "not_found"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal_error"
)

// ErrorBody is the envelope every error response carries.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail pairs a stable code with a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// abortWithCode writes the error envelope for a known code and stops the
// handler chain.
func abortWithCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

// abortWithError maps an internal error to the taxonomy. Unrecognized errors
// become internal_error with a generic message; the real cause stays in the
// server log, not the response.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidInput):
		abortWithCode(c, http.StatusBadRequest, CodeInvalidInput, err.Error())
	case storage.IsNotFound(err):
		abortWithCode(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		abortWithCode(c, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
	case errors.Is(err, auth.ErrForbidden):
		abortWithCode(c, http.StatusForbidden, CodeForbidden, "permission denied")
	case errors.Is(err, stream.ErrTooManyConnections):
		abortWithCode(c, http.StatusTooManyRequests, CodeRateLimited, err.Error())
	default:
		logInternalError(c, err)
		abortWithCode(c, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
