package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chainattend/internal/account"
	"chainattend/internal/attendance"
	"chainattend/internal/integrity"
	"chainattend/internal/logger"
)

// Error codes returned alongside messages.
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeDigestMismatch = "DIGEST_MISMATCH"
	CodeStale          = "STALE_TIMESTAMP"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeUnavailable    = "UNAVAILABLE"
	CodeInternalError  = "INTERNAL_ERROR"
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(c *gin.Context, status int, msg, code string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code})
}

// fail maps service errors to HTTP statuses.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, integrity.ErrInvalidInput), errors.Is(err, account.ErrInvalidUser):
		writeError(c, http.StatusBadRequest, err.Error(), CodeInvalidInput)
	case errors.Is(err, attendance.ErrDigestMismatch):
		writeError(c, http.StatusUnprocessableEntity, "Attendance hash does not match", CodeDigestMismatch)
	case errors.Is(err, attendance.ErrStale):
		writeError(c, http.StatusUnprocessableEntity, err.Error(), CodeStale)
	case errors.Is(err, attendance.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error(), CodeNotFound)
	case errors.Is(err, account.ErrUserExists):
		writeError(c, http.StatusConflict, err.Error(), CodeConflict)
	case errors.Is(err, account.ErrBadCredentials):
		writeError(c, http.StatusUnauthorized, err.Error(), CodeUnauthorized)
	default:
		logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		writeError(c, http.StatusInternalServerError, "internal error", CodeInternalError)
	}
}
