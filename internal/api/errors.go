package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"margaz-backend/internal/logging"
	"margaz-backend/internal/telemetry"
)

const msgInternal = "Internal Server Error"

// statusFor maps a telemetry rejection class to an HTTP status.
func statusFor(class telemetry.Class) int {
	switch class {
	case telemetry.ClassInvalid:
		return http.StatusBadRequest
	case telemetry.ClassForbidden:
		return http.StatusForbidden
	case telemetry.ClassUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError answers with the rejection's own message, or with a generic
// 500 after logging the cause.
func (h *Handler) respondError(c *gin.Context, err error) {
	var rej *telemetry.Rejection
	if errors.As(err, &rej) {
		c.JSON(statusFor(rej.Class), gin.H{"error": rej.Message})
		return
	}
	h.log.Error("request failed",
		zap.String("request_id", logging.RequestID(c)),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
}
