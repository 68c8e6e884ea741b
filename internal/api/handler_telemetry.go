package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"margaz-backend/internal/telemetry"
)

const maxTelemetryBody = 64 << 10

// PostTelemetry handles POST /api/telemetry.
func (h *Handler) PostTelemetry(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxTelemetryBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	// An empty body is an empty report, so the device learns which field is missing.
	var report telemetry.Report
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &report); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}
	report.Body = body
	report.ClientIP = c.ClientIP()

	result, err := h.telemetry.Ingest(c.Request.Context(), report)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if result.NeedsAssignment {
		c.JSON(http.StatusOK, gin.H{
			"message":         "Device registered but not assigned to a dealer",
			"device":          result.DeviceID,
			"needsAssignment": true,
		})
		return
	}

	// Dashboard reads must see the new level.
	if h.cache != nil {
		h.cache.Flush()
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Data received & forwarded",
		"device":  result.DeviceID,
		"dealer":  result.Dealer.Title,
	})
}

// GetTelemetryTime handles GET /api/telemetry/time. Devices use it to set
// their clock before signing.
func (h *Handler) GetTelemetryTime(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"epoch_ms": h.now().UnixMilli()})
}
