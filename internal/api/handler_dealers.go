package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"margaz-backend/internal/store"
)

const defaultHistoryHours = 24

// ListDealers handles GET /api/dealers.
func (h *Handler) ListDealers(c *gin.Context) {
	dealers, err := h.store.ListDealers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dealers)
}

// GetDealer handles GET /api/dealers/:id.
func (h *Handler) GetDealer(c *gin.Context) {
	dealer, err := h.store.FindDealer(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Dealer not found"})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dealer)
}

// GetDealerHistory handles GET /api/dealers/:id/history. Either both start
// and end (RFC 3339) are given, or the last `hours` hours are returned.
func (h *Handler) GetDealerHistory(c *gin.Context) {
	q, ok := h.historyQuery(c)
	if !ok {
		return
	}

	history, err := h.store.DealerHistory(c.Request.Context(), q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) historyQuery(c *gin.Context) (store.HistoryQuery, bool) {
	q := store.HistoryQuery{DealerID: c.Param("id")}

	start, end := c.Query("start"), c.Query("end")
	if start != "" && end != "" {
		from, errFrom := time.Parse(time.RFC3339, start)
		to, errTo := time.Parse(time.RFC3339, end)
		if errFrom != nil || errTo != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start or end date"})
			return q, false
		}
		if from.After(to) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Start date must be before end date"})
			return q, false
		}
		q.From, q.To = from, to
		return q, true
	}

	hours, err := strconv.Atoi(c.Query("hours"))
	if err != nil || hours <= 0 {
		hours = defaultHistoryHours
	}
	q.To = h.now()
	q.From = q.To.Add(-time.Duration(hours) * time.Hour)
	return q, true
}

// ListDevices handles GET /api/devices.
func (h *Handler) ListDevices(c *gin.Context) {
	devices, err := h.store.ListDevices(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, devices)
}
