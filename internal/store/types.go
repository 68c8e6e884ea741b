package store

import (
	"errors"
	"time"

	"margaz-backend/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("record not found")

// Applied is the outcome of writing one accepted reading to a dealer.
type Applied struct {
	Dealer        model.Dealer
	PreviousLevel float64
	History       model.TelemetryHistory
}

// HistoryQuery selects a dealer's readings in [From, To].
type HistoryQuery struct {
	DealerID string
	From     time.Time
	To       time.Time
}
