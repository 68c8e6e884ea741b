package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"margaz-backend/internal/store"
	"margaz-backend/internal/telemetry"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	telemetry *telemetry.Service
	webpush   *webpush.Options
	cache     *cache.Cache
	log       *zap.Logger
	version   string
	now       func() time.Time
}

// NewHandler creates a new API handler. responses may be nil when GET
// caching is disabled.
func NewHandler(s store.Store, ingest *telemetry.Service, webpushOptions *webpush.Options, responses *cache.Cache, log *zap.Logger, version string) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:     s,
		telemetry: ingest,
		webpush:   webpushOptions,
		cache:     responses,
		log:       log.Named("api"),
		version:   version,
		now:       time.Now,
	}
}
