package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"margaz-backend/config"
	"margaz-backend/internal/logging"
	"margaz-backend/internal/metrics"
	"margaz-backend/internal/mw"
)

// RouterOptions carries the router's collaborators besides the Handler.
type RouterOptions struct {
	Server  config.ServerConfig
	Metrics *metrics.Metrics
	// Gatherer backs GET /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter creates and configures a new Gin router.
func NewRouter(handler *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(logging.GinMiddleware(handler.log), gin.Recovery())
	if opts.Metrics != nil {
		r.Use(opts.Metrics.GinMiddleware())
	}

	generalLimiter := mw.RateLimiter(rate.Limit(opts.Server.RateLimitPerSec), opts.Server.RateLimitBurst,
		"Too many requests, please try again later")
	telemetryLimiter := mw.RateLimiter(mw.PerMinute(opts.Server.TelemetryRatePerMin), opts.Server.TelemetryRatePerMin,
		"Too many telemetry requests")

	ttl := time.Duration(opts.Server.CacheTTLSeconds) * time.Second
	caching := func(c *gin.Context) { c.Next() }
	if ttl > 0 {
		if handler.cache == nil {
			handler.cache = cache.New(ttl, 2*ttl)
		}
		caching = mw.Cache(handler.cache, ttl)
	}

	r.GET("/health", handler.Health)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Device traffic has its own limiter.
	telemetry := r.Group("/api/telemetry")
	telemetry.Use(telemetryLimiter)
	{
		telemetry.POST("", handler.PostTelemetry)
		telemetry.GET("/time", handler.GetTelemetryTime)
	}

	api := r.Group("/api")
	api.Use(generalLimiter)
	{
		api.GET("/dealers", caching, handler.ListDealers)
		api.GET("/dealers/:id", caching, handler.GetDealer)
		api.GET("/dealers/:id/history", caching, handler.GetDealerHistory)
		api.GET("/devices", handler.ListDevices)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return r
}
