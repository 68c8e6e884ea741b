package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"margaz-backend/config"
	"margaz-backend/internal/db"
	"margaz-backend/internal/metrics"
	"margaz-backend/internal/model"
	"margaz-backend/internal/store"
	"margaz-backend/internal/telemetry"
)

var testNow = time.UnixMilli(1700000000000).UTC()

type testEnv struct {
	router  *gin.Engine
	store   store.Store
	handler *Handler
}

func newTestEnv(t *testing.T, cfg telemetry.Config) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gormDB))

	st := store.NewGormStore(gormDB)
	clock := func() time.Time { return testNow }
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	if cfg.MaxSkew == 0 {
		cfg.MaxSkew = 15 * time.Minute
	}
	svc := telemetry.NewService(cfg, st, telemetry.NewMemoryGuard(cfg.MaxSkew), nil,
		telemetry.WithClock(clock), telemetry.WithRecorder(m))

	h := NewHandler(st, svc, &webpush.Options{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}, nil, nil, "1.1.0")
	h.now = clock

	router := NewRouter(h, RouterOptions{
		Server: config.ServerConfig{
			RateLimitPerSec:     1000,
			RateLimitBurst:      1000,
			TelemetryRatePerMin: 6000,
			CacheTTLSeconds:     30,
		},
		Metrics:  m,
		Gatherer: reg,
	})
	return &testEnv{router: router, store: st, handler: h}
}

func enforceConfig() telemetry.Config {
	return telemetry.Config{
		SecurityMode:      telemetry.SecurityEnforce,
		DefaultAuthMode:   telemetry.AuthSigned,
		AllowAutoRegister: true,
	}
}

func (e *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedDealer(t *testing.T, id, title, deviceID string, level float64) {
	t.Helper()
	dealer := model.Dealer{ID: id, Title: title, City: "Ankara", TankLevel: level}
	if deviceID != "" {
		dealer.DeviceID = &deviceID
	}
	require.NoError(t, e.store.DB().Create(&dealer).Error)
}

func (e *testEnv) seedAuth(t *testing.T, deviceID, mode, secret string, active bool) {
	t.Helper()
	require.NoError(t, e.store.DB().Create(&model.DeviceAuth{
		DeviceID: deviceID, AuthMode: mode, Secret: secret, Active: active,
	}).Error)
}

func (e *testEnv) historyCount(t *testing.T, dealerID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.store.DB().Model(&model.TelemetryHistory{}).Where("dealer_id = ?", dealerID).Count(&n).Error)
	return n
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func offConfig() telemetry.Config {
	return telemetry.Config{
		SecurityMode:      telemetry.SecurityOff,
		DefaultAuthMode:   telemetry.AuthSigned,
		AllowAutoRegister: true,
	}
}
