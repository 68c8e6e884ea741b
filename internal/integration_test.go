package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"margaz-backend/config"
	"margaz-backend/internal/api"
	"margaz-backend/internal/db"
	"margaz-backend/internal/forward"
	"margaz-backend/internal/metrics"
	"margaz-backend/internal/model"
	"margaz-backend/internal/notification"
	"margaz-backend/internal/store"
	"margaz-backend/internal/telemetry"
)

type recordingSender struct {
	sent chan string
}

func (s *recordingSender) Send(payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
	s.sent <- sub.Endpoint + " " + string(payload)
	return &http.Response{StatusCode: http.StatusCreated, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

// TestTelemetryLifecycle runs a signed device from first contact to a
// low-level alert through the real HTTP stack, store, relay and worker pool.
func TestTelemetryLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Downstream collector ---
	forwarded := make(chan []byte, 4)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		forwarded <- body
		w.WriteHeader(http.StatusAccepted)
	}))
	defer collector.Close()

	// --- Database ---
	gormDB, err := db.Init(&config.DatabaseConfig{
		DSN:          "file:" + filepath.Join(t.TempDir(), "margaz.db") + "?_foreign_keys=on",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	appStore := store.NewGormStore(gormDB)

	deviceID := "D1"
	require.NoError(t, gormDB.Create(&model.Dealer{ID: "dealer-1", Title: "Kadikoy Gas", DeviceID: &deviceID, TankLevel: 60}).Error)

	// --- Services ---
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	relay := forward.New(forward.Options{URL: collector.URL, Timeout: time.Second, QueueSize: 8, Workers: 1}, nil, m)
	relay.Start(ctx)

	sender := &recordingSender{sent: make(chan string, 4)}
	pool := notification.NewWorkerPool(1, appStore, &webpush.Options{}, nil)
	pool.SetSender(sender)
	pool.Start(ctx)

	now := time.Now()
	ingest := telemetry.NewService(telemetry.Config{
		SecurityMode:      telemetry.SecurityEnforce,
		DefaultAuthMode:   telemetry.AuthSigned,
		MaxSkew:           15 * time.Minute,
		AllowAutoRegister: true,
		LowLevelThreshold: 20,
	}, appStore, telemetry.NewMemoryGuard(15*time.Minute), nil,
		telemetry.WithForwarder(relay),
		telemetry.WithAlerter(pool),
		telemetry.WithRecorder(m),
		telemetry.WithClock(func() time.Time { return now }))

	handler := api.NewHandler(appStore, ingest, &webpush.Options{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}, nil, nil, "1.1.0")
	server := httptest.NewServer(api.NewRouter(handler, api.RouterOptions{
		Server:   config.ServerConfig{RateLimitPerSec: 100, RateLimitBurst: 100, TelemetryRatePerMin: 600, CacheTTLSeconds: 30},
		Metrics:  m,
		Gatherer: reg,
	}))
	defer server.Close()

	post := func(path string, body interface{}) *http.Response {
		raw, _ := json.Marshal(body)
		req, err := http.NewRequest(http.MethodPost, server.URL+path, bytes.NewReader(raw))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}
	report := func(level float64, counter string) map[string]interface{} {
		ts := strconv.FormatInt(now.UnixMilli(), 10)
		return map[string]interface{}{
			"device_id":  deviceID,
			"tank_level": level,
			"timestamp":  ts,
			"counter":    counter,
			"signature":  telemetry.Sign("S", deviceID, level, ts, counter),
		}
	}

	// --- 1. First contact: auto-registered as signed without a secret, refused. ---
	resp := post("/api/telemetry", report(50, "1"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// --- 2. Operator provisions the secret. ---
	require.NoError(t, gormDB.Model(&model.DeviceAuth{}).Where("device_id = ?", deviceID).Update("secret", "S").Error)

	// --- 3. An operator subscribes to the dealer. ---
	subReq, err := http.NewRequest(http.MethodPut, server.URL+"/api/subscriptions", bytes.NewReader([]byte(
		`{"endpoint":"https://push.example/1","p256dh":"k","auth":"a","subscribed_dealers":["dealer-1"]}`)))
	require.NoError(t, err)
	subResp, err := http.DefaultClient.Do(subReq)
	require.NoError(t, err)
	subResp.Body.Close()
	require.Equal(t, http.StatusCreated, subResp.StatusCode)

	// --- 4. Signed report above the threshold: stored and forwarded, no alert. ---
	first := report(45, "2")
	resp = post("/api/telemetry", first)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	select {
	case body := <-forwarded:
		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, first["signature"], got["signature"])
	case <-time.After(2 * time.Second):
		t.Fatal("payload was not forwarded")
	}

	// --- 5. Replay is refused and changes nothing. ---
	resp = post("/api/telemetry", first)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// --- 6. Level drops below the threshold: one alert to the subscriber. ---
	resp = post("/api/telemetry", report(15, "3"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	select {
	case msg := <-sender.sent:
		assert.Contains(t, msg, "https://push.example/1")
		assert.Contains(t, msg, "Kadikoy Gas: tank level is 15%")
	case <-time.After(2 * time.Second):
		t.Fatal("low-level alert was not sent")
	}

	// --- Final state ---
	dealer, err := appStore.FindDealer(ctx, "dealer-1")
	require.NoError(t, err)
	assert.Equal(t, 15.0, dealer.TankLevel)

	history, err := appStore.DealerHistory(ctx, store.HistoryQuery{
		DealerID: "dealer-1", From: now.Add(-time.Hour), To: now.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, history, 2)

	device, err := appStore.FindDevice(ctx, deviceID)
	require.NoError(t, err)
	require.NotNil(t, device.LastSeen)
}
