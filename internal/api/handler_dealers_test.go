package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"margaz-backend/internal/mw"
	"margaz-backend/internal/model"
)

func (e *testEnv) seedHistory(t *testing.T, dealerID string, level float64, at time.Time) {
	t.Helper()
	require.NoError(t, e.store.DB().Create(&model.TelemetryHistory{
		DeviceID: "D1", DealerID: dealerID, TankLevel: level, Timestamp: at,
	}).Error)
}

func TestListAndGetDealers(t *testing.T) {
	env := newTestEnv(t, enforceConfig())
	env.seedDealer(t, "dealer-1", "Kadikoy Gas", "D1", 80)
	env.seedDealer(t, "dealer-2", "Besiktas Gas", "", 10)

	w := env.do(http.MethodGet, "/api/dealers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var dealers []model.Dealer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dealers))
	assert.Len(t, dealers, 2)

	w = env.do(http.MethodGet, "/api/dealers/dealer-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Kadikoy Gas", body["title"])
	assert.Equal(t, "D1", body["deviceId"])

	w = env.do(http.MethodGet, "/api/dealers/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Dealer not found"}`, w.Body.String())
}

func TestGetDealerHistory(t *testing.T) {
	env := newTestEnv(t, enforceConfig())
	env.seedDealer(t, "dealer-1", "Kadikoy Gas", "D1", 80)
	env.seedHistory(t, "dealer-1", 70, testNow.Add(-2*time.Hour))
	env.seedHistory(t, "dealer-1", 60, testNow.Add(-30*time.Hour))
	env.seedHistory(t, "dealer-1", 50, testNow.Add(-50*time.Hour))

	history := func(path string) []model.TelemetryHistory {
		w := env.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var rows []model.TelemetryHistory
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
		return rows
	}

	assert.Len(t, history("/api/dealers/dealer-1/history"), 1)
	assert.Len(t, history("/api/dealers/dealer-1/history?hours=48"), 2)
	assert.Len(t, history("/api/dealers/dealer-1/history?hours=abc"), 1)

	start := testNow.Add(-60 * time.Hour).Format(time.RFC3339)
	end := testNow.Add(-10 * time.Hour).Format(time.RFC3339)
	rows := history("/api/dealers/dealer-1/history?start=" + start + "&end=" + end)
	require.Len(t, rows, 2)
	assert.Equal(t, 50.0, rows[0].TankLevel)
	assert.Equal(t, 60.0, rows[1].TankLevel)
}

func TestGetDealerHistory_BadRange(t *testing.T) {
	env := newTestEnv(t, enforceConfig())

	w := env.do(http.MethodGet, "/api/dealers/dealer-1/history?start=yesterday&end=today", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Invalid start or end date"}`, w.Body.String())

	w = env.do(http.MethodGet, "/api/dealers/dealer-1/history?start=2024-01-02T00:00:00Z&end=2024-01-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Start date must be before end date"}`, w.Body.String())
}

func TestDealerCacheIsFlushedByTelemetry(t *testing.T) {
	env := newTestEnv(t, offConfig())
	env.seedDealer(t, "dealer-1", "Kadikoy Gas", "D1", 80)

	w := env.do(http.MethodGet, "/api/dealers/dealer-1", nil)
	assert.Equal(t, "MISS", w.Header().Get(mw.CacheHeader))
	w = env.do(http.MethodGet, "/api/dealers/dealer-1", nil)
	assert.Equal(t, "HIT", w.Header().Get(mw.CacheHeader))

	w = env.do(http.MethodPost, "/api/telemetry", `{"device_id":"D1","tank_level":12}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/dealers/dealer-1", nil)
	assert.Equal(t, "MISS", w.Header().Get(mw.CacheHeader))
	assert.Equal(t, 12.0, decode(t, w)["tankLevel"])
}

func TestListDevices(t *testing.T) {
	env := newTestEnv(t, offConfig())

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/telemetry", `{"device_id":"A","tank_level":1}`).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/telemetry", `{"device_id":"B","tank_level":2}`).Code)

	w := env.do(http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var devices []model.Device
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &devices))
	assert.Len(t, devices, 2)
}
