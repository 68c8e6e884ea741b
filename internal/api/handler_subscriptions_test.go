package api

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutSubscription_BadRequest(t *testing.T) {
	env := newTestEnv(t, offConfig())

	w := env.do(http.MethodPut, "/api/subscriptions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPut, "/api/subscriptions", `{"endpoint":"https://push.example/1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t, offConfig())
	env.seedDealer(t, "dealer-1", "Kadikoy Gas", "D1", 80)
	env.seedDealer(t, "dealer-2", "Besiktas Gas", "D2", 80)
	endpoint := "https://push.example/send/abc%3D"

	w := env.do(http.MethodPut, "/api/subscriptions", map[string]interface{}{
		"endpoint":           endpoint,
		"p256dh":             "key",
		"auth":               "secret",
		"subscribed_dealers": []string{"dealer-1", "dealer-2", "unknown"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(http.MethodGet, "/api/subscriptions?endpoint="+endpoint, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []interface{}{"dealer-1", "dealer-2"}, decode(t, w)["subscribed_dealers"])

	w = env.do(http.MethodPut, "/api/subscriptions", map[string]interface{}{
		"endpoint":           endpoint,
		"p256dh":             "key2",
		"auth":               "secret2",
		"subscribed_dealers": []string{"dealer-2"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(http.MethodGet, "/api/subscriptions?endpoint="+endpoint, nil)
	assert.Equal(t, []interface{}{"dealer-2"}, decode(t, w)["subscribed_dealers"])

	w = env.do(http.MethodDelete, "/api/subscriptions", map[string]string{"endpoint": endpoint})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodGet, "/api/subscriptions?endpoint="+url.QueryEscape("x")+"&other=1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(http.MethodGet, "/api/subscriptions?endpoint="+endpoint, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSubscription_MissingEndpoint(t *testing.T) {
	env := newTestEnv(t, offConfig())

	w := env.do(http.MethodGet, "/api/subscriptions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"endpoint is required"}`, w.Body.String())
}
