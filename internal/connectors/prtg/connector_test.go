package prtg

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnector(t *testing.T, serverURL string) *Connector {
	t.Helper()
	cfg, _ := json.Marshal(map[string]any{
		"url":                   serverURL,
		"api_token":             "tok",
		"poll_interval_seconds": 60,
	})
	c, err := New(cfg, newNormalizer(t, nil))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Stop() })
	return c
}

func TestPollNormalizesAlertSensors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/table.json", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("apitoken"))
		assert.Equal(t, "sensors", r.URL.Query().Get("content"))
		json.NewEncoder(w).Encode(map[string]any{
			"sensors": []map[string]any{
				{
					"objid":      101,
					"sensor":     "Ping",
					"device":     "sw1",
					"status_raw": 5,
					"message":    "timeout",
					"host":       "10.1.1.1",
					"type":       "ping",
				},
				{
					// No resolvable device IP: dropped, not fatal.
					"objid":      102,
					"sensor":     "Ping",
					"device":     "unresolvable.invalid",
					"status_raw": 5,
					"host":       "unresolvable.invalid",
				},
			},
		})
	}))
	defer srv.Close()

	c := newConnector(t, srv.URL)
	alerts, err := c.Poll(context.Background())
	require.NoError(t, err)

	require.Len(t, alerts, 1)
	assert.Equal(t, "101", alerts[0].SourceAlertID)
	assert.Equal(t, "prtg_ping_down", alerts[0].AlertType)
}

func TestPollAuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newConnector(t, srv.URL)
	_, err := c.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication rejected")
}

func TestTestConnectionStatusEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/getstatus.json", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"Version": "23.1", "Alarms": "2"})
	}))
	defer srv.Close()

	c := newConnector(t, srv.URL)
	res := c.TestConnection(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, "23.1", res.Details["version"])
}

func TestTestConnectionFallsBackToTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/getstatus.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		require.Equal(t, "/api/table.json", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"treesize": float64(420)})
	}))
	defer srv.Close()

	c := newConnector(t, srv.URL)
	res := c.TestConnection(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, float64(420), res.Details["sensor_count"])
}

func TestHandleWebhook(t *testing.T) {
	c := newConnector(t, "http://unused.invalid")

	alert, err := c.HandleWebhook(context.Background(), webhookDown())
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "prtg_ping_down", alert.AlertType)
}

func TestStartIsIdempotent(t *testing.T) {
	c := newConnector(t, "http://unused.invalid")
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
}

func TestMissingAuthRejected(t *testing.T) {
	cfg, _ := json.Marshal(map[string]any{"url": "http://unused.invalid"})
	c, err := New(cfg, newNormalizer(t, nil))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	_, err = c.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication not configured")
}
