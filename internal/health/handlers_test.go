package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cs350892/market-server/internal/health"
)

func ok(context.Context) error { return nil }

func ready(t *testing.T, h health.Handler) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadyWithRedisProbe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := health.Handler{Probes: map[string]health.Probe{"db": ok, "redis": health.Redis(client)}}
	code, body := ready(t, h)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])

	mr.Close()
	code, body = ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	require.Equal(t, "ok", checks["db"])
	require.NotEqual(t, "ok", checks["redis"])
}

func TestReadyFailingProbe(t *testing.T) {
	h := health.Handler{Probes: map[string]health.Probe{
		"db": func(context.Context) error { return errors.New("connection refused") },
	}}
	code, body := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "connection refused", body["checks"].(map[string]any)["db"])
}

func TestReadyTimesOutSlowProbe(t *testing.T) {
	h := health.Handler{Timeout: 20 * time.Millisecond, Probes: map[string]health.Probe{
		"slow": func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}}
	code, _ := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadinessAfterShutdown(t *testing.T) {
	h := health.Handler{Probes: map[string]health.Probe{"db": ok}}
	t.Cleanup(func() { health.SetReady(true) })

	health.SetReady(false)
	code, body := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "draining", body["status"])

	health.SetReady(true)
	code, _ = ready(t, h)
	require.Equal(t, http.StatusOK, code)
}
