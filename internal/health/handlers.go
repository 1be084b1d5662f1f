package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cs350892/market-server/internal/common"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the readiness gate. The API clears it when shutdown starts so
// load balancers drain traffic before the listener closes.
func SetReady(v bool) { ready.Store(v) }

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// Postgres probes the pool with a ping.
func Postgres(pool *pgxpool.Pool) Probe {
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}

// Redis probes the client with PING.
func Redis(client redis.UniversalClient) Probe {
	return func(ctx context.Context) error { return client.Ping(ctx).Err() }
}

// Handler exposes liveness and readiness endpoints.
type Handler struct {
	Probes  map[string]Probe
	Timeout time.Duration
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Live reports that the process is serving.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every probe concurrently under one timeout.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, readiness{Status: "draining", Checks: map[string]string{}})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	names := make([]string, 0, len(h.Probes))
	for name := range h.Probes {
		names = append(names, name)
	}
	sort.Strings(names)

	var mu sync.Mutex
	checks := make(map[string]string, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		probe := h.Probes[name]
		g.Go(func() error {
			result := "ok"
			if err := probe(gctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			checks[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := readiness{Status: "ok", Checks: checks}
	status := http.StatusOK
	for _, result := range checks {
		if result != "ok" {
			out.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	common.JSON(w, status, out)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return time.Second
	}
	return h.Timeout
}
