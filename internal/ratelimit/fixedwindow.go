package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// FixedWindow wraps a ulule limiter backed by the shared Redis client. The quote
// endpoint uses it: cheap, approximate, and shared across API replicas.
type FixedWindow struct {
	lim *limiter.Limiter
}

// NewFixedWindow allows max hits per window per key.
func NewFixedWindow(client redis.UniversalClient, prefix string, window time.Duration, max int) (*FixedWindow, error) {
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix, MaxRetry: 3})
	if err != nil {
		return nil, fmt.Errorf("ratelimit store: %w", err)
	}
	rate := limiter.Rate{Period: window, Limit: int64(max)}
	return &FixedWindow{lim: limiter.New(store, rate)}, nil
}

// Take records one hit for key.
func (f *FixedWindow) Take(ctx context.Context, key string) (Decision, error) {
	res, err := f.lim.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("fixed window %s: %w", key, err)
	}
	return Decision{
		Allowed:   !res.Reached,
		Limit:     int(res.Limit),
		Remaining: int(res.Remaining),
		Reset:     time.Unix(res.Reset, 0),
	}, nil
}
