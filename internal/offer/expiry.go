package offer

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/cs350892/market-server/internal/lock"
)

// Expirer is satisfied by *Service.
type Expirer interface {
	ExpireDue(ctx context.Context) (int64, error)
}

// Locker is satisfied by lock.Locker.
type Locker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// ExpirySweeper handles the periodic offer:expire task. Only one worker runs
// the sweep at a time; the others skip the tick.
type ExpirySweeper struct {
	Offers  Expirer
	Lock    Locker
	LockTTL time.Duration
	Log     zerolog.Logger
}

const expiryLockKey = "offer-expiry"

// ProcessTask implements asynq.Handler.
func (s ExpirySweeper) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	if s.Offers == nil || s.Lock == nil {
		return errors.New("offer expiry sweeper not configured")
	}
	err := s.Lock.TryWithLock(ctx, expiryLockKey, s.LockTTL, func(ctx context.Context) error {
		n, err := s.Offers.ExpireDue(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			s.Log.Info().Int64("expired", n).Msg("offers_expired")
		}
		return nil
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		s.Log.Debug().Msg("offer_expiry_skipped_locked")
		return nil
	}
	return err
}
