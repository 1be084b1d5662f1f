package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cs350892/market-server/internal/obs"
)

var (
	metricsOnce sync.Once

	// QueueDepth reports task counts per queue and state, refreshed by the stats endpoint.
	QueueDepth *prometheus.GaugeVec
	// TaskDuration observes handler latency per task type.
	TaskDuration *prometheus.HistogramVec
)

// RegisterMetrics creates the queue collectors once and registers them on reg.
func RegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks per queue and state.",
		}, []string{"queue", "state"})
		TaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Background task handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"})
		reg.MustRegister(QueueDepth, TaskDuration)
	})
}

// Instrument is an asynq middleware recording outcome counters, latency and a log line per task.
func Instrument(log zerolog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			start := time.Now()
			err := next.ProcessTask(ctx, t)
			elapsed := time.Since(start)
			if TaskDuration != nil {
				TaskDuration.WithLabelValues(t.Type()).Observe(elapsed.Seconds())
			}
			result := "ok"
			switch {
			case errors.Is(err, asynq.SkipRetry):
				result = "dropped"
			case err != nil:
				result = "error"
			}
			obs.Inc(obs.TasksProcessedTotal, t.Type(), result)

			evt := log.Info()
			if err != nil {
				evt = log.Warn().Err(err)
			}
			evt.Str("task_type", t.Type()).
				Dur("duration", elapsed).
				Str("result", result).
				Msg("task_processed")
			return err
		})
	}
}

func recordDepth(info *asynq.QueueInfo) {
	if QueueDepth == nil || info == nil {
		return
	}
	states := map[string]int{
		"pending":   info.Pending,
		"active":    info.Active,
		"scheduled": info.Scheduled,
		"retry":     info.Retry,
		"archived":  info.Archived,
	}
	for state, n := range states {
		QueueDepth.WithLabelValues(info.Queue, state).Set(float64(n))
	}
}

// PollDepth refreshes QueueDepth from the inspector every interval until ctx ends.
func PollDepth(ctx context.Context, insp Inspector, interval time.Duration, log zerolog.Logger) {
	if insp == nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		queues, err := insp.Queues()
		if err != nil {
			log.Warn().Err(err).Msg("queue_depth_poll_failed")
		}
		for _, q := range queues {
			info, err := insp.GetQueueInfo(q)
			if err != nil {
				continue
			}
			recordDepth(info)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
