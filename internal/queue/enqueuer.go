package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/cs350892/market-server/internal/repo"
)

// Enqueuer is the part of *asynq.Client the API depends on.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EventNotifier is an events.Notifier that hands domain events to the worker
// as event:notify tasks. The event id doubles as the task id, so a re-emitted
// event is not delivered twice.
type EventNotifier struct {
	Client   Enqueuer
	Topics   map[string]bool
	MaxRetry int
	Log      zerolog.Logger
}

// NewEventNotifier enables the given topics.
func NewEventNotifier(client Enqueuer, topics []string, log zerolog.Logger) *EventNotifier {
	enabled := make(map[string]bool, len(topics))
	for _, t := range topics {
		enabled[t] = true
	}
	return &EventNotifier{Client: client, Topics: enabled, MaxRetry: 8, Log: log}
}

// Notify implements events.Notifier.
func (n *EventNotifier) Notify(ctx context.Context, ev repo.DomainEvent) error {
	if n == nil || n.Client == nil {
		return nil
	}
	if n.Topics != nil && !n.Topics[ev.Topic] {
		return nil
	}
	maxRetry := n.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 8
	}
	task, err := NewEventNotifyTask(ev)
	if err != nil {
		return err
	}
	info, err := n.Client.EnqueueContext(ctx, task,
		asynq.TaskID(repo.UUIDString(ev.ID)),
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", ev.Topic, err)
	}
	n.Log.Debug().Str("task_id", info.ID).Str("topic", ev.Topic).Msg("event_enqueued")
	return nil
}
