package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cs350892/market-server/internal/repo"
)

// Task types handled by cmd/worker.
const (
	TypeEventNotify = "event:notify"
	TypeOfferExpire = "offer:expire"
)

// Queue names with their relative priority on the worker.
const (
	QueueCritical      = "critical"
	QueueNotifications = "notifications"
	QueueDefault       = "default"
)

// Priorities returns the weighted queue map for asynq.Config.Queues.
func Priorities() map[string]int {
	return map[string]int{
		QueueCritical:      6,
		QueueNotifications: 3,
		QueueDefault:       1,
	}
}

// EventPayload is the task body of an event:notify task.
type EventPayload struct {
	EventID     string          `json:"eventId"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// NewEventNotifyTask wraps a persisted domain event into a notification task.
func NewEventNotifyTask(ev repo.DomainEvent, opts ...asynq.Option) (*asynq.Task, error) {
	body := EventPayload{
		EventID:     repo.UUIDString(ev.ID),
		Topic:       ev.Topic,
		AggregateID: repo.UUIDString(ev.AggregateID),
		Payload:     json.RawMessage(ev.Payload),
	}
	if len(body.Payload) == 0 {
		body.Payload = json.RawMessage("{}")
	}
	if ev.OccurredAt.Valid {
		body.OccurredAt = ev.OccurredAt.Time.UTC()
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("queue: encode event task: %w", err)
	}
	return asynq.NewTask(TypeEventNotify, data, opts...), nil
}

// ParseEventPayload decodes the body of an event:notify task.
func ParseEventPayload(t *asynq.Task) (EventPayload, error) {
	var p EventPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return EventPayload{}, fmt.Errorf("queue: decode event task: %w", err)
	}
	if p.Topic == "" {
		return EventPayload{}, fmt.Errorf("queue: event task without topic")
	}
	return p, nil
}

// NewOfferExpireTask builds the periodic offer expiry sweep. Unique keeps
// overlapping scheduler ticks from stacking duplicate sweeps.
func NewOfferExpireTask() *asynq.Task {
	return asynq.NewTask(TypeOfferExpire, nil,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Unique(time.Minute),
	)
}
