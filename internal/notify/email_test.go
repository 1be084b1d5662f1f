package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/events"
	"github.com/cs350892/market-server/internal/notify"
	"github.com/cs350892/market-server/internal/queue"
	"github.com/cs350892/market-server/internal/repo"
)

type users map[uuid.UUID]repo.User

func (u users) GetUserByID(_ context.Context, id pgtype.UUID) (repo.User, error) {
	if user, ok := u[uuid.UUID(id.Bytes)]; ok {
		return user, nil
	}
	return repo.User{}, pgx.ErrNoRows
}

type failingMail struct{}

func (failingMail) Send(string, string, string) error { return errors.New("smtp down") }

func task(t *testing.T, topic, payload string) *asynq.Task {
	t.Helper()
	tk, err := queue.NewEventNotifyTask(repo.DomainEvent{
		ID:          pgtype.UUID{Bytes: uuid.New(), Valid: true},
		Topic:       topic,
		AggregateID: pgtype.UUID{Bytes: uuid.New(), Valid: true},
		Payload:     []byte(payload),
		OccurredAt:  pgtype.Timestamptz{Time: time.Now(), Valid: true},
	})
	require.NoError(t, err)
	return tk
}

func setup() (*notify.EmailNotifier, *common.InMemoryEmail, uuid.UUID) {
	id := uuid.New()
	mail := &common.InMemoryEmail{}
	n := &notify.EmailNotifier{
		Users:   users{id: {ID: pgtype.UUID{Bytes: id, Valid: true}, Email: "asha@example.com", Name: "Asha"}},
		Mail:    mail,
		Enabled: true,
		Log:     zerolog.Nop(),
	}
	return n, mail, id
}

func TestEmailNotifierRendersOrderPaid(t *testing.T) {
	n, mail, id := setup()
	err := n.ProcessTask(context.Background(), task(t, events.TopicOrderPaid,
		`{"userId":"`+id.String()+`","number":"ORD-42","status":"CONFIRMED"}`))
	require.NoError(t, err)
	require.Len(t, mail.Outbox, 1)
	require.Equal(t, "asha@example.com", mail.Outbox[0].To)
	require.Equal(t, "Payment received for order ORD-42", mail.Outbox[0].Subject)
	require.Contains(t, mail.Outbox[0].Body, "Hi Asha,")
	require.Contains(t, mail.Outbox[0].Body, "order is confirmed")
}

func TestEmailNotifierStatusChange(t *testing.T) {
	n, mail, id := setup()
	require.NoError(t, n.ProcessTask(context.Background(), task(t, events.TopicOrderStatus,
		`{"userId":"`+id.String()+`","number":"ORD-7","status":"SHIPPED"}`)))
	require.Equal(t, "Order ORD-7 is now shipped", mail.Outbox[0].Subject)
}

func TestEmailNotifierSkipsWithoutRecipient(t *testing.T) {
	n, mail, _ := setup()
	require.NoError(t, n.ProcessTask(context.Background(), task(t, events.TopicOrderPaid, `{"number":"ORD-1"}`)))
	require.Empty(t, mail.Outbox)

	err := n.ProcessTask(context.Background(), task(t, events.TopicOrderPaid, `{"userId":"`+uuid.NewString()+`"}`))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestEmailNotifierTogglesAndDisabled(t *testing.T) {
	n, mail, id := setup()
	n.TopicToggles = map[string]bool{events.TopicOrderCreated: false}
	require.NoError(t, n.ProcessTask(context.Background(), task(t, events.TopicOrderCreated, `{"userId":"`+id.String()+`"}`)))
	require.Empty(t, mail.Outbox)

	n.TopicToggles = nil
	n.Enabled = false
	require.NoError(t, n.ProcessTask(context.Background(), task(t, events.TopicOrderCreated, `{"userId":"`+id.String()+`"}`)))
	require.Empty(t, mail.Outbox)
}

func TestEmailNotifierRetriesMailerFailure(t *testing.T) {
	n, _, id := setup()
	n.Mail = failingMail{}
	err := n.ProcessTask(context.Background(), task(t, events.TopicSupportReplied,
		`{"userId":"`+id.String()+`","subject":"Damaged pack"}`))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestEmailNotifierDropsMalformedTask(t *testing.T) {
	n, _, _ := setup()
	err := n.ProcessTask(context.Background(), asynq.NewTask(queue.TypeEventNotify, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
