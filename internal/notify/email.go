package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/events"
	"github.com/cs350892/market-server/internal/queue"
	"github.com/cs350892/market-server/internal/repo"
)

// Recipients resolves the customer an event is addressed to.
type Recipients interface {
	GetUserByID(ctx context.Context, id pgtype.UUID) (repo.User, error)
}

// EmailNotifier handles event:notify tasks by mailing the customer named in the event payload.
type EmailNotifier struct {
	Users        Recipients
	Mail         common.EmailSender
	Enabled      bool
	TopicToggles map[string]bool
	Log          zerolog.Logger
}

// ProcessTask implements asynq.Handler. Malformed tasks and unknown users are
// dropped without retry; mailer failures are returned so asynq retries them.
func (n *EmailNotifier) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if n == nil || !n.Enabled || n.Mail == nil {
		return nil
	}
	ev, err := queue.ParseEventPayload(t)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if n.TopicToggles != nil {
		if enabled, ok := n.TopicToggles[ev.Topic]; ok && !enabled {
			return nil
		}
	}
	payload := map[string]any{}
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("%w: decode payload: %v", asynq.SkipRetry, err)
		}
	}
	userID, _ := payload["userId"].(string)
	uid, err := repo.ParseUUID(userID)
	if err != nil {
		n.Log.Warn().Str("topic", ev.Topic).Str("event_id", ev.EventID).Msg("notify_no_recipient")
		return nil
	}
	user, err := n.Users.GetUserByID(ctx, uid)
	if repo.IsNotFound(err) {
		return fmt.Errorf("%w: user %s not found", asynq.SkipRetry, userID)
	}
	if err != nil {
		return fmt.Errorf("notify: load user: %w", err)
	}
	to := strings.TrimSpace(user.Email)
	if to == "" {
		return nil
	}
	if err := n.Mail.Send(to, subjectFor(ev.Topic, payload), bodyFor(user.Name, ev.Topic, payload, ev.OccurredAt)); err != nil {
		return fmt.Errorf("notify: send %s: %w", ev.Topic, err)
	}
	n.Log.Info().Str("topic", ev.Topic).Str("event_id", ev.EventID).Msg("notify_email_sent")
	return nil
}

func subjectFor(topic string, payload map[string]any) string {
	number := str(payload, "number")
	switch topic {
	case events.TopicOrderCreated:
		return fmt.Sprintf("We received your order %s", number)
	case events.TopicOrderPaid:
		return fmt.Sprintf("Payment received for order %s", number)
	case events.TopicOrderCanceled:
		return fmt.Sprintf("Order %s was cancelled", number)
	case events.TopicOrderStatus:
		return fmt.Sprintf("Order %s is now %s", number, humanStatus(str(payload, "status")))
	case events.TopicPaymentFailed:
		return fmt.Sprintf("Payment failed for order %s", number)
	case events.TopicSupportReplied:
		return fmt.Sprintf("New reply on your ticket: %s", str(payload, "subject"))
	default:
		return "Update on your account"
	}
}

func bodyFor(name, topic string, payload map[string]any, occurred time.Time) string {
	var b strings.Builder
	if name = strings.TrimSpace(name); name != "" {
		fmt.Fprintf(&b, "Hi %s,\n\n", name)
	} else {
		b.WriteString("Hello,\n\n")
	}
	switch topic {
	case events.TopicOrderCreated:
		fmt.Fprintf(&b, "Thanks for your order %s. Amount payable: %s.\n", str(payload, "number"), str(payload, "payable"))
		b.WriteString("Complete the payment to confirm it.\n")
	case events.TopicOrderPaid:
		fmt.Fprintf(&b, "Your payment for order %s was successful and the order is confirmed.\n", str(payload, "number"))
	case events.TopicOrderCanceled:
		fmt.Fprintf(&b, "Order %s has been cancelled. Any reserved stock was released.\n", str(payload, "number"))
	case events.TopicOrderStatus:
		fmt.Fprintf(&b, "Order %s moved to %s.\n", str(payload, "number"), humanStatus(str(payload, "status")))
	case events.TopicPaymentFailed:
		fmt.Fprintf(&b, "The payment for order %s did not go through and the order was cancelled.\n", str(payload, "number"))
	case events.TopicSupportReplied:
		fmt.Fprintf(&b, "Our team replied to \"%s\". Sign in to read the message.\n", str(payload, "subject"))
	default:
		fmt.Fprintf(&b, "Event %s was recorded on your account.\n", topic)
	}
	if !occurred.IsZero() {
		fmt.Fprintf(&b, "\n%s\n", occurred.UTC().Format(time.RFC1123))
	}
	return b.String()
}

func str(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return strings.TrimSpace(v)
}

func humanStatus(status string) string {
	return strings.ToLower(strings.ReplaceAll(status, "_", " "))
}
