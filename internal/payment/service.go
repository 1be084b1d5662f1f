package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/events"
	"github.com/cs350892/market-server/internal/obs"
	"github.com/cs350892/market-server/internal/offer"
	"github.com/cs350892/market-server/internal/order"
	"github.com/cs350892/market-server/internal/repo"
)

// Querier is the payment slice of repo.Queries. It embeds order.Querier so settlement can
// confirm or cancel the order in the same transaction.
type Querier interface {
	order.Querier
	CreatePayment(ctx context.Context, arg repo.CreatePaymentParams) (repo.Payment, error)
	GetLatestPaymentByOrder(ctx context.Context, orderID pgtype.UUID) (repo.Payment, error)
	GetPaymentByProviderRef(ctx context.Context, provider, ref string) (repo.Payment, error)
	UpdatePaymentStatus(ctx context.Context, arg repo.UpdatePaymentStatusParams) (repo.Payment, error)
}

// TxFunc runs fn inside a database transaction.
type TxFunc func(ctx context.Context, fn func(q Querier) error) error

// Service creates payment intents and settles provider callbacks.
type Service struct {
	Q           Querier
	Tx          TxFunc
	Provider    Provider
	Offers      *offer.Service
	Events      events.Emitter
	Catalog     order.Invalidator
	Log         zerolog.Logger
	IntentTTL   time.Duration
	CallbackURL string
	RedirectURL string
	Now         func() time.Time
}

// NewService wires the service against a pgx store.
func NewService(store *repo.Store, provider Provider, offers *offer.Service, bus events.Emitter, catalog order.Invalidator, log zerolog.Logger) *Service {
	return &Service{
		Q: store.Queries,
		Tx: func(ctx context.Context, fn func(q Querier) error) error {
			return store.InTx(ctx, func(q *repo.Queries) error { return fn(q) })
		},
		Provider:  provider,
		Offers:    offers,
		Events:    bus,
		Catalog:   catalog,
		Log:       log,
		IntentTTL: 15 * time.Minute,
	}
}

// Intent is returned to the client to continue on the provider's hosted page.
type Intent struct {
	OrderID     string          `json:"orderId"`
	Provider    string          `json:"provider"`
	Reference   string          `json:"reference"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	RedirectURL string          `json:"redirectUrl"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
}

// StatusView summarises the payment state of an order.
type StatusView struct {
	OrderID       string          `json:"orderId"`
	OrderStatus   string          `json:"orderStatus"`
	PaymentStatus string          `json:"paymentStatus"`
	Provider      string          `json:"provider,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	RedirectURL   string          `json:"redirectUrl,omitempty"`
	ExpiresAt     *time.Time      `json:"expiresAt,omitempty"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Paise converts a rupee amount to integer paise.
func Paise(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// ownedOrder loads an order and hides other users' orders.
func (s *Service) ownedOrder(ctx context.Context, userID, orderID string) (repo.Order, error) {
	id, err := repo.ParseUUID(orderID)
	if err != nil {
		return repo.Order{}, common.InvalidInput("invalid order id", err)
	}
	o, err := s.Q.GetOrderByID(ctx, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return repo.Order{}, common.NotFound("order not found", err)
		}
		return repo.Order{}, fmt.Errorf("get order: %w", err)
	}
	if repo.UUIDString(o.UserID) != userID {
		return repo.Order{}, common.NotFound("order not found", nil)
	}
	return o, nil
}

// CreateIntent opens a provider payment for a pending order. A live pending intent is reused.
func (s *Service) CreateIntent(ctx context.Context, userID, orderID string) (Intent, error) {
	if s.Provider == nil {
		return Intent{}, common.NewAppError("PAYMENT_NOT_CONFIGURED", "payment provider unavailable", http.StatusServiceUnavailable, nil)
	}
	provider := s.Provider.Name()
	ctx, span := otel.Tracer("payment").Start(ctx, "Payment.CreateIntent")
	defer span.End()
	span.SetAttributes(attribute.String("payment.provider", provider), attribute.String("order.id", orderID))

	intent, reused, err := s.createIntent(ctx, userID, orderID)
	result := "created"
	switch {
	case err != nil:
		result = "error"
		span.RecordError(err)
	case reused:
		result = "reused"
	}
	obs.Inc(obs.PaymentIntentTotal, provider, result)
	return intent, err
}

func (s *Service) createIntent(ctx context.Context, userID, orderID string) (Intent, bool, error) {
	o, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return Intent{}, false, err
	}
	if o.Status != order.StatusPendingPayment {
		return Intent{}, false, common.Conflict(fmt.Sprintf("order is %s and cannot be paid", o.Status), nil)
	}
	now := s.now()
	latest, err := s.Q.GetLatestPaymentByOrder(ctx, o.ID)
	switch {
	case err == nil:
		if latest.Status == StatusPending && latest.ExpiresAt.Valid && latest.ExpiresAt.Time.After(now) && latest.RedirectUrl.Valid {
			return toIntent(o, latest), true, nil
		}
	case !repo.IsNotFound(err):
		return Intent{}, false, fmt.Errorf("latest payment: %w", err)
	}

	ref := "MT" + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	resp, err := s.Provider.CreateIntent(ctx, IntentRequest{
		Reference:   ref,
		OrderID:     repo.UUIDString(o.ID),
		UserID:      userID,
		AmountPaise: Paise(o.PayableAmount),
		CallbackURL: s.callbackURL(),
		RedirectURL: s.redirectURL(o),
	})
	if err != nil {
		return Intent{}, false, common.NewAppError("PAYMENT_PROVIDER_ERROR", "payment provider unavailable", http.StatusBadGateway, err)
	}
	ttl := s.IntentTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	p, err := s.Q.CreatePayment(ctx, repo.CreatePaymentParams{
		OrderID:     o.ID,
		Provider:    s.Provider.Name(),
		ProviderRef: resp.Reference,
		Status:      StatusPending,
		Amount:      o.PayableAmount,
		RedirectUrl: repo.Text(resp.RedirectURL),
		Payload:     resp.Raw,
		ExpiresAt:   pgtype.Timestamptz{Time: now.Add(ttl), Valid: true},
	})
	if err != nil {
		return Intent{}, false, fmt.Errorf("store payment: %w", err)
	}
	return toIntent(o, p), false, nil
}

func (s *Service) callbackURL() string {
	if s.CallbackURL == "" {
		return ""
	}
	return strings.TrimRight(s.CallbackURL, "/") + "/api/v1/webhooks/payment/" + s.Provider.Name()
}

func (s *Service) redirectURL(o repo.Order) string {
	if s.RedirectURL == "" {
		return ""
	}
	u, err := url.Parse(s.RedirectURL)
	if err != nil {
		return s.RedirectURL
	}
	q := u.Query()
	q.Set("orderId", repo.UUIDString(o.ID))
	u.RawQuery = q.Encode()
	return u.String()
}

func toIntent(o repo.Order, p repo.Payment) Intent {
	in := Intent{
		OrderID:     repo.UUIDString(o.ID),
		Provider:    p.Provider,
		Reference:   p.ProviderRef,
		Status:      p.Status,
		Amount:      p.Amount,
		RedirectURL: p.RedirectUrl.String,
	}
	if p.ExpiresAt.Valid {
		t := p.ExpiresAt.Time
		in.ExpiresAt = &t
	}
	return in
}

// Status reports the order and latest payment state. A pending intent past its expiry reads
// as EXPIRED without being rewritten.
func (s *Service) Status(ctx context.Context, userID, orderID string) (StatusView, error) {
	o, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{
		OrderID:       repo.UUIDString(o.ID),
		OrderStatus:   o.Status,
		PaymentStatus: "NONE",
		Amount:        o.PayableAmount,
	}
	p, err := s.Q.GetLatestPaymentByOrder(ctx, o.ID)
	if err != nil {
		if repo.IsNotFound(err) {
			return view, nil
		}
		return StatusView{}, fmt.Errorf("latest payment: %w", err)
	}
	view.PaymentStatus = p.Status
	view.Provider = p.Provider
	view.Reference = p.ProviderRef
	view.Amount = p.Amount
	view.RedirectURL = p.RedirectUrl.String
	if p.ExpiresAt.Valid {
		t := p.ExpiresAt.Time
		view.ExpiresAt = &t
		if p.Status == StatusPending && !t.After(s.now()) {
			view.PaymentStatus = StatusExpired
			view.RedirectURL = ""
		}
	}
	return view, nil
}

// Settlement describes what a verified callback did.
type Settlement struct {
	PaymentStatus string
	OrderStatus   string
	Duplicate     bool
}

// ErrAmountMismatch is wrapped when the provider reports a different amount than was requested.
var ErrAmountMismatch = errors.New("payment amount mismatch")

// Settle applies a verified callback. Payment and order updates share one transaction. A
// failed payment cancels the pending order, restocks its lines and releases its offer.
func (s *Service) Settle(ctx context.Context, provider string, res WebhookResult) (Settlement, error) {
	ctx, span := otel.Tracer("payment").Start(ctx, "Payment.Settle")
	defer span.End()
	span.SetAttributes(attribute.String("payment.provider", provider), attribute.String("payment.reference", res.Reference))

	var (
		out     Settlement
		settled repo.Order
		topic   string
	)
	err := s.Tx(ctx, func(q Querier) error {
		p, err := q.GetPaymentByProviderRef(ctx, provider, res.Reference)
		if err != nil {
			if repo.IsNotFound(err) {
				return common.NotFound("payment not found", err)
			}
			return fmt.Errorf("get payment: %w", err)
		}
		o, err := q.GetOrderForUpdate(ctx, p.OrderID)
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}
		out.OrderStatus = o.Status
		if p.Status == StatusPaid || p.Status == StatusFailed {
			out.PaymentStatus = p.Status
			out.Duplicate = true
			return nil
		}
		if res.AmountPaise != Paise(p.Amount) {
			return common.InvalidInput("payment amount mismatch", fmt.Errorf("%w: expected %d got %d", ErrAmountMismatch, Paise(p.Amount), res.AmountPaise))
		}
		if res.Status == StatusPending {
			out.PaymentStatus = StatusPending
			_, err := q.UpdatePaymentStatus(ctx, repo.UpdatePaymentStatusParams{ID: p.ID, Status: StatusPending, Payload: res.Payload})
			return err
		}
		if _, err := q.UpdatePaymentStatus(ctx, repo.UpdatePaymentStatusParams{ID: p.ID, Status: res.Status, Payload: res.Payload}); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		out.PaymentStatus = res.Status
		if o.Status != order.StatusPendingPayment {
			// Order moved on (admin cancel or an earlier callback); record the payment only.
			s.Log.Warn().Str("order_id", repo.UUIDString(o.ID)).Str("order_status", o.Status).
				Str("payment_status", res.Status).Msg("payment_settled_on_non_pending_order")
			return nil
		}
		if res.Status == StatusPaid {
			updated, err := q.UpdateOrderStatus(ctx, repo.UpdateOrderStatusParams{ID: o.ID, From: []string{order.StatusPendingPayment}, To: order.StatusConfirmed})
			if err != nil {
				return fmt.Errorf("confirm order: %w", err)
			}
			settled, topic = updated, events.TopicOrderPaid
		} else {
			updated, err := order.CancelTx(ctx, q, s.Offers, o, []string{order.StatusPendingPayment})
			if err != nil {
				return err
			}
			settled, topic = updated, events.TopicPaymentFailed
		}
		out.OrderStatus = settled.Status
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return Settlement{}, err
	}
	if topic == events.TopicPaymentFailed && s.Catalog != nil {
		s.Catalog.Invalidate(ctx)
	}
	if topic != "" && s.Events != nil {
		payload := map[string]any{
			"orderId":   repo.UUIDString(settled.ID),
			"number":    settled.Number,
			"userId":    repo.UUIDString(settled.UserID),
			"status":    settled.Status,
			"provider":  provider,
			"reference": res.Reference,
		}
		if _, err := s.Events.Emit(ctx, topic, settled.ID, payload); err != nil {
			s.Log.Warn().Err(err).Str("topic", topic).Str("order_id", repo.UUIDString(settled.ID)).Msg("payment_event_failed")
		}
	}
	return out, nil
}
