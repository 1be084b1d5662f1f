package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/events"
	"github.com/cs350892/market-server/internal/offer"
	"github.com/cs350892/market-server/internal/repo"
)

// ErrInvalidTransition is wrapped when a status change is not allowed from the current status.
var ErrInvalidTransition = errors.New("order status transition not allowed")

// Querier is the order slice of repo.Queries. Cancel needs stock and offer access in the same
// transaction.
type Querier interface {
	offer.UsageQuerier
	GetOrderByID(ctx context.Context, id pgtype.UUID) (repo.Order, error)
	GetOrderForUpdate(ctx context.Context, id pgtype.UUID) (repo.Order, error)
	ListOrderLines(ctx context.Context, orderID pgtype.UUID) ([]repo.OrderLine, error)
	ListOrdersByUser(ctx context.Context, arg repo.ListOrdersByUserParams) ([]repo.Order, error)
	CountOrdersByUser(ctx context.Context, userID pgtype.UUID) (int64, error)
	ListOrders(ctx context.Context, arg repo.ListOrdersParams) ([]repo.Order, error)
	CountOrders(ctx context.Context, status string) (int64, error)
	UpdateOrderStatus(ctx context.Context, arg repo.UpdateOrderStatusParams) (repo.Order, error)
	IncrementStock(ctx context.Context, id pgtype.UUID, units int32) error
}

// TxFunc runs fn inside a database transaction.
type TxFunc func(ctx context.Context, fn func(q Querier) error) error

// Invalidator drops cached catalog listings after stock moves.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Address is the shipping address captured at placement.
type Address struct {
	Name       string `json:"name" validate:"required,max=120"`
	Phone      string `json:"phone" validate:"required,max=20"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"required,max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=12"`
	Country    string `json:"country,omitempty" validate:"max=2"`
}

// Line is a historical order line. Prices are the ones resolved at placement.
type Line struct {
	ProductID    string          `json:"productId"`
	Name         string          `json:"name"`
	PackSizeID   string          `json:"packSizeId,omitempty"`
	PackName     string          `json:"packName"`
	Quantity     int             `json:"quantity"`
	TotalUnits   int             `json:"totalUnits"`
	Tier         string          `json:"tier"`
	PricePerUnit decimal.Decimal `json:"pricePerUnit"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// View is the API representation of an order.
type View struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	UserID          string          `json:"userId"`
	Status          string          `json:"status"`
	CartTotal       decimal.Decimal `json:"cartTotal"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	PayableAmount   decimal.Decimal `json:"payableAmount"`
	OfferCode       *string         `json:"offerCode,omitempty"`
	ShippingAddress json.RawMessage `json:"shippingAddress,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
	Lines           []Line          `json:"lineItems,omitempty"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	CanceledAt      *time.Time      `json:"canceledAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Service serves customer and admin order operations.
type Service struct {
	Q       Querier
	Tx      TxFunc
	Offers  *offer.Service
	Events  events.Emitter
	Catalog Invalidator
	Log     zerolog.Logger
}

// NewService wires the service against a pgx store.
func NewService(store *repo.Store, offers *offer.Service, bus events.Emitter, catalog Invalidator, log zerolog.Logger) *Service {
	return &Service{
		Q: store.Queries,
		Tx: func(ctx context.Context, fn func(q Querier) error) error {
			return store.InTx(ctx, func(q *repo.Queries) error { return fn(q) })
		},
		Offers:  offers,
		Events:  bus,
		Catalog: catalog,
		Log:     log,
	}
}

// ToView converts a stored order and its lines.
func ToView(o repo.Order, lines []repo.OrderLine) View {
	v := View{
		ID:             repo.UUIDString(o.ID),
		Number:         o.Number,
		UserID:         repo.UUIDString(o.UserID),
		Status:         o.Status,
		CartTotal:      o.CartTotal,
		DiscountAmount: o.DiscountAmount,
		PayableAmount:  o.PayableAmount,
		OfferCode:      textPtr(o.OfferCode),
		Notes:          textPtr(o.Notes),
		PaidAt:         timePtr(o.PaidAt),
		CanceledAt:     timePtr(o.CanceledAt),
		CreatedAt:      o.CreatedAt.Time,
	}
	if len(o.ShippingAddress) > 0 {
		v.ShippingAddress = json.RawMessage(append([]byte(nil), o.ShippingAddress...))
	}
	for _, l := range lines {
		v.Lines = append(v.Lines, Line{
			ProductID:    repo.UUIDString(l.ProductID),
			Name:         l.ProductName,
			PackSizeID:   l.PackSizeID,
			PackName:     l.PackName,
			Quantity:     int(l.Quantity),
			TotalUnits:   int(l.TotalUnits),
			Tier:         l.TierLabel,
			PricePerUnit: l.PricePerUnit,
			Subtotal:     l.Subtotal,
		})
	}
	return v
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func parseID(id, what string) (pgtype.UUID, error) {
	u, err := repo.ParseUUID(id)
	if err != nil {
		return pgtype.UUID{}, common.InvalidInput("invalid "+what+" id", err)
	}
	return u, nil
}

// ListMine returns the caller's orders, newest first, without line items.
func (s *Service) ListMine(ctx context.Context, userID string, page, perPage int) ([]View, int64, error) {
	uid, err := parseID(userID, "user")
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Q.CountOrdersByUser(ctx, uid)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	rows, err := s.Q.ListOrdersByUser(ctx, repo.ListOrdersByUserParams{UserID: uid, Limit: int32(perPage), Offset: common.Offset(page, perPage)})
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	out := make([]View, 0, len(rows))
	for _, o := range rows {
		out = append(out, ToView(o, nil))
	}
	return out, total, nil
}

// GetMine loads one of the caller's orders with its lines. Other users' orders read as missing.
func (s *Service) GetMine(ctx context.Context, userID, orderID string) (View, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	if repo.UUIDString(o.UserID) != userID {
		return View{}, common.NotFound("order not found", nil)
	}
	return s.withLines(ctx, o)
}

// Get loads any order with its lines.
func (s *Service) Get(ctx context.Context, orderID string) (View, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	return s.withLines(ctx, o)
}

func (s *Service) load(ctx context.Context, orderID string) (repo.Order, error) {
	id, err := parseID(orderID, "order")
	if err != nil {
		return repo.Order{}, err
	}
	o, err := s.Q.GetOrderByID(ctx, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return repo.Order{}, common.NotFound("order not found", err)
		}
		return repo.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *Service) withLines(ctx context.Context, o repo.Order) (View, error) {
	lines, err := s.Q.ListOrderLines(ctx, o.ID)
	if err != nil {
		return View{}, fmt.Errorf("list order lines: %w", err)
	}
	return ToView(o, lines), nil
}

// List returns all orders for administrators, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string, page, perPage int) ([]View, int64, error) {
	status = NormalizeStatus(status)
	if status != "" && !Known(status) {
		return nil, 0, common.InvalidInput("unknown order status", nil)
	}
	total, err := s.Q.CountOrders(ctx, status)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	rows, err := s.Q.ListOrders(ctx, repo.ListOrdersParams{Status: status, Limit: int32(perPage), Offset: common.Offset(page, perPage)})
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	out := make([]View, 0, len(rows))
	for _, o := range rows {
		out = append(out, ToView(o, nil))
	}
	return out, total, nil
}

// CancelMine cancels one of the caller's orders while it is still pending or confirmed.
func (s *Service) CancelMine(ctx context.Context, userID, orderID string) (View, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	if repo.UUIDString(o.UserID) != userID {
		return View{}, common.NotFound("order not found", nil)
	}
	return s.cancel(ctx, o.ID, CustomerCancelable, "customer")
}

// SetStatus moves an order forward along the fulfilment ranks or cancels it.
func (s *Service) SetStatus(ctx context.Context, orderID, status string) (View, error) {
	to := NormalizeStatus(status)
	if !Known(to) {
		return View{}, common.InvalidInput("unknown order status", nil)
	}
	current, err := s.load(ctx, orderID)
	if err != nil {
		return View{}, err
	}
	if to == StatusCanceled {
		return s.cancel(ctx, current.ID, AdminCancelable, "admin")
	}
	if !CanAdvance(current.Status, to) {
		return View{}, transitionConflict(current.Status, to)
	}
	updated, err := s.Q.UpdateOrderStatus(ctx, repo.UpdateOrderStatusParams{ID: current.ID, From: []string{current.Status}, To: to})
	if err != nil {
		if repo.IsNotFound(err) {
			return View{}, transitionConflict(current.Status, to)
		}
		return View{}, fmt.Errorf("update order status: %w", err)
	}
	topic := events.TopicOrderStatus
	if to == StatusConfirmed {
		topic = events.TopicOrderPaid
	}
	s.emit(ctx, topic, updated, map[string]any{"from": current.Status})
	return s.withLines(ctx, updated)
}

func transitionConflict(from, to string) error {
	return common.Conflict(fmt.Sprintf("cannot move order from %s to %s", from, to), ErrInvalidTransition)
}

func (s *Service) cancel(ctx context.Context, id pgtype.UUID, from []string, actor string) (View, error) {
	var canceled repo.Order
	err := s.Tx(ctx, func(q Querier) error {
		o, err := q.GetOrderForUpdate(ctx, id)
		if err != nil {
			if repo.IsNotFound(err) {
				return common.NotFound("order not found", err)
			}
			return fmt.Errorf("lock order: %w", err)
		}
		canceled, err = CancelTx(ctx, q, s.Offers, o, from)
		return err
	})
	if err != nil {
		return View{}, err
	}
	if s.Catalog != nil {
		s.Catalog.Invalidate(ctx)
	}
	s.emit(ctx, events.TopicOrderCanceled, canceled, map[string]any{"by": actor})
	return s.withLines(ctx, canceled)
}

// CancelTx cancels o inside the caller's transaction: the status change is guarded by from, every
// line's units go back to stock and a redeemed offer use is released.
func CancelTx(ctx context.Context, q Querier, offers *offer.Service, o repo.Order, from []string) (repo.Order, error) {
	if !contains(from, o.Status) {
		return repo.Order{}, transitionConflict(o.Status, StatusCanceled)
	}
	updated, err := q.UpdateOrderStatus(ctx, repo.UpdateOrderStatusParams{ID: o.ID, From: from, To: StatusCanceled})
	if err != nil {
		if repo.IsNotFound(err) {
			return repo.Order{}, transitionConflict(o.Status, StatusCanceled)
		}
		return repo.Order{}, fmt.Errorf("cancel order: %w", err)
	}
	lines, err := q.ListOrderLines(ctx, o.ID)
	if err != nil {
		return repo.Order{}, fmt.Errorf("list order lines: %w", err)
	}
	units := map[pgtype.UUID]int32{}
	var order []pgtype.UUID
	for _, l := range lines {
		if _, seen := units[l.ProductID]; !seen {
			order = append(order, l.ProductID)
		}
		units[l.ProductID] += l.TotalUnits
	}
	for _, pid := range order {
		if err := q.IncrementStock(ctx, pid, units[pid]); err != nil {
			return repo.Order{}, fmt.Errorf("restock: %w", err)
		}
	}
	if o.OfferCode.Valid && offers != nil {
		if err := offers.Release(ctx, q, o.OfferCode.String); err != nil {
			return repo.Order{}, err
		}
	}
	return updated, nil
}

func (s *Service) emit(ctx context.Context, topic string, o repo.Order, extra map[string]any) {
	if s.Events == nil {
		return
	}
	payload := map[string]any{
		"orderId": repo.UUIDString(o.ID),
		"number":  o.Number,
		"userId":  repo.UUIDString(o.UserID),
		"status":  o.Status,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if _, err := s.Events.Emit(ctx, topic, o.ID, payload); err != nil {
		s.Log.Warn().Err(err).Str("topic", topic).Str("order_id", repo.UUIDString(o.ID)).Msg("order_event_failed")
	}
}
