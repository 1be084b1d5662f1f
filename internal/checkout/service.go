package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/events"
	"github.com/cs350892/market-server/internal/obs"
	"github.com/cs350892/market-server/internal/offer"
	"github.com/cs350892/market-server/internal/order"
	"github.com/cs350892/market-server/internal/pricing"
	"github.com/cs350892/market-server/internal/repo"
)

// Pricer prices cart lines and applies an optional offer.
type Pricer interface {
	Quote(ctx context.Context, lines []pricing.LineRequest, offerCode string) (pricing.Quote, error)
}

// Querier is the transactional slice of repo.Queries used by placement.
type Querier interface {
	offer.UsageQuerier
	GetProductByID(ctx context.Context, id pgtype.UUID) (repo.Product, error)
	DecrementStock(ctx context.Context, id pgtype.UUID, units int32) (int32, error)
	CreateOrder(ctx context.Context, arg repo.CreateOrderParams) (repo.Order, error)
	CreateOrderLine(ctx context.Context, arg repo.CreateOrderLineParams) error
}

// TxFunc runs fn inside a database transaction.
type TxFunc func(ctx context.Context, fn func(q Querier) error) error

// QuoteInput is the payload for a dry-run quote.
type QuoteInput struct {
	Items     []pricing.LineRequest `json:"items" validate:"required,min=1,dive"`
	OfferCode string                `json:"offerCode" validate:"max=64"`
}

// PlaceInput is the payload for order placement.
type PlaceInput struct {
	Items           []pricing.LineRequest `json:"items" validate:"required,min=1,dive"`
	OfferCode       string                `json:"offerCode" validate:"max=64"`
	ShippingAddress order.Address         `json:"shippingAddress"`
	Notes           string                `json:"notes" validate:"max=1000"`
}

// Service prices carts and turns them into orders.
type Service struct {
	Pricer  Pricer
	Offers  *offer.Service
	Tx      TxFunc
	Events  events.Emitter
	Catalog order.Invalidator
	Log     zerolog.Logger
	Now     func() time.Time

	orderValue metric.Float64Histogram
}

// NewService wires placement against a pgx store and registers the order value histogram.
func NewService(store *repo.Store, pricer Pricer, offers *offer.Service, bus events.Emitter, catalog order.Invalidator, log zerolog.Logger) *Service {
	s := &Service{
		Pricer: pricer,
		Offers: offers,
		Tx: func(ctx context.Context, fn func(q Querier) error) error {
			return store.InTx(ctx, func(q *repo.Queries) error { return fn(q) })
		},
		Events:  bus,
		Catalog: catalog,
		Log:     log,
	}
	hist, err := otel.Meter("checkout").Float64Histogram("checkout.order_value",
		metric.WithDescription("Payable amount of placed orders."),
		metric.WithUnit("INR"))
	if err != nil {
		log.Warn().Err(err).Msg("checkout_histogram_init_failed")
	} else {
		s.orderValue = hist
	}
	return s
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Quote prices the cart without touching stock or offer usage.
func (s *Service) Quote(ctx context.Context, in QuoteInput) (pricing.Quote, error) {
	if err := common.ValidateStruct(in); err != nil {
		return pricing.Quote{}, err
	}
	return s.Pricer.Quote(ctx, in.Items, in.OfferCode)
}

// Place prices the cart and, in one transaction, decrements stock, redeems the offer and writes
// the order with its lines. Any failure leaves stock and offer usage untouched.
func (s *Service) Place(ctx context.Context, userID string, in PlaceInput) (order.View, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Checkout.Place")
	defer span.End()

	view, err := s.place(ctx, userID, in)
	obs.Inc(obs.OrdersPlacedTotal, resultLabel(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order placement failed")
		return order.View{}, err
	}
	span.SetAttributes(
		attribute.String("order.number", view.Number),
		attribute.Int("order.lines", len(view.Lines)),
	)
	if s.orderValue != nil {
		s.orderValue.Record(ctx, view.PayableAmount.InexactFloat64())
	}
	return view, nil
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return strings.ToLower(appErr.Code)
	}
	return "error"
}

func (s *Service) place(ctx context.Context, userID string, in PlaceInput) (order.View, error) {
	uid, err := repo.ParseUUID(userID)
	if err != nil {
		return order.View{}, common.InvalidInput("invalid user id", err)
	}
	if err := common.ValidateStruct(in); err != nil {
		return order.View{}, err
	}
	quote, err := s.Pricer.Quote(ctx, in.Items, in.OfferCode)
	if err != nil {
		if errors.Is(err, pricing.ErrInsufficientStock) {
			obs.IncCounter(obs.StockConflictsTotal)
		}
		return order.View{}, err
	}
	address, err := json.Marshal(in.ShippingAddress)
	if err != nil {
		return order.View{}, fmt.Errorf("encode shipping address: %w", err)
	}
	number := newOrderNumber(s.now())

	var (
		placed repo.Order
		lines  []repo.OrderLine
	)
	err = s.Tx(ctx, func(q Querier) error {
		if err := reserveStock(ctx, q, quote.LineItems); err != nil {
			return err
		}
		if quote.OfferCode != "" {
			dl := make([]pricing.DiscountLine, len(quote.LineItems))
			for i, l := range quote.LineItems {
				dl[i] = pricing.DiscountLine{ProductID: l.ProductID, Subtotal: l.Subtotal}
			}
			if _, err := s.Offers.RedeemQuoted(ctx, q, quote.OfferCode, quote.CartTotal, dl, quote.DiscountAmount); err != nil {
				return err
			}
		}
		var err error
		placed, err = q.CreateOrder(ctx, repo.CreateOrderParams{
			Number:          number,
			UserID:          uid,
			Status:          order.StatusPendingPayment,
			CartTotal:       quote.CartTotal,
			DiscountAmount:  quote.DiscountAmount,
			PayableAmount:   quote.PayableAmount,
			OfferCode:       optionalText(quote.OfferCode),
			ShippingAddress: address,
			Notes:           optionalText(strings.TrimSpace(in.Notes)),
		})
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		lines = make([]repo.OrderLine, 0, len(quote.LineItems))
		for i, l := range quote.LineItems {
			pid, _ := repo.ParseUUID(l.ProductID)
			arg := repo.CreateOrderLineParams{
				OrderID:      placed.ID,
				ProductID:    pid,
				ProductName:  l.Name,
				PackSizeID:   l.PackSizeID,
				PackName:     l.PackName,
				Quantity:     int32(l.Quantity),
				TotalUnits:   int32(l.TotalUnits),
				TierLabel:    l.Tier,
				PricePerUnit: l.PricePerUnit,
				Subtotal:     l.Subtotal,
				Position:     int32(i),
			}
			if err := q.CreateOrderLine(ctx, arg); err != nil {
				return fmt.Errorf("create order line: %w", err)
			}
			lines = append(lines, repo.OrderLine{
				OrderID: arg.OrderID, ProductID: arg.ProductID, ProductName: arg.ProductName,
				PackSizeID: arg.PackSizeID, PackName: arg.PackName, Quantity: arg.Quantity,
				TotalUnits: arg.TotalUnits, TierLabel: arg.TierLabel, PricePerUnit: arg.PricePerUnit,
				Subtotal: arg.Subtotal, Position: arg.Position,
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, pricing.ErrInsufficientStock) {
			obs.IncCounter(obs.StockConflictsTotal)
		}
		return order.View{}, err
	}

	if s.Catalog != nil {
		s.Catalog.Invalidate(ctx)
	}
	if s.Events != nil {
		payload := map[string]any{
			"orderId": repo.UUIDString(placed.ID),
			"number":  placed.Number,
			"userId":  userID,
			"payable": placed.PayableAmount.StringFixed(2),
		}
		if _, err := s.Events.Emit(ctx, events.TopicOrderCreated, placed.ID, payload); err != nil {
			s.Log.Warn().Err(err).Str("order_id", repo.UUIDString(placed.ID)).Msg("order_created_event_failed")
		}
	}
	return order.ToView(placed, lines), nil
}

// reserveStock decrements each product once by its summed units, in id order so concurrent
// placements take row locks in the same sequence.
func reserveStock(ctx context.Context, q Querier, lines []pricing.QuoteLine) error {
	units := map[string]int{}
	for _, l := range lines {
		units[l.ProductID] += l.TotalUnits
	}
	ids := make([]string, 0, len(units))
	for id := range units {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var short []pricing.Shortage
	for _, id := range ids {
		pid, err := repo.ParseUUID(id)
		if err != nil {
			return common.InvalidInput("invalid product id", err)
		}
		_, err = q.DecrementStock(ctx, pid, int32(units[id]))
		if err == nil {
			continue
		}
		if !repo.IsNotFound(err) {
			return fmt.Errorf("decrement stock: %w", err)
		}
		available := 0
		if p, getErr := q.GetProductByID(ctx, pid); getErr == nil {
			available = int(p.Stock)
		}
		short = append(short, pricing.Shortage{ProductID: id, Requested: units[id], Available: available})
	}
	if len(short) > 0 {
		return common.InsufficientStock("insufficient stock", map[string]any{"items": short}, pricing.ErrInsufficientStock)
	}
	return nil
}

func newOrderNumber(now time.Time) string {
	return "ORD-" + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

func optionalText(v string) pgtype.Text {
	if v == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: v, Valid: true}
}
