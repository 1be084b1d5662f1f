package checkout_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cs350892/market-server/internal/checkout"
	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/events"
	"github.com/cs350892/market-server/internal/offer"
	"github.com/cs350892/market-server/internal/order"
	"github.com/cs350892/market-server/internal/pricing"
	"github.com/cs350892/market-server/internal/repo"
)

type txStore struct {
	stock  map[pgtype.UUID]int32
	offers map[string]repo.Offer
	orders []repo.Order
	lines  []repo.CreateOrderLineParams
}

func (s *txStore) GetOfferByCode(_ context.Context, code string) (repo.Offer, error) {
	o, ok := s.offers[strings.ToUpper(code)]
	if !ok {
		return repo.Offer{}, pgx.ErrNoRows
	}
	return o, nil
}

func (s *txStore) RedeemOffer(_ context.Context, code string, _ pgtype.Timestamptz) (repo.Offer, error) {
	o, ok := s.offers[strings.ToUpper(code)]
	if !ok || o.Status != "active" || (o.UsageLimit.Valid && o.UsageCount >= o.UsageLimit.Int32) {
		return repo.Offer{}, pgx.ErrNoRows
	}
	o.UsageCount++
	s.offers[o.Code] = o
	return o, nil
}

func (s *txStore) ReleaseOffer(context.Context, string) error { return nil }

func (s *txStore) GetProductByID(_ context.Context, id pgtype.UUID) (repo.Product, error) {
	stock, ok := s.stock[id]
	if !ok {
		return repo.Product{}, pgx.ErrNoRows
	}
	return repo.Product{ID: id, Stock: stock}, nil
}

func (s *txStore) DecrementStock(_ context.Context, id pgtype.UUID, units int32) (int32, error) {
	stock, ok := s.stock[id]
	if !ok || stock < units {
		return 0, pgx.ErrNoRows
	}
	s.stock[id] = stock - units
	return s.stock[id], nil
}

func (s *txStore) CreateOrder(_ context.Context, arg repo.CreateOrderParams) (repo.Order, error) {
	o := repo.Order{
		ID: pgtype.UUID{Bytes: uuid.New(), Valid: true}, Number: arg.Number, UserID: arg.UserID, Status: arg.Status,
		CartTotal: arg.CartTotal, DiscountAmount: arg.DiscountAmount, PayableAmount: arg.PayableAmount,
		OfferCode: arg.OfferCode, ShippingAddress: arg.ShippingAddress, Notes: arg.Notes,
		CreatedAt: pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	s.orders = append(s.orders, o)
	return o, nil
}

func (s *txStore) CreateOrderLine(_ context.Context, arg repo.CreateOrderLineParams) error {
	s.lines = append(s.lines, arg)
	return nil
}

// tx mimics rollback by restoring a snapshot when fn fails.
func (s *txStore) tx(_ context.Context, fn func(checkout.Querier) error) error {
	stock := map[pgtype.UUID]int32{}
	for k, v := range s.stock {
		stock[k] = v
	}
	offers := map[string]repo.Offer{}
	for k, v := range s.offers {
		offers[k] = v
	}
	orders, lines := len(s.orders), len(s.lines)
	if err := fn(s); err != nil {
		s.stock, s.offers = stock, offers
		s.orders, s.lines = s.orders[:orders], s.lines[:lines]
		return err
	}
	return nil
}

type products map[string]pricing.Product

func (p products) ProductsByID(_ context.Context, ids []string) (map[string]pricing.Product, error) {
	out := map[string]pricing.Product{}
	for _, id := range ids {
		if v, ok := p[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

type flatDiscount struct{ amount decimal.Decimal }

func (f flatDiscount) Evaluate(_ context.Context, code string, total decimal.Decimal, _ []pricing.DiscountLine) (pricing.Discount, error) {
	return pricing.Discount{Code: strings.ToUpper(code), Amount: f.amount, EligibleBase: total}, nil
}

type bus struct{ topics []string }

func (b *bus) Emit(_ context.Context, topic string, id pgtype.UUID, _ any) (repo.DomainEvent, error) {
	b.topics = append(b.topics, topic)
	return repo.DomainEvent{Topic: topic, AggregateID: id}, nil
}

type fixture struct {
	store *txStore
	bus   *bus
	svc   *checkout.Service
	rice  pgtype.UUID
	oil   pgtype.UUID
	user  string
}

func intPtr(v int) *int { return &v }

func newFixture(t *testing.T, riceStock, oilStock int32) fixture {
	t.Helper()
	rice := pgtype.UUID{Bytes: uuid.New(), Valid: true}
	oil := pgtype.UUID{Bytes: uuid.New(), Valid: true}
	store := &txStore{
		stock: map[pgtype.UUID]int32{rice: riceStock, oil: oilStock},
		offers: map[string]repo.Offer{
			"SAVE50": {Code: "SAVE50", DiscountType: "fixed", Discount: decimal.NewFromInt(50), Status: "active",
				UsageLimit: pgtype.Int4{Int32: 1, Valid: true},
				ExpiresAt: pgtype.Timestamptz{Time: time.Now().Add(time.Hour), Valid: true}},
		},
	}
	catalog := products{
		repo.UUIDString(rice): {
			ID: repo.UUIDString(rice), Name: "Basmati Rice", BaseRate: decimal.NewFromInt(50), Stock: 10000, Active: true,
			Tiers: pricing.Table{
				{Label: "1-20", MinQuantity: 1, MaxQuantity: intPtr(20), UnitPrice: decimal.NewFromInt(50)},
				{Label: "21-100", MinQuantity: 21, MaxQuantity: intPtr(100), UnitPrice: decimal.NewFromInt(48)},
				{Label: "101+", MinQuantity: 101, UnitPrice: decimal.NewFromInt(45)},
			},
			Packs: []pricing.PackSize{{ID: "bag10", Name: "10 kg bag", Multiplier: 10}},
		},
		repo.UUIDString(oil): {ID: repo.UUIDString(oil), Name: "Mustard Oil", BaseRate: decimal.NewFromInt(120), Stock: 10000, Active: true},
	}
	b := &bus{}
	svc := &checkout.Service{
		Pricer: &pricing.Assembler{Products: catalog, Offers: flatDiscount{amount: decimal.NewFromInt(50)}},
		Offers: &offer.Service{},
		Tx:     store.tx,
		Events: b,
		Log:    zerolog.Nop(),
	}
	return fixture{store: store, bus: b, svc: svc, rice: rice, oil: oil, user: uuid.NewString()}
}

func address() order.Address {
	return order.Address{Name: "Asha", Phone: "9876543210", Line1: "12 MG Road", City: "Pune", State: "MH", PostalCode: "411001"}
}

func TestPlaceDecrementsSummedStockAndRedeemsOffer(t *testing.T) {
	f := newFixture(t, 200, 5)
	view, err := f.svc.Place(context.Background(), f.user, checkout.PlaceInput{
		Items: []pricing.LineRequest{
			{ProductID: repo.UUIDString(f.rice), Quantity: 15, PackSizeID: "bag10"},
			{ProductID: repo.UUIDString(f.rice), Quantity: 10},
			{ProductID: repo.UUIDString(f.oil), Quantity: 2},
		},
		OfferCode:       "save50",
		ShippingAddress: address(),
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(view.Number, "ORD-"))
	require.Equal(t, order.StatusPendingPayment, view.Status)
	// 150 units at 45 + 10 units at 50 + 2 at 120
	require.True(t, view.CartTotal.Equal(decimal.NewFromInt(6750+500+240)), view.CartTotal.String())
	require.True(t, view.PayableAmount.Equal(decimal.NewFromInt(7440)))
	require.EqualValues(t, 40, f.store.stock[f.rice])
	require.EqualValues(t, 3, f.store.stock[f.oil])
	require.EqualValues(t, 1, f.store.offers["SAVE50"].UsageCount)
	require.Len(t, f.store.lines, 3)
	require.Equal(t, "101+", f.store.lines[0].TierLabel)
	require.Equal(t, []string{events.TopicOrderCreated}, f.bus.topics)
}

func TestPlaceAbortsWholeOrderOnStockRace(t *testing.T) {
	f := newFixture(t, 200, 1)
	_, err := f.svc.Place(context.Background(), f.user, checkout.PlaceInput{
		Items: []pricing.LineRequest{
			{ProductID: repo.UUIDString(f.rice), Quantity: 5},
			{ProductID: repo.UUIDString(f.oil), Quantity: 2},
		},
		ShippingAddress: address(),
	})
	require.ErrorIs(t, err, pricing.ErrInsufficientStock)
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, common.CodeInsufficientStock, appErr.Code)
	short := appErr.Details.(map[string]any)["items"].([]pricing.Shortage)
	require.Len(t, short, 1)
	require.Equal(t, 1, short[0].Available)

	require.EqualValues(t, 200, f.store.stock[f.rice])
	require.Empty(t, f.store.orders)
	require.Empty(t, f.bus.topics)
}

func TestPlaceRollsBackWhenOfferIsExhausted(t *testing.T) {
	f := newFixture(t, 200, 5)
	o := f.store.offers["SAVE50"]
	o.UsageCount = 1
	f.store.offers["SAVE50"] = o

	_, err := f.svc.Place(context.Background(), f.user, checkout.PlaceInput{
		Items:           []pricing.LineRequest{{ProductID: repo.UUIDString(f.rice), Quantity: 30}},
		OfferCode:       "SAVE50",
		ShippingAddress: address(),
	})
	require.ErrorIs(t, err, offer.ErrUsageLimitReached)
	require.EqualValues(t, 200, f.store.stock[f.rice])
	require.Empty(t, f.store.orders)
}

func TestPlaceRejectsOfferEditedAfterQuote(t *testing.T) {
	f := newFixture(t, 200, 5)
	o := f.store.offers["SAVE50"]
	o.Discount = decimal.NewFromInt(30)
	f.store.offers["SAVE50"] = o

	_, err := f.svc.Place(context.Background(), f.user, checkout.PlaceInput{
		Items:           []pricing.LineRequest{{ProductID: repo.UUIDString(f.rice), Quantity: 30}},
		OfferCode:       "SAVE50",
		ShippingAddress: address(),
	})
	require.ErrorIs(t, err, offer.ErrChanged)
	require.EqualValues(t, 0, f.store.offers["SAVE50"].UsageCount)
	require.EqualValues(t, 200, f.store.stock[f.rice])
	require.Empty(t, f.store.orders)
}

func TestPlaceHandler(t *testing.T) {
	f := newFixture(t, 200, 5)
	h := &checkout.Handler{Svc: f.svc}

	body := `{"items":[{"productId":"` + repo.UUIDString(f.oil) + `","quantity":1}]}`
	rec := httptest.NewRecorder()
	h.Place(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req = req.WithContext(common.WithUserID(req.Context(), f.user))
	rec = httptest.NewRecorder()
	h.Place(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), common.CodeValidation)

	rec = httptest.NewRecorder()
	h.Quote(rec, httptest.NewRequest(http.MethodPost, "/api/v1/checkout/quote", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"tier":"1+"`)
	require.EqualValues(t, 5, f.store.stock[f.oil])
}
