package order_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/events"
	"github.com/cs350892/market-server/internal/offer"
	"github.com/cs350892/market-server/internal/order"
	"github.com/cs350892/market-server/internal/repo"
)

func newID() pgtype.UUID { return pgtype.UUID{Bytes: uuid.New(), Valid: true} }

type memStore struct {
	orders  map[pgtype.UUID]repo.Order
	lines   map[pgtype.UUID][]repo.OrderLine
	stock   map[pgtype.UUID]int32
	offers  map[string]repo.Offer
	updates int
}

func newMemStore() *memStore {
	return &memStore{
		orders: map[pgtype.UUID]repo.Order{},
		lines:  map[pgtype.UUID][]repo.OrderLine{},
		stock:  map[pgtype.UUID]int32{},
		offers: map[string]repo.Offer{},
	}
}

func (m *memStore) GetOfferByCode(_ context.Context, code string) (repo.Offer, error) {
	o, ok := m.offers[strings.ToUpper(code)]
	if !ok {
		return repo.Offer{}, pgx.ErrNoRows
	}
	return o, nil
}

func (m *memStore) RedeemOffer(_ context.Context, code string, _ pgtype.Timestamptz) (repo.Offer, error) {
	o, ok := m.offers[strings.ToUpper(code)]
	if !ok {
		return repo.Offer{}, pgx.ErrNoRows
	}
	o.UsageCount++
	m.offers[o.Code] = o
	return o, nil
}

func (m *memStore) ReleaseOffer(_ context.Context, code string) error {
	o, ok := m.offers[strings.ToUpper(code)]
	if ok && o.UsageCount > 0 {
		o.UsageCount--
		m.offers[o.Code] = o
	}
	return nil
}

func (m *memStore) GetOrderByID(_ context.Context, id pgtype.UUID) (repo.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return repo.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (m *memStore) GetOrderForUpdate(ctx context.Context, id pgtype.UUID) (repo.Order, error) {
	return m.GetOrderByID(ctx, id)
}

func (m *memStore) ListOrderLines(_ context.Context, id pgtype.UUID) ([]repo.OrderLine, error) {
	return m.lines[id], nil
}

func (m *memStore) ListOrdersByUser(_ context.Context, arg repo.ListOrdersByUserParams) ([]repo.Order, error) {
	var out []repo.Order
	for _, o := range m.orders {
		if o.UserID == arg.UserID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) CountOrdersByUser(ctx context.Context, userID pgtype.UUID) (int64, error) {
	rows, _ := m.ListOrdersByUser(ctx, repo.ListOrdersByUserParams{UserID: userID})
	return int64(len(rows)), nil
}

func (m *memStore) ListOrders(_ context.Context, arg repo.ListOrdersParams) ([]repo.Order, error) {
	var out []repo.Order
	for _, o := range m.orders {
		if arg.Status == "" || o.Status == arg.Status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) CountOrders(ctx context.Context, status string) (int64, error) {
	rows, _ := m.ListOrders(ctx, repo.ListOrdersParams{Status: status})
	return int64(len(rows)), nil
}

func (m *memStore) UpdateOrderStatus(_ context.Context, arg repo.UpdateOrderStatusParams) (repo.Order, error) {
	o, ok := m.orders[arg.ID]
	if !ok {
		return repo.Order{}, pgx.ErrNoRows
	}
	allowed := false
	for _, f := range arg.From {
		allowed = allowed || f == o.Status
	}
	if !allowed {
		return repo.Order{}, pgx.ErrNoRows
	}
	o.Status = arg.To
	if arg.To == order.StatusCanceled {
		o.CanceledAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	}
	m.orders[arg.ID] = o
	m.updates++
	return o, nil
}

func (m *memStore) IncrementStock(_ context.Context, id pgtype.UUID, units int32) error {
	m.stock[id] += units
	return nil
}

type recordingBus struct{ topics []string }

func (b *recordingBus) Emit(_ context.Context, topic string, id pgtype.UUID, _ any) (repo.DomainEvent, error) {
	b.topics = append(b.topics, topic)
	return repo.DomainEvent{ID: newID(), Topic: topic, AggregateID: id}, nil
}

type fixture struct {
	store   *memStore
	bus     *recordingBus
	svc     *order.Service
	user    pgtype.UUID
	order   repo.Order
	product pgtype.UUID
}

func newFixture(t *testing.T, status string) fixture {
	t.Helper()
	store := newMemStore()
	bus := &recordingBus{}
	user, product := newID(), newID()
	store.offers["SAVE10"] = repo.Offer{Code: "SAVE10", UsageCount: 1}
	store.stock[product] = 10
	o := repo.Order{
		ID: newID(), Number: "ORD-1", UserID: user, Status: status,
		CartTotal: decimal.NewFromInt(100), DiscountAmount: decimal.NewFromInt(10), PayableAmount: decimal.NewFromInt(90),
		OfferCode: pgtype.Text{String: "SAVE10", Valid: true},
		CreatedAt: pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	store.orders[o.ID] = o
	store.lines[o.ID] = []repo.OrderLine{
		{OrderID: o.ID, ProductID: product, ProductName: "Rice", Quantity: 2, TotalUnits: 20, PricePerUnit: decimal.NewFromInt(3), Subtotal: decimal.NewFromInt(60)},
		{OrderID: o.ID, ProductID: product, ProductName: "Rice", Quantity: 4, TotalUnits: 4, PricePerUnit: decimal.NewFromInt(10), Subtotal: decimal.NewFromInt(40)},
	}
	svc := &order.Service{
		Q: store,
		Tx: func(ctx context.Context, fn func(order.Querier) error) error {
			return fn(store)
		},
		Offers: &offer.Service{},
		Events: bus,
		Log:    zerolog.Nop(),
	}
	return fixture{store: store, bus: bus, svc: svc, user: user, order: o, product: product}
}

func TestCancelRestocksAndReleasesOffer(t *testing.T) {
	f := newFixture(t, order.StatusConfirmed)
	view, err := f.svc.CancelMine(context.Background(), repo.UUIDString(f.user), repo.UUIDString(f.order.ID))
	require.NoError(t, err)
	require.Equal(t, order.StatusCanceled, view.Status)
	require.NotNil(t, view.CanceledAt)
	require.EqualValues(t, 34, f.store.stock[f.product])
	require.EqualValues(t, 0, f.store.offers["SAVE10"].UsageCount)
	require.Equal(t, []string{events.TopicOrderCanceled}, f.bus.topics)
	require.Len(t, view.Lines, 2)
	require.True(t, view.Lines[0].PricePerUnit.Equal(decimal.NewFromInt(3)))
}

func TestCustomerCannotCancelShippedOrder(t *testing.T) {
	f := newFixture(t, order.StatusShipped)
	_, err := f.svc.CancelMine(context.Background(), repo.UUIDString(f.user), repo.UUIDString(f.order.ID))
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
	require.ErrorIs(t, err, order.ErrInvalidTransition)
	require.EqualValues(t, 10, f.store.stock[f.product])
	require.Zero(t, f.store.updates)
}

func TestOtherUsersOrdersReadAsMissing(t *testing.T) {
	f := newFixture(t, order.StatusPendingPayment)
	stranger := repo.UUIDString(newID())
	_, err := f.svc.GetMine(context.Background(), stranger, repo.UUIDString(f.order.ID))
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, common.CodeNotFound, appErr.Code)

	_, err = f.svc.CancelMine(context.Background(), stranger, repo.UUIDString(f.order.ID))
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, common.CodeNotFound, appErr.Code)
}

func TestAdminStatusFollowsRanks(t *testing.T) {
	f := newFixture(t, order.StatusPendingPayment)
	ctx := context.Background()
	id := repo.UUIDString(f.order.ID)

	view, err := f.svc.SetStatus(ctx, id, "confirmed")
	require.NoError(t, err)
	require.Equal(t, order.StatusConfirmed, view.Status)

	view, err = f.svc.SetStatus(ctx, id, order.StatusShipped)
	require.NoError(t, err)
	require.Equal(t, order.StatusShipped, view.Status)

	_, err = f.svc.SetStatus(ctx, id, order.StatusPacked)
	require.ErrorIs(t, err, order.ErrInvalidTransition)

	_, err = f.svc.SetStatus(ctx, id, order.StatusCanceled)
	require.ErrorIs(t, err, order.ErrInvalidTransition)

	_, err = f.svc.SetStatus(ctx, id, "LOST")
	require.Error(t, err)

	require.Equal(t, []string{events.TopicOrderPaid, events.TopicOrderStatus}, f.bus.topics)
}

func TestCanAdvance(t *testing.T) {
	require.True(t, order.CanAdvance(order.StatusPendingPayment, order.StatusDelivered))
	require.False(t, order.CanAdvance(order.StatusDelivered, order.StatusDelivered))
	require.False(t, order.CanAdvance(order.StatusCanceled, order.StatusConfirmed))
	require.False(t, order.CanAdvance(order.StatusConfirmed, order.StatusCanceled))
}

func TestCancelHandlerRequiresAuth(t *testing.T) {
	f := newFixture(t, order.StatusPendingPayment)
	h := &order.Handler{Svc: f.svc}

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", repo.UUIDString(f.order.ID))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	h.Cancel(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.Cancel(rec, req.WithContext(common.WithUserID(req.Context(), repo.UUIDString(f.user))))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), order.StatusCanceled)
}
