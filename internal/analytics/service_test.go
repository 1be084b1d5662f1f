package analytics_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cs350892/market-server/internal/analytics"
	"github.com/cs350892/market-server/internal/repo"
)

type stubQueries struct {
	salesCalls    int
	overviewCalls int
	threshold     int32
}

func (s *stubQueries) GetSalesDailyRange(_ context.Context, arg repo.DateRangeParams) ([]repo.SalesDailyRow, error) {
	s.salesCalls++
	day := arg.From.Time.AddDate(0, 0, 1)
	return []repo.SalesDailyRow{{Day: pgtype.Date{Time: day, Valid: true}, Orders: 2, Revenue: decimal.RequireFromString("1490.50")}}, nil
}

func (s *stubQueries) GetTopProducts(context.Context, repo.TopProductsParams) ([]repo.TopProductRow, error) {
	return []repo.TopProductRow{{ProductID: pgtype.UUID{Bytes: uuid.New(), Valid: true}, ProductName: "Basmati Rice", UnitsSold: 150, Revenue: decimal.NewFromInt(6750)}}, nil
}

func (s *stubQueries) CountOrdersByStatus(context.Context) ([]repo.StatusCountRow, error) {
	s.overviewCalls++
	return []repo.StatusCountRow{{Status: "CONFIRMED", Count: 3}, {Status: "CANCELED", Count: 1}}, nil
}

func (s *stubQueries) SumRevenue(context.Context) (decimal.Decimal, error) {
	return decimal.RequireFromString("2200.00"), nil
}

func (s *stubQueries) CountCustomers(context.Context) (int64, error)    { return 7, nil }
func (s *stubQueries) CountActiveOffers(context.Context) (int64, error) { return 2, nil }

func (s *stubQueries) CountLowStock(_ context.Context, threshold int32) (int64, error) {
	s.threshold = threshold
	return 1, nil
}

func newService(t *testing.T) (*analytics.Service, *stubQueries) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := &stubQueries{}
	now := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)
	return &analytics.Service{Q: q, R: rdb, TTL: time.Minute, DefaultRange: 30, LowStockThreshold: 5, Now: func() time.Time { return now }}, q
}

func TestSalesRangeCachedAndFilled(t *testing.T) {
	svc, q := newService(t)
	from := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 4, 0, 0, 0, 0, time.UTC)

	days, err := svc.SalesRange(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, days, 3)
	require.Equal(t, "2026-04-01", days[0].Date)
	require.True(t, days[0].Revenue.IsZero())
	require.Equal(t, int64(2), days[1].Orders)

	again, err := svc.SalesRange(context.Background(), from, to)
	require.NoError(t, err)
	require.Equal(t, 1, q.salesCalls)
	require.True(t, again[1].Revenue.Equal(decimal.RequireFromString("1490.5")))
}

func TestOverview(t *testing.T) {
	svc, q := newService(t)
	out, err := svc.Overview(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4), out.TotalOrders)
	require.Equal(t, int64(3), out.OrdersByStatus["CONFIRMED"])
	require.Equal(t, int64(7), out.Customers)
	require.Equal(t, int32(5), q.threshold)

	_, err = svc.Overview(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, q.overviewCalls)
}

func TestHandlersValidateWindow(t *testing.T) {
	svc, _ := newService(t)
	h := &analytics.Handler{Svc: svc}

	rec := httptest.NewRecorder()
	h.Sales(rec, httptest.NewRequest(http.MethodGet, "/admin/analytics/sales?from=2026-04-05&to=2026-04-01", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Sales(rec, httptest.NewRequest(http.MethodGet, "/admin/analytics/sales?days=7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []analytics.SalesDay `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 8)

	rec = httptest.NewRecorder()
	h.TopProducts(rec, httptest.NewRequest(http.MethodGet, "/admin/analytics/top-products", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Basmati Rice")
}
