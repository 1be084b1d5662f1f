package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cs350892/market-server/internal/repo"
)

// Querier is the reporting slice of repo.Queries.
type Querier interface {
	GetSalesDailyRange(ctx context.Context, arg repo.DateRangeParams) ([]repo.SalesDailyRow, error)
	GetTopProducts(ctx context.Context, arg repo.TopProductsParams) ([]repo.TopProductRow, error)
	CountOrdersByStatus(ctx context.Context) ([]repo.StatusCountRow, error)
	SumRevenue(ctx context.Context) (decimal.Decimal, error)
	CountCustomers(ctx context.Context) (int64, error)
	CountActiveOffers(ctx context.Context) (int64, error)
	CountLowStock(ctx context.Context, threshold int32) (int64, error)
}

// Service serves the admin dashboard numbers, caching each answer in Redis for TTL.
type Service struct {
	Q                 Querier
	R                 redis.UniversalClient
	TTL               time.Duration
	DefaultRange      int
	LowStockThreshold int
	Log               zerolog.Logger
	Now               func() time.Time
}

// Overview is the dashboard headline.
type Overview struct {
	Revenue        decimal.Decimal  `json:"revenue"`
	OrdersByStatus map[string]int64 `json:"ordersByStatus"`
	TotalOrders    int64            `json:"totalOrders"`
	Customers      int64            `json:"customers"`
	ActiveOffers   int64            `json:"activeOffers"`
	LowStock       int64            `json:"lowStockProducts"`
	GeneratedAt    time.Time        `json:"generatedAt"`
}

// SalesDay is one day of collected revenue. Days without sales are reported as zero.
type SalesDay struct {
	Date    string          `json:"date"`
	Orders  int64           `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

// TopProduct ranks a product by units sold.
type TopProduct struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitsSold int64           `json:"unitsSold"`
	Revenue   decimal.Decimal `json:"revenue"`
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts)+1)
	formatted = append(formatted, "an")
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// cached returns the value under key or computes and stores it. Redis failures fall through
// to load.
func cached[T any](ctx context.Context, s *Service, key string, load func() (T, error)) (T, error) {
	if s.R != nil && s.TTL > 0 {
		if data, err := s.R.Get(ctx, key).Bytes(); err == nil {
			var v T
			if err := json.Unmarshal(data, &v); err == nil {
				return v, nil
			}
		}
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	if s.R != nil && s.TTL > 0 {
		if data, err := json.Marshal(v); err == nil {
			if err := s.R.Set(ctx, key, data, s.TTL).Err(); err != nil {
				s.Log.Warn().Err(err).Str("key", key).Msg("analytics_cache_set_failed")
			}
		}
	}
	return v, nil
}

// Overview aggregates revenue, order counts, customers, live offers and low-stock products.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	threshold := s.LowStockThreshold
	if threshold <= 0 {
		threshold = 10
	}
	return cached(ctx, s, cacheKey("overview", threshold), func() (Overview, error) {
		out := Overview{OrdersByStatus: map[string]int64{}, GeneratedAt: s.now().UTC()}
		var err error
		if out.Revenue, err = s.Q.SumRevenue(ctx); err != nil {
			return Overview{}, fmt.Errorf("sum revenue: %w", err)
		}
		counts, err := s.Q.CountOrdersByStatus(ctx)
		if err != nil {
			return Overview{}, fmt.Errorf("count orders: %w", err)
		}
		for _, c := range counts {
			out.OrdersByStatus[c.Status] = c.Count
			out.TotalOrders += c.Count
		}
		if out.Customers, err = s.Q.CountCustomers(ctx); err != nil {
			return Overview{}, fmt.Errorf("count customers: %w", err)
		}
		if out.ActiveOffers, err = s.Q.CountActiveOffers(ctx); err != nil {
			return Overview{}, fmt.Errorf("count offers: %w", err)
		}
		if out.LowStock, err = s.Q.CountLowStock(ctx, int32(threshold)); err != nil {
			return Overview{}, fmt.Errorf("count low stock: %w", err)
		}
		return out, nil
	})
}

// SalesRange returns one entry per UTC day in [from, to).
func (s *Service) SalesRange(ctx context.Context, from, to time.Time) ([]SalesDay, error) {
	from, to = from.UTC().Truncate(24*time.Hour), to.UTC()
	key := cacheKey("sales", from.Format(time.DateOnly), to.Format(time.RFC3339))
	return cached(ctx, s, key, func() ([]SalesDay, error) {
		rows, err := s.Q.GetSalesDailyRange(ctx, repo.DateRangeParams{
			From: pgtype.Timestamptz{Time: from, Valid: true},
			To:   pgtype.Timestamptz{Time: to, Valid: true},
		})
		if err != nil {
			return nil, fmt.Errorf("sales range: %w", err)
		}
		byDay := make(map[string]repo.SalesDailyRow, len(rows))
		for _, r := range rows {
			byDay[r.Day.Time.Format(time.DateOnly)] = r
		}
		out := []SalesDay{}
		for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
			day := d.Format(time.DateOnly)
			r := byDay[day]
			out = append(out, SalesDay{Date: day, Orders: r.Orders, Revenue: r.Revenue})
		}
		return out, nil
	})
}

// TopProducts ranks products by units sold in [from, to).
func (s *Service) TopProducts(ctx context.Context, from, to time.Time, limit, offset int32) ([]TopProduct, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	from, to = from.UTC(), to.UTC()
	key := cacheKey("top", from.Format(time.DateOnly), to.Format(time.DateOnly), limit, offset)
	return cached(ctx, s, key, func() ([]TopProduct, error) {
		rows, err := s.Q.GetTopProducts(ctx, repo.TopProductsParams{
			From:   pgtype.Timestamptz{Time: from, Valid: true},
			To:     pgtype.Timestamptz{Time: to, Valid: true},
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("top products: %w", err)
		}
		out := make([]TopProduct, 0, len(rows))
		for _, r := range rows {
			out = append(out, TopProduct{ProductID: repo.UUIDString(r.ProductID), Name: r.ProductName, UnitsSold: r.UnitsSold, Revenue: r.Revenue})
		}
		return out, nil
	})
}
