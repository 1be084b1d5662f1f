package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cs350892/market-server/internal/catalog"
	"github.com/cs350892/market-server/internal/pricing"
	"github.com/cs350892/market-server/internal/repo"
)

type fakeQueries struct {
	mu        sync.Mutex
	products  map[string]repo.Product
	listCalls int
}

func newFakeQueries() *fakeQueries {
	return &fakeQueries{products: map[string]repo.Product{}}
}

func (f *fakeQueries) add(p repo.Product) repo.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !p.ID.Valid {
		p.ID = pgtype.UUID{Bytes: uuid.New(), Valid: true}
	}
	now := pgtype.Timestamptz{Time: time.Now(), Valid: true}
	p.CreatedAt, p.UpdatedAt = now, now
	f.products[repo.UUIDString(p.ID)] = p
	return p
}

func (f *fakeQueries) CreateProduct(_ context.Context, arg repo.CreateProductParams) (repo.Product, error) {
	return f.add(repo.Product{
		Name: arg.Name, Slug: arg.Slug, Description: arg.Description, Category: arg.Category,
		BaseRate: arg.BaseRate, TaxPercent: arg.TaxPercent, Stock: arg.Stock,
		Tiers: arg.Tiers, PackSizes: arg.PackSizes, IsActive: true,
	}), nil
}

func (f *fakeQueries) UpdateProduct(_ context.Context, arg repo.UpdateProductParams) (repo.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[repo.UUIDString(arg.ID)]
	if !ok {
		return repo.Product{}, pgx.ErrNoRows
	}
	p.Name, p.Slug, p.Description, p.Category = arg.Name, arg.Slug, arg.Description, arg.Category
	p.BaseRate, p.TaxPercent, p.Tiers, p.PackSizes, p.IsActive = arg.BaseRate, arg.TaxPercent, arg.Tiers, arg.PackSizes, arg.IsActive
	f.products[repo.UUIDString(arg.ID)] = p
	return p, nil
}

func (f *fakeQueries) SetProductActive(_ context.Context, id pgtype.UUID, active bool) (repo.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[repo.UUIDString(id)]
	if !ok {
		return repo.Product{}, pgx.ErrNoRows
	}
	p.IsActive = active
	f.products[repo.UUIDString(id)] = p
	return p, nil
}

func (f *fakeQueries) GetProductByID(_ context.Context, id pgtype.UUID) (repo.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[repo.UUIDString(id)]
	if !ok {
		return repo.Product{}, pgx.ErrNoRows
	}
	return p, nil
}

func (f *fakeQueries) GetProductBySlug(_ context.Context, slug string) (repo.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.Slug == slug {
			return p, nil
		}
	}
	return repo.Product{}, pgx.ErrNoRows
}

func (f *fakeQueries) GetProductsByIDs(_ context.Context, ids []pgtype.UUID) ([]repo.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repo.Product
	for _, id := range ids {
		if p, ok := f.products[repo.UUIDString(id)]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeQueries) SlugExists(_ context.Context, slug string) (bool, error) {
	_, err := f.GetProductBySlug(context.Background(), slug)
	return err == nil, nil
}

func (f *fakeQueries) filter(arg repo.ListProductsParams) []repo.Product {
	var out []repo.Product
	for _, p := range f.products {
		if !p.IsActive && !arg.IncludeInactive {
			continue
		}
		if arg.Query != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(arg.Query)) {
			continue
		}
		if arg.Category != "" && p.Category != arg.Category {
			continue
		}
		if arg.InStock && p.Stock <= 0 {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *fakeQueries) CountProducts(_ context.Context, arg repo.ListProductsParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.filter(arg))), nil
}

func (f *fakeQueries) ListProducts(_ context.Context, arg repo.ListProductsParams) ([]repo.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	rows := f.filter(arg)
	start := int(arg.Offset)
	if start > len(rows) {
		return nil, nil
	}
	end := start + int(arg.Limit)
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], nil
}

func (f *fakeQueries) AdjustStock(_ context.Context, id pgtype.UUID, delta int32) (repo.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[repo.UUIDString(id)]
	if !ok || p.Stock+delta < 0 {
		return repo.Product{}, pgx.ErrNoRows
	}
	p.Stock += delta
	f.products[repo.UUIDString(id)] = p
	return p, nil
}

func (f *fakeQueries) ListLowStock(_ context.Context, threshold, limit int32) ([]repo.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repo.Product
	for _, p := range f.products {
		if p.IsActive && p.Stock <= threshold && int32(len(out)) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func seedRice(f *fakeQueries) repo.Product {
	tiers := `[{"range":"1-20","minQuantity":1,"maxQuantity":20,"unitPrice":"50"},` +
		`{"range":"21-100","minQuantity":21,"maxQuantity":100,"unitPrice":"48"},` +
		`{"range":"101+","minQuantity":101,"maxQuantity":null,"unitPrice":"45"}]`
	return f.add(repo.Product{
		Name: "Basmati Rice", Slug: "basmati-rice", Category: "grains",
		BaseRate: decimal.RequireFromString("50"), TaxPercent: decimal.RequireFromString("18"),
		Stock: 500, Tiers: []byte(tiers), PackSizes: []byte(`[{"id":"bag10","name":"10 kg bag","multiplier":10}]`),
		IsActive: true,
	})
}

func newService(t *testing.T, q *fakeQueries, client *redis.Client) *catalog.Service {
	t.Helper()
	var cache *catalog.Cache
	if client != nil {
		cache = catalog.NewCache(client, time.Minute)
	}
	svc, err := catalog.NewService(catalog.ServiceConfig{
		Queries:           q,
		Cache:             cache,
		DefaultLimit:      20,
		MaxLimit:          100,
		DefaultTaxPercent: decimal.RequireFromString("18"),
		LowStockThreshold: 10,
	})
	require.NoError(t, err)
	return svc
}

func withParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

type productsResponse struct {
	Data       []catalog.Product `json:"data"`
	Pagination struct {
		Page       int `json:"page"`
		PerPage    int `json:"per_page"`
		TotalItems int `json:"total_items"`
	} `json:"pagination"`
}

type productResponse struct {
	Data catalog.Product `json:"data"`
}

func TestProductsListHidesInactiveAndPaginates(t *testing.T) {
	q := newFakeQueries()
	seedRice(q)
	q.add(repo.Product{Name: "Atta", Slug: "atta", BaseRate: decimal.NewFromInt(40), TaxPercent: decimal.NewFromInt(5), Stock: 0, IsActive: true})
	q.add(repo.Product{Name: "Old Stock", Slug: "old-stock", BaseRate: decimal.NewFromInt(10), IsActive: false})
	h := catalog.NewHandler(catalog.HandlerConfig{Service: newService(t, q, nil)})

	rec := httptest.NewRecorder()
	h.Products(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2", rec.Header().Get("X-Total-Count"))

	var resp productsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.Equal(t, "Atta", resp.Data[0].Name)
	require.False(t, resp.Data[0].InStock)
	require.Equal(t, 2, resp.Pagination.TotalItems)

	rec = httptest.NewRecorder()
	h.Products(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products?inStock=true", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.Equal(t, "basmati-rice", resp.Data[0].Slug)
}

func TestProductsListRejectsBadFilters(t *testing.T) {
	h := catalog.NewHandler(catalog.HandlerConfig{Service: newService(t, newFakeQueries(), nil)})
	for _, target := range []string{
		"/api/v1/products?page=0",
		"/api/v1/products?minPrice=abc",
		"/api/v1/products?minPrice=10&maxPrice=5",
		"/api/v1/products?inStock=maybe",
	} {
		rec := httptest.NewRecorder()
		h.Products(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestProductDetailDerivesTaxFields(t *testing.T) {
	q := newFakeQueries()
	rice := seedRice(q)
	h := catalog.NewHandler(catalog.HandlerConfig{Service: newService(t, q, nil)})

	for _, key := range []string{"basmati-rice", repo.UUIDString(rice.ID)} {
		rec := httptest.NewRecorder()
		h.ProductDetail(rec, withParam(httptest.NewRequest(http.MethodGet, "/", nil), "idOrSlug", key))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp productResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.True(t, resp.Data.RateAfterTax.Equal(decimal.RequireFromString("59")))
		require.True(t, resp.Data.ValueAfterTax.Equal(decimal.RequireFromString("29500")))
		require.Len(t, resp.Data.Tiers, 3)
		require.Len(t, resp.Data.PackSizes, 1)
	}

	rec := httptest.NewRecorder()
	h.ProductDetail(rec, withParam(httptest.NewRequest(http.MethodGet, "/", nil), "idOrSlug", "missing"))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPriceResolvesPackAndTier(t *testing.T) {
	q := newFakeQueries()
	seedRice(q)
	h := catalog.NewHandler(catalog.HandlerConfig{Service: newService(t, q, nil)})

	rec := httptest.NewRecorder()
	req := withParam(httptest.NewRequest(http.MethodGet, "/?quantity=15&packSizeId=bag10", nil), "idOrSlug", "basmati-rice")
	h.Price(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			TotalUnits   int             `json:"totalUnits"`
			Tier         string          `json:"tier"`
			PricePerUnit decimal.Decimal `json:"pricePerUnit"`
			Subtotal     decimal.Decimal `json:"subtotal"`
			Available    bool            `json:"available"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 150, resp.Data.TotalUnits)
	require.Equal(t, "101+", resp.Data.Tier)
	require.True(t, resp.Data.Subtotal.Equal(decimal.RequireFromString("6750")))
	require.True(t, resp.Data.Available)
}

func TestCreateProductAllocatesSlugAndNormalizesTiers(t *testing.T) {
	q := newFakeQueries()
	seedRice(q)
	svc := newService(t, q, nil)

	pct := decimal.RequireFromString("10")
	unbounded := 0
	p, err := svc.Create(context.Background(), catalog.ProductInput{
		Name:     "Basmati Rice",
		BaseRate: decimal.RequireFromString("100"),
		Stock:    5,
		Tiers:    []pricing.LegacyTier{{MinQuantity: 1, MaxQuantity: &unbounded, DiscountPercentage: &pct}},
	})
	require.NoError(t, err)
	require.Equal(t, "basmati-rice-2", p.Slug)
	require.Len(t, p.Tiers, 1)
	require.Nil(t, p.Tiers[0].MaxQuantity)
	require.True(t, p.Tiers[0].UnitPrice.Equal(decimal.RequireFromString("90")))
	require.True(t, p.TaxPercent.Equal(decimal.RequireFromString("18")))

	_, err = svc.Create(context.Background(), catalog.ProductInput{Name: "Bad", BaseRate: decimal.NewFromInt(-1)})
	require.Error(t, err)
}

func TestAdjustStockNeverGoesNegative(t *testing.T) {
	q := newFakeQueries()
	seedRice(q)
	h := catalog.NewHandler(catalog.HandlerConfig{Service: newService(t, q, nil)})

	rec := httptest.NewRecorder()
	req := withParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"delta":-501}`)), "idOrSlug", "basmati-rice")
	h.AdjustStock(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	req = withParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"delta":-495}`)), "idOrSlug", "basmati-rice")
	h.AdjustStock(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.LowStock(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var resp productsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.Equal(t, 5, resp.Data[0].Stock)
}

func TestListingCacheIsInvalidatedByWrites(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := newFakeQueries()
	seedRice(q)
	svc := newService(t, q, client)
	ctx := context.Background()

	params, err := svc.ParseListParams(nil)
	require.NoError(t, err)
	_, err = svc.ListProducts(ctx, params)
	require.NoError(t, err)
	_, err = svc.ListProducts(ctx, params)
	require.NoError(t, err)
	require.Equal(t, 1, q.listCalls)

	_, err = svc.Deactivate(ctx, "basmati-rice")
	require.NoError(t, err)
	res, err := svc.ListProducts(ctx, params)
	require.NoError(t, err)
	require.Equal(t, 2, q.listCalls)
	require.Empty(t, res.Items)
}

func TestProductsByIDKeepsRequestedKeys(t *testing.T) {
	q := newFakeQueries()
	rice := seedRice(q)
	svc := newService(t, q, nil)

	upper := strings.ToUpper(repo.UUIDString(rice.ID))
	got, err := svc.ProductsByID(context.Background(), []string{upper, uuid.NewString()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 500, got[upper].Stock)
	require.True(t, got[upper].Active)
}
