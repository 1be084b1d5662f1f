package catalog

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/pricing"
	"github.com/cs350892/market-server/internal/repo"
)

// Querier is the product slice of repo.Queries used by the catalog.
type Querier interface {
	CreateProduct(ctx context.Context, arg repo.CreateProductParams) (repo.Product, error)
	UpdateProduct(ctx context.Context, arg repo.UpdateProductParams) (repo.Product, error)
	SetProductActive(ctx context.Context, id pgtype.UUID, active bool) (repo.Product, error)
	GetProductByID(ctx context.Context, id pgtype.UUID) (repo.Product, error)
	GetProductBySlug(ctx context.Context, slug string) (repo.Product, error)
	GetProductsByIDs(ctx context.Context, ids []pgtype.UUID) ([]repo.Product, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	CountProducts(ctx context.Context, arg repo.ListProductsParams) (int64, error)
	ListProducts(ctx context.Context, arg repo.ListProductsParams) ([]repo.Product, error)
	AdjustStock(ctx context.Context, id pgtype.UUID, delta int32) (repo.Product, error)
	ListLowStock(ctx context.Context, threshold, limit int32) ([]repo.Product, error)
}

// Service orchestrates catalog queries, DTO assembly, and caching.
type Service struct {
	queries           Querier
	cache             *Cache
	log               zerolog.Logger
	defaultLimit      int
	maxLimit          int
	defaultTaxPercent decimal.Decimal
	lowStock          int
	fallback          pricing.FallbackPolicy
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Queries           Querier
	Cache             *Cache
	Logger            zerolog.Logger
	DefaultLimit      int
	MaxLimit          int
	DefaultTaxPercent decimal.Decimal
	LowStockThreshold int
	TierFallback      pricing.FallbackPolicy
}

// ListParams captures filters for product listing.
type ListParams struct {
	Query    string
	Category string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	InStock  bool
	Sort     string
	Page     int
	Limit    int
}

// Product is the API representation of a catalog product. RateAfterTax and ValueAfterTax are
// derived on every read and never stored.
type Product struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Slug          string             `json:"slug"`
	Description   string             `json:"description"`
	Category      string             `json:"category"`
	BaseRate      decimal.Decimal    `json:"baseRate"`
	TaxPercent    decimal.Decimal    `json:"taxPercent"`
	RateAfterTax  decimal.Decimal    `json:"rateAfterTax"`
	ValueAfterTax decimal.Decimal    `json:"valueAfterTax"`
	Stock         int                `json:"stock"`
	InStock       bool               `json:"inStock"`
	Tiers         pricing.Table      `json:"tiers"`
	PackSizes     []pricing.PackSize `json:"packSizes"`
	Active        bool               `json:"active"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// ProductInput is the admin payload for creating or replacing a product.
type ProductInput struct {
	Name        string               `json:"name" validate:"required,max=200"`
	Description string               `json:"description" validate:"max=5000"`
	Category    string               `json:"category" validate:"max=100"`
	BaseRate    decimal.Decimal      `json:"baseRate"`
	TaxPercent  *decimal.Decimal     `json:"taxPercent"`
	Stock       int                  `json:"stock" validate:"gte=0"`
	Tiers       []pricing.LegacyTier `json:"tiers"`
	PackSizes   []pricing.PackSize   `json:"packSizes"`
	Active      *bool                `json:"active"`
}

// ProductListResult contains list data and pagination metadata.
type ProductListResult struct {
	Items []Product `json:"items"`
	Total int64     `json:"total"`
	Page  int       `json:"-"`
	Limit int       `json:"-"`
}

// PriceQuote is the single-product price preview.
type PriceQuote struct {
	pricing.QuoteLine
	RateAfterTax decimal.Decimal `json:"rateAfterTax"`
	Available    bool            `json:"available"`
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("catalog: queries provider is required")
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	lowStock := cfg.LowStockThreshold
	if lowStock < 0 {
		lowStock = 0
	}
	return &Service{
		queries:           cfg.Queries,
		cache:             cfg.Cache,
		log:               cfg.Logger,
		defaultLimit:      defaultLimit,
		maxLimit:          maxLimit,
		defaultTaxPercent: cfg.DefaultTaxPercent,
		lowStock:          lowStock,
		fallback:          cfg.TierFallback,
	}, nil
}

// ParseListParams normalises raw query values into strongly typed filters.
func (s *Service) ParseListParams(values url.Values) (ListParams, error) {
	params := ListParams{Page: 1, Limit: s.defaultLimit}
	params.Query = strings.TrimSpace(values.Get("q"))
	params.Category = strings.TrimSpace(values.Get("category"))

	if v := strings.TrimSpace(values.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return params, badRequest("page", "page must be a positive integer", err)
		}
		params.Page = page
	}
	if v := strings.TrimSpace(values.Get("limit")); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 1 {
			return params, badRequest("limit", "limit must be a positive integer", err)
		}
		params.Limit = l
	}
	if params.Limit > s.maxLimit {
		params.Limit = s.maxLimit
	}
	for _, bound := range []struct {
		name string
		dst  **decimal.Decimal
	}{{"minPrice", &params.MinPrice}, {"maxPrice", &params.MaxPrice}} {
		v := strings.TrimSpace(values.Get(bound.name))
		if v == "" {
			continue
		}
		parsed, err := decimal.NewFromString(v)
		if err != nil || parsed.IsNegative() {
			return params, badRequest(bound.name, bound.name+" must be a non-negative number", err)
		}
		*bound.dst = &parsed
	}
	if params.MinPrice != nil && params.MaxPrice != nil && params.MinPrice.GreaterThan(*params.MaxPrice) {
		return params, badRequest("price", "minPrice cannot be greater than maxPrice", nil)
	}
	if v := strings.TrimSpace(values.Get("inStock")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return params, badRequest("inStock", "inStock must be true or false", err)
		}
		params.InStock = b
	}
	params.Sort = normalizeSort(values.Get("sort"))
	return params, nil
}

func normalizeSort(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "price_asc", "price":
		return "price_asc"
	case "price_desc", "-price":
		return "price_desc"
	case "name":
		return "name"
	default:
		return "newest"
	}
}

func badRequest(field, message string, err error) error {
	appErr := common.InvalidInput(message, err)
	appErr.Details = map[string]any{"fields": map[string]string{field: message}}
	return appErr
}

func (p ListParams) cacheSuffix() string {
	raw := fmt.Sprintf("q=%s|c=%s|min=%v|max=%v|in=%t|s=%s|p=%d|l=%d",
		p.Query, p.Category, decimalOrNil(p.MinPrice), decimalOrNil(p.MaxPrice), p.InStock, p.Sort, p.Page, p.Limit)
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func decimalOrNil(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

// ListProducts returns active products matching the filters.
func (s *Service) ListProducts(ctx context.Context, params ListParams) (ProductListResult, error) {
	key, cacheable := s.cache.Key(ctx, "list", params.cacheSuffix())
	if cacheable {
		var cached ProductListResult
		if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
			cached.Page, cached.Limit = params.Page, params.Limit
			return cached, nil
		}
	}

	q := repo.ListProductsParams{
		Query:    params.Query,
		Category: params.Category,
		InStock:  params.InStock,
		MinPrice: nullable(params.MinPrice),
		MaxPrice: nullable(params.MaxPrice),
		Sort:     params.Sort,
		Limit:    int32(params.Limit),
		Offset:   common.Offset(params.Page, params.Limit),
	}
	total, err := s.queries.CountProducts(ctx, q)
	if err != nil {
		return ProductListResult{}, fmt.Errorf("count products: %w", err)
	}
	rows, err := s.queries.ListProducts(ctx, q)
	if err != nil {
		return ProductListResult{}, fmt.Errorf("list products: %w", err)
	}
	items := make([]Product, 0, len(rows))
	for _, row := range rows {
		p, err := toProduct(row)
		if err != nil {
			return ProductListResult{}, err
		}
		items = append(items, p)
	}
	result := ProductListResult{Items: items, Total: total, Page: params.Page, Limit: params.Limit}
	if cacheable {
		if err := s.cache.SetJSON(ctx, key, result); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("catalog_cache_set_failed")
		}
	}
	return result, nil
}

// GetProduct resolves a product by id or slug. Inactive products are hidden unless includeInactive.
func (s *Service) GetProduct(ctx context.Context, idOrSlug string, includeInactive bool) (Product, error) {
	row, err := s.lookup(ctx, idOrSlug)
	if err != nil {
		return Product{}, err
	}
	if !row.IsActive && !includeInactive {
		return Product{}, common.NotFound("product not found", nil)
	}
	return toProduct(row)
}

func (s *Service) lookup(ctx context.Context, idOrSlug string) (repo.Product, error) {
	idOrSlug = strings.TrimSpace(idOrSlug)
	if idOrSlug == "" {
		return repo.Product{}, common.InvalidInput("product id is required", nil)
	}
	var (
		row repo.Product
		err error
	)
	if id, parseErr := repo.ParseUUID(idOrSlug); parseErr == nil {
		row, err = s.queries.GetProductByID(ctx, id)
	} else {
		row, err = s.queries.GetProductBySlug(ctx, strings.ToLower(idOrSlug))
	}
	if err != nil {
		if repo.IsNotFound(err) {
			return repo.Product{}, common.NotFound("product not found", err)
		}
		return repo.Product{}, fmt.Errorf("get product: %w", err)
	}
	return row, nil
}

// Price previews the price of quantity packs of a single product.
func (s *Service) Price(ctx context.Context, id string, quantity int, packSizeID string) (PriceQuote, error) {
	p, err := s.GetProduct(ctx, id, false)
	if err != nil {
		return PriceQuote{}, err
	}
	line, err := pricing.PriceLine(engineProduct(p), quantity, packSizeID, s.fallback)
	if err != nil {
		return PriceQuote{}, err
	}
	return PriceQuote{QuoteLine: line, RateAfterTax: p.RateAfterTax, Available: p.Stock >= line.TotalUnits}, nil
}

// ProductsByID implements pricing.ProductSource.
func (s *Service) ProductsByID(ctx context.Context, ids []string) (map[string]pricing.Product, error) {
	uuids := make([]pgtype.UUID, 0, len(ids))
	for _, id := range ids {
		u, err := repo.ParseUUID(id)
		if err != nil {
			return nil, common.InvalidInput(fmt.Sprintf("invalid product id %q", id), err)
		}
		uuids = append(uuids, u)
	}
	rows, err := s.queries.GetProductsByIDs(ctx, uuids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	out := make(map[string]pricing.Product, len(rows))
	byCanonical := make(map[string]string, len(ids))
	for _, id := range ids {
		if u, err := repo.ParseUUID(id); err == nil {
			byCanonical[repo.UUIDString(u)] = id
		}
	}
	for _, row := range rows {
		p, err := toProduct(row)
		if err != nil {
			return nil, err
		}
		key := p.ID
		if requested, ok := byCanonical[p.ID]; ok {
			key = requested
		}
		ep := engineProduct(p)
		ep.ID = key
		out[key] = ep
	}
	return out, nil
}

func engineProduct(p Product) pricing.Product {
	return pricing.Product{
		ID:       p.ID,
		Name:     p.Name,
		BaseRate: p.BaseRate,
		Tiers:    p.Tiers,
		Packs:    p.PackSizes,
		Stock:    p.Stock,
		Active:   p.Active,
	}
}

// Create stores a new product with a unique slug.
func (s *Service) Create(ctx context.Context, in ProductInput) (Product, error) {
	prepared, err := s.prepare(in)
	if err != nil {
		return Product{}, err
	}
	slugValue, err := s.uniqueSlug(ctx, in.Name, "")
	if err != nil {
		return Product{}, err
	}
	row, err := s.queries.CreateProduct(ctx, repo.CreateProductParams{
		Name:        prepared.name,
		Slug:        slugValue,
		Description: prepared.description,
		Category:    prepared.category,
		BaseRate:    prepared.baseRate,
		TaxPercent:  prepared.taxPercent,
		Stock:       int32(in.Stock),
		Tiers:       prepared.tiers,
		PackSizes:   prepared.packs,
	})
	if err != nil {
		if repo.IsUniqueViolation(err) {
			return Product{}, common.Conflict("product slug already exists", err)
		}
		return Product{}, fmt.Errorf("create product: %w", err)
	}
	s.invalidate(ctx)
	return toProduct(row)
}

// Update replaces the product definition; tiers and pack sizes are replaced wholesale. Stock is
// left untouched and only moves through AdjustStock or order placement.
func (s *Service) Update(ctx context.Context, idOrSlug string, in ProductInput) (Product, error) {
	current, err := s.lookup(ctx, idOrSlug)
	if err != nil {
		return Product{}, err
	}
	prepared, err := s.prepare(in)
	if err != nil {
		return Product{}, err
	}
	slugValue := current.Slug
	if prepared.name != current.Name {
		if slugValue, err = s.uniqueSlug(ctx, prepared.name, current.Slug); err != nil {
			return Product{}, err
		}
	}
	active := current.IsActive
	if in.Active != nil {
		active = *in.Active
	}
	row, err := s.queries.UpdateProduct(ctx, repo.UpdateProductParams{
		ID:          current.ID,
		Name:        prepared.name,
		Slug:        slugValue,
		Description: prepared.description,
		Category:    prepared.category,
		BaseRate:    prepared.baseRate,
		TaxPercent:  prepared.taxPercent,
		Tiers:       prepared.tiers,
		PackSizes:   prepared.packs,
		IsActive:    active,
	})
	if err != nil {
		if repo.IsUniqueViolation(err) {
			return Product{}, common.Conflict("product slug already exists", err)
		}
		return Product{}, fmt.Errorf("update product: %w", err)
	}
	s.invalidate(ctx)
	return toProduct(row)
}

// Deactivate hides a product from the storefront. Historical order lines keep referencing it.
func (s *Service) Deactivate(ctx context.Context, idOrSlug string) (Product, error) {
	current, err := s.lookup(ctx, idOrSlug)
	if err != nil {
		return Product{}, err
	}
	row, err := s.queries.SetProductActive(ctx, current.ID, false)
	if err != nil {
		return Product{}, fmt.Errorf("deactivate product: %w", err)
	}
	s.invalidate(ctx)
	return toProduct(row)
}

// AdjustStock applies a signed delta through a conditional update that never goes negative.
func (s *Service) AdjustStock(ctx context.Context, idOrSlug string, delta int) (Product, error) {
	if delta == 0 {
		return Product{}, common.InvalidInput("delta must not be zero", nil)
	}
	current, err := s.lookup(ctx, idOrSlug)
	if err != nil {
		return Product{}, err
	}
	row, err := s.queries.AdjustStock(ctx, current.ID, int32(delta))
	if err != nil {
		if repo.IsNotFound(err) {
			return Product{}, common.InsufficientStock("stock cannot go below zero",
				map[string]any{"items": []pricing.Shortage{{ProductID: repo.UUIDString(current.ID), Requested: -delta, Available: int(current.Stock)}}},
				pricing.ErrInsufficientStock)
		}
		return Product{}, fmt.Errorf("adjust stock: %w", err)
	}
	s.invalidate(ctx)
	return toProduct(row)
}

// LowStock lists active products at or below the threshold; threshold <= 0 uses the configured default.
func (s *Service) LowStock(ctx context.Context, threshold, limit int) ([]Product, error) {
	if threshold <= 0 {
		threshold = s.lowStock
	}
	if limit <= 0 || limit > s.maxLimit {
		limit = s.maxLimit
	}
	rows, err := s.queries.ListLowStock(ctx, int32(threshold), int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	out := make([]Product, 0, len(rows))
	for _, row := range rows {
		p, err := toProduct(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Invalidate drops cached listings; order placement calls it after stock moves.
func (s *Service) Invalidate(ctx context.Context) {
	s.invalidate(ctx)
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.log.Warn().Err(err).Msg("catalog_cache_bump_failed")
	}
}

type preparedProduct struct {
	name        string
	description string
	category    string
	baseRate    decimal.Decimal
	taxPercent  decimal.Decimal
	tiers       []byte
	packs       []byte
}

func (s *Service) prepare(in ProductInput) (preparedProduct, error) {
	if err := common.ValidateStruct(in); err != nil {
		return preparedProduct{}, err
	}
	fields := map[string]string{}
	if in.BaseRate.IsNegative() {
		fields["baseRate"] = "must not be negative"
	}
	tax := s.defaultTaxPercent
	if in.TaxPercent != nil {
		tax = *in.TaxPercent
	}
	if tax.IsNegative() {
		fields["taxPercent"] = "must not be negative"
	}
	if len(fields) > 0 {
		return preparedProduct{}, common.ValidationFailed("invalid product", map[string]any{"fields": fields}, nil)
	}
	base := pricing.Round2(in.BaseRate)
	tiers, err := pricing.NormalizeTiers(base, in.Tiers)
	if err != nil {
		return preparedProduct{}, err
	}
	packs := in.PackSizes
	if packs == nil {
		packs = []pricing.PackSize{}
	}
	for i := range packs {
		packs[i].ID = strings.TrimSpace(packs[i].ID)
	}
	if err := pricing.ValidatePacks(packs); err != nil {
		return preparedProduct{}, err
	}
	tiersJSON, err := json.Marshal(tiers)
	if err != nil {
		return preparedProduct{}, fmt.Errorf("encode tiers: %w", err)
	}
	packsJSON, err := json.Marshal(packs)
	if err != nil {
		return preparedProduct{}, fmt.Errorf("encode pack sizes: %w", err)
	}
	return preparedProduct{
		name:        strings.TrimSpace(in.Name),
		description: strings.TrimSpace(in.Description),
		category:    strings.ToLower(strings.TrimSpace(in.Category)),
		baseRate:    base,
		taxPercent:  tax,
		tiers:       tiersJSON,
		packs:       packsJSON,
	}, nil
}

func (s *Service) uniqueSlug(ctx context.Context, name, current string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "product"
	}
	candidate := base
	for i := 2; i < 50; i++ {
		if candidate == current {
			return candidate, nil
		}
		exists, err := s.queries.SlugExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", common.Conflict("could not allocate a unique slug", nil)
}

func toProduct(row repo.Product) (Product, error) {
	var tiers pricing.Table
	if len(row.Tiers) > 0 {
		if err := json.Unmarshal(row.Tiers, &tiers); err != nil {
			return Product{}, fmt.Errorf("decode tiers for %s: %w", row.Slug, err)
		}
	}
	packs := []pricing.PackSize{}
	if len(row.PackSizes) > 0 {
		if err := json.Unmarshal(row.PackSizes, &packs); err != nil {
			return Product{}, fmt.Errorf("decode pack sizes for %s: %w", row.Slug, err)
		}
	}
	if tiers == nil {
		tiers = pricing.Table{}
	}
	rate := pricing.RateAfterTax(row.BaseRate, row.TaxPercent)
	return Product{
		ID:            repo.UUIDString(row.ID),
		Name:          row.Name,
		Slug:          row.Slug,
		Description:   row.Description,
		Category:      row.Category,
		BaseRate:      row.BaseRate,
		TaxPercent:    row.TaxPercent,
		RateAfterTax:  rate,
		ValueAfterTax: pricing.ValueAfterTax(rate, int(row.Stock)),
		Stock:         int(row.Stock),
		InStock:       row.Stock > 0,
		Tiers:         tiers,
		PackSizes:     packs,
		Active:        row.IsActive,
		CreatedAt:     row.CreatedAt.Time,
		UpdatedAt:     row.UpdatedAt.Time,
	}, nil
}
