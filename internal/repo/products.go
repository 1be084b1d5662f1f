package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, slug, description, category, base_rate, tax_percent, stock, tiers, pack_sizes, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.Category, &p.BaseRate, &p.TaxPercent,
		&p.Stock, &p.Tiers, &p.PackSizes, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func collectProducts(rows pgx.Rows) ([]Product, error) {
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type CreateProductParams struct {
	Name        string
	Slug        string
	Description string
	Category    string
	BaseRate    decimal.Decimal
	TaxPercent  decimal.Decimal
	Stock       int32
	Tiers       []byte
	PackSizes   []byte
}

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `
INSERT INTO products (name, slug, description, category, base_rate, tax_percent, stock, tiers, pack_sizes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+productColumns,
		arg.Name, arg.Slug, arg.Description, arg.Category, arg.BaseRate, arg.TaxPercent, arg.Stock, arg.Tiers, arg.PackSizes))
}

type UpdateProductParams struct {
	ID          pgtype.UUID
	Name        string
	Slug        string
	Description string
	Category    string
	BaseRate    decimal.Decimal
	TaxPercent  decimal.Decimal
	Tiers       []byte
	PackSizes   []byte
	IsActive    bool
}

// UpdateProduct replaces every mutable column except stock, which only moves through conditional updates.
func (q *Queries) UpdateProduct(ctx context.Context, arg UpdateProductParams) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `
UPDATE products
SET name = $2, slug = $3, description = $4, category = $5, base_rate = $6, tax_percent = $7,
    tiers = $8, pack_sizes = $9, is_active = $10, updated_at = now()
WHERE id = $1
RETURNING `+productColumns,
		arg.ID, arg.Name, arg.Slug, arg.Description, arg.Category, arg.BaseRate, arg.TaxPercent, arg.Tiers, arg.PackSizes, arg.IsActive))
}

func (q *Queries) SetProductActive(ctx context.Context, id pgtype.UUID, active bool) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `
UPDATE products SET is_active = $2, updated_at = now()
WHERE id = $1
RETURNING `+productColumns, id, active))
}

func (q *Queries) GetProductByID(ctx context.Context, id pgtype.UUID) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (q *Queries) GetProductBySlug(ctx context.Context, slug string) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE slug = $1`, slug))
}

func (q *Queries) GetProductsByIDs(ctx context.Context, ids []pgtype.UUID) ([]Product, error) {
	rows, err := q.db.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func (q *Queries) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE slug = $1)`, slug).Scan(&exists)
	return exists, err
}

type ListProductsParams struct {
	Query           string
	Category        string
	InStock         bool
	MinPrice        decimal.NullDecimal
	MaxPrice        decimal.NullDecimal
	Sort            string
	IncludeInactive bool
	Limit           int32
	Offset          int32
}

func (arg ListProductsParams) where() (string, []any) {
	clauses := []string{"TRUE"}
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !arg.IncludeInactive {
		clauses = append(clauses, "is_active")
	}
	if q := strings.TrimSpace(arg.Query); q != "" {
		add("(name ILIKE '%%' || $%[1]d || '%%' OR description ILIKE '%%' || $%[1]d || '%%')", q)
	}
	if c := strings.TrimSpace(arg.Category); c != "" {
		add("category = $%d", c)
	}
	if arg.InStock {
		clauses = append(clauses, "stock > 0")
	}
	if arg.MinPrice.Valid {
		add("base_rate >= $%d", arg.MinPrice.Decimal)
	}
	if arg.MaxPrice.Valid {
		add("base_rate <= $%d", arg.MaxPrice.Decimal)
	}
	return strings.Join(clauses, " AND "), args
}

func productOrder(sort string) string {
	switch sort {
	case "price_asc":
		return "base_rate ASC, id"
	case "price_desc":
		return "base_rate DESC, id"
	case "name":
		return "name ASC, id"
	default:
		return "created_at DESC, id"
	}
}

func (q *Queries) CountProducts(ctx context.Context, arg ListProductsParams) (int64, error) {
	where, args := arg.where()
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM products WHERE `+where, args...).Scan(&n)
	return n, err
}

func (q *Queries) ListProducts(ctx context.Context, arg ListProductsParams) ([]Product, error) {
	where, args := arg.where()
	args = append(args, arg.Limit, arg.Offset)
	sql := fmt.Sprintf(`SELECT %s FROM products WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		productColumns, where, productOrder(arg.Sort), len(args)-1, len(args))
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

// DecrementStock removes units only when enough stock remains. It returns pgx.ErrNoRows when the
// product is missing or short.
func (q *Queries) DecrementStock(ctx context.Context, id pgtype.UUID, units int32) (int32, error) {
	var stock int32
	err := q.db.QueryRow(ctx, `
UPDATE products SET stock = stock - $2, updated_at = now()
WHERE id = $1 AND stock >= $2
RETURNING stock`, id, units).Scan(&stock)
	return stock, err
}

func (q *Queries) IncrementStock(ctx context.Context, id pgtype.UUID, units int32) error {
	_, err := q.db.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, id, units)
	return err
}

// AdjustStock applies a signed delta unless it would drive stock negative.
func (q *Queries) AdjustStock(ctx context.Context, id pgtype.UUID, delta int32) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `
UPDATE products SET stock = stock + $2, updated_at = now()
WHERE id = $1 AND stock + $2 >= 0
RETURNING `+productColumns, id, delta))
}

func (q *Queries) ListLowStock(ctx context.Context, threshold, limit int32) ([]Product, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+productColumns+` FROM products
WHERE is_active AND stock <= $1
ORDER BY stock ASC, name
LIMIT $2`, threshold, limit)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}
