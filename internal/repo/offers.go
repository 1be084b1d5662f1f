package repo

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const offerColumns = `id, code, description, discount_type, discount, min_purchase_amount, max_discount_amount,
product_ids, status, expires_at, usage_limit, usage_count, created_at, updated_at`

func scanOffer(row pgx.Row) (Offer, error) {
	var o Offer
	err := row.Scan(&o.ID, &o.Code, &o.Description, &o.DiscountType, &o.Discount, &o.MinPurchaseAmount,
		&o.MaxDiscountAmount, &o.ProductIds, &o.Status, &o.ExpiresAt, &o.UsageLimit, &o.UsageCount,
		&o.CreatedAt, &o.UpdatedAt)
	return o, err
}

type CreateOfferParams struct {
	Code              string
	Description       string
	DiscountType      string
	Discount          decimal.Decimal
	MinPurchaseAmount decimal.Decimal
	MaxDiscountAmount decimal.NullDecimal
	ProductIds        []pgtype.UUID
	Status            string
	ExpiresAt         pgtype.Timestamptz
	UsageLimit        pgtype.Int4
}

func (q *Queries) CreateOffer(ctx context.Context, arg CreateOfferParams) (Offer, error) {
	ids := arg.ProductIds
	if ids == nil {
		ids = []pgtype.UUID{}
	}
	return scanOffer(q.db.QueryRow(ctx, `
INSERT INTO offers (code, description, discount_type, discount, min_purchase_amount, max_discount_amount,
                    product_ids, status, expires_at, usage_limit)
VALUES (upper($1), $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+offerColumns,
		arg.Code, arg.Description, arg.DiscountType, arg.Discount, arg.MinPurchaseAmount, arg.MaxDiscountAmount,
		ids, arg.Status, arg.ExpiresAt, arg.UsageLimit))
}

type UpdateOfferParams struct {
	Code              string
	Description       string
	DiscountType      string
	Discount          decimal.Decimal
	MinPurchaseAmount decimal.Decimal
	MaxDiscountAmount decimal.NullDecimal
	ProductIds        []pgtype.UUID
	ExpiresAt         pgtype.Timestamptz
	UsageLimit        pgtype.Int4
}

func (q *Queries) UpdateOffer(ctx context.Context, arg UpdateOfferParams) (Offer, error) {
	ids := arg.ProductIds
	if ids == nil {
		ids = []pgtype.UUID{}
	}
	return scanOffer(q.db.QueryRow(ctx, `
UPDATE offers
SET description = $2, discount_type = $3, discount = $4, min_purchase_amount = $5, max_discount_amount = $6,
    product_ids = $7, expires_at = $8, usage_limit = $9, updated_at = now()
WHERE code = upper($1)
RETURNING `+offerColumns,
		arg.Code, arg.Description, arg.DiscountType, arg.Discount, arg.MinPurchaseAmount, arg.MaxDiscountAmount,
		ids, arg.ExpiresAt, arg.UsageLimit))
}

func (q *Queries) GetOfferByCode(ctx context.Context, code string) (Offer, error) {
	return scanOffer(q.db.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE code = upper($1)`, strings.TrimSpace(code)))
}

func (q *Queries) SetOfferStatus(ctx context.Context, code, status string) (Offer, error) {
	return scanOffer(q.db.QueryRow(ctx, `
UPDATE offers SET status = $2, updated_at = now()
WHERE code = upper($1)
RETURNING `+offerColumns, code, status))
}

// DeleteUnusedOffer removes an offer that was never redeemed and reports whether a row was deleted.
func (q *Queries) DeleteUnusedOffer(ctx context.Context, code string) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM offers WHERE code = upper($1) AND usage_count = 0`, code)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type ListOffersParams struct {
	Status string
	Limit  int32
	Offset int32
}

func (q *Queries) ListOffers(ctx context.Context, arg ListOffersParams) ([]Offer, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+offerColumns+` FROM offers
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3`, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (q *Queries) CountOffers(ctx context.Context, status string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM offers WHERE ($1 = '' OR status = $1)`, status).Scan(&n)
	return n, err
}

// RedeemOffer claims one use of the offer in a single conditional update. It returns pgx.ErrNoRows
// when the offer is missing, inactive, expired or exhausted.
func (q *Queries) RedeemOffer(ctx context.Context, code string, now pgtype.Timestamptz) (Offer, error) {
	return scanOffer(q.db.QueryRow(ctx, `
UPDATE offers SET usage_count = usage_count + 1, updated_at = now()
WHERE code = upper($1)
  AND status = 'active'
  AND expires_at >= $2
  AND (usage_limit IS NULL OR usage_count < usage_limit)
RETURNING `+offerColumns, code, now))
}

func (q *Queries) ReleaseOffer(ctx context.Context, code string) error {
	_, err := q.db.Exec(ctx, `
UPDATE offers SET usage_count = usage_count - 1, updated_at = now()
WHERE code = upper($1) AND usage_count > 0`, code)
	return err
}

func (q *Queries) ExpireDueOffers(ctx context.Context, now pgtype.Timestamptz) (int64, error) {
	tag, err := q.db.Exec(ctx, `
UPDATE offers SET status = 'expired', updated_at = now()
WHERE status = 'active' AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) CountActiveOffers(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM offers WHERE status = 'active' AND expires_at >= now()`).Scan(&n)
	return n, err
}
