package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const paymentColumns = `id, order_id, provider, provider_ref, status, amount, redirect_url, payload, expires_at, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Provider, &p.ProviderRef, &p.Status, &p.Amount, &p.RedirectUrl,
		&p.Payload, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

type CreatePaymentParams struct {
	OrderID     pgtype.UUID
	Provider    string
	ProviderRef string
	Status      string
	Amount      decimal.Decimal
	RedirectUrl pgtype.Text
	Payload     []byte
	ExpiresAt   pgtype.Timestamptz
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, `
INSERT INTO payments (order_id, provider, provider_ref, status, amount, redirect_url, payload, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+paymentColumns,
		arg.OrderID, arg.Provider, arg.ProviderRef, arg.Status, arg.Amount, arg.RedirectUrl, arg.Payload, arg.ExpiresAt))
}

func (q *Queries) GetLatestPaymentByOrder(ctx context.Context, orderID pgtype.UUID) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, `
SELECT `+paymentColumns+` FROM payments WHERE order_id = $1
ORDER BY created_at DESC LIMIT 1`, orderID))
}

func (q *Queries) GetPaymentByProviderRef(ctx context.Context, provider, ref string) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, `
SELECT `+paymentColumns+` FROM payments WHERE provider = $1 AND provider_ref = $2 FOR UPDATE`, provider, ref))
}

type UpdatePaymentStatusParams struct {
	ID      pgtype.UUID
	Status  string
	Payload []byte
}

func (q *Queries) UpdatePaymentStatus(ctx context.Context, arg UpdatePaymentStatusParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, `
UPDATE payments SET status = $2, payload = COALESCE($3, payload), updated_at = now()
WHERE id = $1
RETURNING `+paymentColumns, arg.ID, arg.Status, arg.Payload))
}
