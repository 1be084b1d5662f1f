package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, number, user_id, status, cart_total, discount_amount, payable_amount, offer_code,
shipping_address, notes, paid_at, canceled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.Status, &o.CartTotal, &o.DiscountAmount, &o.PayableAmount,
		&o.OfferCode, &o.ShippingAddress, &o.Notes, &o.PaidAt, &o.CanceledAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type CreateOrderParams struct {
	Number          string
	UserID          pgtype.UUID
	Status          string
	CartTotal       decimal.Decimal
	DiscountAmount  decimal.Decimal
	PayableAmount   decimal.Decimal
	OfferCode       pgtype.Text
	ShippingAddress []byte
	Notes           pgtype.Text
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, `
INSERT INTO orders (number, user_id, status, cart_total, discount_amount, payable_amount, offer_code, shipping_address, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+orderColumns,
		arg.Number, arg.UserID, arg.Status, arg.CartTotal, arg.DiscountAmount, arg.PayableAmount, arg.OfferCode,
		arg.ShippingAddress, arg.Notes))
}

type CreateOrderLineParams struct {
	OrderID      pgtype.UUID
	ProductID    pgtype.UUID
	ProductName  string
	PackSizeID   string
	PackName     string
	Quantity     int32
	TotalUnits   int32
	TierLabel    string
	PricePerUnit decimal.Decimal
	Subtotal     decimal.Decimal
	Position     int32
}

func (q *Queries) CreateOrderLine(ctx context.Context, arg CreateOrderLineParams) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO order_lines (order_id, product_id, product_name, pack_size_id, pack_name, quantity, total_units,
                         tier_label, price_per_unit, subtotal, position)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		arg.OrderID, arg.ProductID, arg.ProductName, arg.PackSizeID, arg.PackName, arg.Quantity, arg.TotalUnits,
		arg.TierLabel, arg.PricePerUnit, arg.Subtotal, arg.Position)
	return err
}

func (q *Queries) GetOrderByID(ctx context.Context, id pgtype.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetOrderForUpdate locks the order row for the rest of the transaction.
func (q *Queries) GetOrderForUpdate(ctx context.Context, id pgtype.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) ListOrderLines(ctx context.Context, orderID pgtype.UUID) ([]OrderLine, error) {
	rows, err := q.db.Query(ctx, `
SELECT id, order_id, product_id, product_name, pack_size_id, pack_name, quantity, total_units, tier_label,
       price_per_unit, subtotal, position
FROM order_lines WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OrderLine
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.PackSizeID, &l.PackName, &l.Quantity,
			&l.TotalUnits, &l.TierLabel, &l.PricePerUnit, &l.Subtotal, &l.Position); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type ListOrdersByUserParams struct {
	UserID pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListOrdersByUser(ctx context.Context, arg ListOrdersByUserParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+orderColumns+` FROM orders WHERE user_id = $1
ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (q *Queries) CountOrdersByUser(ctx context.Context, userID pgtype.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM orders WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

type ListOrdersParams struct {
	Status string
	Limit  int32
	Offset int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+orderColumns+` FROM orders WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (q *Queries) CountOrders(ctx context.Context, status string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM orders WHERE ($1 = '' OR status = $1)`, status).Scan(&n)
	return n, err
}

type UpdateOrderStatusParams struct {
	ID   pgtype.UUID
	From []string
	To   string
}

// UpdateOrderStatus moves the order only when its current status is one of From. It returns
// pgx.ErrNoRows when another writer got there first.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, `
UPDATE orders
SET status = $3,
    paid_at = CASE WHEN $3 = 'CONFIRMED' AND paid_at IS NULL THEN now() ELSE paid_at END,
    canceled_at = CASE WHEN $3 = 'CANCELED' THEN now() ELSE canceled_at END,
    updated_at = now()
WHERE id = $1 AND status = ANY($2)
RETURNING `+orderColumns, arg.ID, arg.From, arg.To))
}
