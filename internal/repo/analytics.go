package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// revenueStatuses lists the order states that count as collected revenue.
var revenueStatuses = []string{"CONFIRMED", "PACKED", "SHIPPED", "DELIVERED"}

type DateRangeParams struct {
	From pgtype.Timestamptz
	To   pgtype.Timestamptz
}

type SalesDailyRow struct {
	Day     pgtype.Date     `json:"day"`
	Orders  int64           `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

func (q *Queries) GetSalesDailyRange(ctx context.Context, arg DateRangeParams) ([]SalesDailyRow, error) {
	rows, err := q.db.Query(ctx, `
SELECT date_trunc('day', created_at)::date AS day, count(*), COALESCE(sum(payable_amount), 0)
FROM orders
WHERE status = ANY($3) AND created_at >= $1 AND created_at < $2
GROUP BY 1 ORDER BY 1`, arg.From, arg.To, revenueStatuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SalesDailyRow
	for rows.Next() {
		var r SalesDailyRow
		if err := rows.Scan(&r.Day, &r.Orders, &r.Revenue); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type TopProductsParams struct {
	From   pgtype.Timestamptz
	To     pgtype.Timestamptz
	Limit  int32
	Offset int32
}

type TopProductRow struct {
	ProductID   pgtype.UUID     `json:"-"`
	ProductName string          `json:"productName"`
	UnitsSold   int64           `json:"unitsSold"`
	Revenue     decimal.Decimal `json:"revenue"`
}

func (q *Queries) GetTopProducts(ctx context.Context, arg TopProductsParams) ([]TopProductRow, error) {
	rows, err := q.db.Query(ctx, `
SELECT l.product_id, max(l.product_name), sum(l.total_units), sum(l.subtotal)
FROM order_lines l
JOIN orders o ON o.id = l.order_id
WHERE o.status = ANY($3) AND o.created_at >= $1 AND o.created_at < $2
GROUP BY l.product_id
ORDER BY sum(l.total_units) DESC, l.product_id
LIMIT $4 OFFSET $5`, arg.From, arg.To, revenueStatuses, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TopProductRow
	for rows.Next() {
		var r TopProductRow
		if err := rows.Scan(&r.ProductID, &r.ProductName, &r.UnitsSold, &r.Revenue); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type StatusCountRow struct {
	Status string
	Count  int64
}

func (q *Queries) CountOrdersByStatus(ctx context.Context) ([]StatusCountRow, error) {
	rows, err := q.db.Query(ctx, `SELECT status, count(*) FROM orders GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusCountRow
	for rows.Next() {
		var r StatusCountRow
		if err := rows.Scan(&r.Status, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) SumRevenue(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.db.QueryRow(ctx, `SELECT COALESCE(sum(payable_amount), 0) FROM orders WHERE status = ANY($1)`, revenueStatuses).Scan(&total)
	return total, err
}

func (q *Queries) CountCustomers(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM users WHERE NOT ('admin' = ANY(roles))`).Scan(&n)
	return n, err
}

func (q *Queries) CountLowStock(ctx context.Context, threshold int32) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM products WHERE is_active AND stock <= $1`, threshold).Scan(&n)
	return n, err
}
