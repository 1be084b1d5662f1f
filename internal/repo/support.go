package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const ticketColumns = `id, user_id, subject, status, created_at, updated_at`

func scanTicket(row pgx.Row) (SupportTicket, error) {
	var t SupportTicket
	err := row.Scan(&t.ID, &t.UserID, &t.Subject, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (q *Queries) CreateTicket(ctx context.Context, userID pgtype.UUID, subject string) (SupportTicket, error) {
	return scanTicket(q.db.QueryRow(ctx, `
INSERT INTO support_tickets (user_id, subject) VALUES ($1, $2)
RETURNING `+ticketColumns, userID, subject))
}

func (q *Queries) GetTicket(ctx context.Context, id pgtype.UUID) (SupportTicket, error) {
	return scanTicket(q.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM support_tickets WHERE id = $1`, id))
}

// SetTicketStatus refuses to reopen closed tickets.
func (q *Queries) SetTicketStatus(ctx context.Context, id pgtype.UUID, status string) (SupportTicket, error) {
	return scanTicket(q.db.QueryRow(ctx, `
UPDATE support_tickets SET status = $2, updated_at = now()
WHERE id = $1 AND status <> 'closed'
RETURNING `+ticketColumns, id, status))
}

type ListTicketsParams struct {
	UserID pgtype.UUID
	Status string
	Limit  int32
	Offset int32
}

// ListTickets filters by owner when UserID is set.
func (q *Queries) ListTickets(ctx context.Context, arg ListTicketsParams) ([]SupportTicket, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+ticketColumns+` FROM support_tickets
WHERE ($1::uuid IS NULL OR user_id = $1) AND ($2 = '' OR status = $2)
ORDER BY updated_at DESC, id LIMIT $3 OFFSET $4`, arg.UserID, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SupportTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queries) CountTickets(ctx context.Context, userID pgtype.UUID, status string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `
SELECT count(*) FROM support_tickets
WHERE ($1::uuid IS NULL OR user_id = $1) AND ($2 = '' OR status = $2)`, userID, status).Scan(&n)
	return n, err
}

type CreateTicketMessageParams struct {
	TicketID   pgtype.UUID
	AuthorID   pgtype.UUID
	AuthorRole string
	Body       string
}

func (q *Queries) CreateTicketMessage(ctx context.Context, arg CreateTicketMessageParams) (SupportMessage, error) {
	var m SupportMessage
	err := q.db.QueryRow(ctx, `
INSERT INTO support_messages (ticket_id, author_id, author_role, body)
VALUES ($1, $2, $3, $4)
RETURNING id, ticket_id, author_id, author_role, body, created_at`,
		arg.TicketID, arg.AuthorID, arg.AuthorRole, arg.Body).
		Scan(&m.ID, &m.TicketID, &m.AuthorID, &m.AuthorRole, &m.Body, &m.CreatedAt)
	return m, err
}

func (q *Queries) ListTicketMessages(ctx context.Context, ticketID pgtype.UUID) ([]SupportMessage, error) {
	rows, err := q.db.Query(ctx, `
SELECT id, ticket_id, author_id, author_role, body, created_at
FROM support_messages WHERE ticket_id = $1 ORDER BY created_at, id`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SupportMessage
	for rows.Next() {
		var m SupportMessage
		if err := rows.Scan(&m.ID, &m.TicketID, &m.AuthorID, &m.AuthorRole, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
