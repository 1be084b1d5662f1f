package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type InsertAuditLogParams struct {
	ActorUserID  pgtype.UUID
	Action       string
	ResourceType string
	ResourceID   pgtype.Text
	Method       string
	Path         string
	Route        pgtype.Text
	Status       int32
	Ip           pgtype.Text
	UserAgent    pgtype.Text
	RequestID    pgtype.Text
	Metadata     []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (pgtype.UUID, error) {
	var id pgtype.UUID
	err := q.db.QueryRow(ctx, `
INSERT INTO audit_logs (actor_user_id, action, resource_type, resource_id, method, path, route, status, ip,
                        user_agent, request_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`,
		arg.ActorUserID, arg.Action, arg.ResourceType, arg.ResourceID, arg.Method, arg.Path, arg.Route, arg.Status,
		arg.Ip, arg.UserAgent, arg.RequestID, arg.Metadata).Scan(&id)
	return id, err
}

type ListAuditLogsParams struct {
	ResourceType string
	Limit        int32
	Offset       int32
}

func (q *Queries) ListAuditLogs(ctx context.Context, arg ListAuditLogsParams) ([]AuditLog, error) {
	rows, err := q.db.Query(ctx, `
SELECT id, actor_user_id, action, resource_type, resource_id, method, path, route, status, ip, user_agent,
       request_id, metadata, occurred_at
FROM audit_logs
WHERE ($1 = '' OR resource_type = $1)
ORDER BY occurred_at DESC, id LIMIT $2 OFFSET $3`, arg.ResourceType, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditLog
	for rows.Next() {
		var a AuditLog
		if err := rows.Scan(&a.ID, &a.ActorUserID, &a.Action, &a.ResourceType, &a.ResourceID, &a.Method, &a.Path,
			&a.Route, &a.Status, &a.Ip, &a.UserAgent, &a.RequestID, &a.Metadata, &a.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
