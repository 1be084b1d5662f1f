package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const userColumns = `id, email, name, phone, password_hash, roles, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.PasswordHash, &u.Roles, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

type CreateUserParams struct {
	Name         string
	Email        string
	Phone        pgtype.Text
	PasswordHash string
	Roles        []string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	roles := arg.Roles
	if len(roles) == 0 {
		roles = []string{"customer"}
	}
	return scanUser(q.db.QueryRow(ctx, `
INSERT INTO users (name, email, phone, password_hash, roles)
VALUES ($1, lower($2), $3, $4, $5)
RETURNING `+userColumns, arg.Name, arg.Email, arg.Phone, arg.PasswordHash, roles))
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (q *Queries) GetUserByID(ctx context.Context, id pgtype.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

type UpdateUserPasswordParams struct {
	ID           pgtype.UUID
	PasswordHash string
}

func (q *Queries) UpdateUserPassword(ctx context.Context, arg UpdateUserPasswordParams) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `
UPDATE users SET password_hash = $2, updated_at = now()
WHERE id = $1
RETURNING `+userColumns, arg.ID, arg.PasswordHash))
}

// UpsertAdmin creates or promotes the account used to bootstrap the admin dashboard.
func (q *Queries) UpsertAdmin(ctx context.Context, arg CreateUserParams) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `
INSERT INTO users (name, email, password_hash, roles)
VALUES ($1, lower($2), $3, ARRAY['customer', 'admin'])
ON CONFLICT (lower(email)) DO UPDATE
SET roles = ARRAY['customer', 'admin'], password_hash = EXCLUDED.password_hash, updated_at = now()
RETURNING `+userColumns, arg.Name, arg.Email, arg.PasswordHash))
}

type CreateSessionParams struct {
	UserID       pgtype.UUID
	RefreshToken string
	UserAgent    pgtype.Text
	Ip           pgtype.Text
	ExpiresAt    pgtype.Timestamptz
}

const sessionColumns = `id, user_id, refresh_token_hash, user_agent, ip, expires_at, revoked_at, created_at`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &s.UserAgent, &s.Ip, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt)
	return s, err
}

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (Session, error) {
	return scanSession(q.db.QueryRow(ctx, `
INSERT INTO sessions (user_id, refresh_token_hash, user_agent, ip, expires_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+sessionColumns, arg.UserID, arg.RefreshToken, arg.UserAgent, arg.Ip, arg.ExpiresAt))
}

func (q *Queries) GetSessionByToken(ctx context.Context, hash string) (Session, error) {
	return scanSession(q.db.QueryRow(ctx, `
SELECT `+sessionColumns+` FROM sessions
WHERE refresh_token_hash = $1 AND revoked_at IS NULL`, hash))
}

type RotateSessionTokenParams struct {
	ID           pgtype.UUID
	RefreshToken string
	ExpiresAt    pgtype.Timestamptz
}

func (q *Queries) RotateSessionToken(ctx context.Context, arg RotateSessionTokenParams) (Session, error) {
	return scanSession(q.db.QueryRow(ctx, `
UPDATE sessions SET refresh_token_hash = $2, expires_at = $3
WHERE id = $1 AND revoked_at IS NULL
RETURNING `+sessionColumns, arg.ID, arg.RefreshToken, arg.ExpiresAt))
}

func (q *Queries) DeleteSessionByToken(ctx context.Context, hash string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM sessions WHERE refresh_token_hash = $1`, hash)
	return err
}

func (q *Queries) DeleteSessionsByUser(ctx context.Context, userID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

type CreatePasswordResetParams struct {
	UserID    pgtype.UUID
	TokenHash string
	ExpiresAt pgtype.Timestamptz
}

const resetColumns = `id, user_id, token_hash, expires_at, used_at, created_at`

func scanPasswordReset(row pgx.Row) (PasswordReset, error) {
	var p PasswordReset
	err := row.Scan(&p.ID, &p.UserID, &p.TokenHash, &p.ExpiresAt, &p.UsedAt, &p.CreatedAt)
	return p, err
}

func (q *Queries) CreatePasswordReset(ctx context.Context, arg CreatePasswordResetParams) (PasswordReset, error) {
	return scanPasswordReset(q.db.QueryRow(ctx, `
INSERT INTO password_resets (user_id, token_hash, expires_at)
VALUES ($1, $2, $3)
RETURNING `+resetColumns, arg.UserID, arg.TokenHash, arg.ExpiresAt))
}

func (q *Queries) GetPasswordResetByToken(ctx context.Context, hash string) (PasswordReset, error) {
	return scanPasswordReset(q.db.QueryRow(ctx, `SELECT `+resetColumns+` FROM password_resets WHERE token_hash = $1`, hash))
}

func (q *Queries) UsePasswordReset(ctx context.Context, hash string) error {
	_, err := q.db.Exec(ctx, `UPDATE password_resets SET used_at = now() WHERE token_hash = $1 AND used_at IS NULL`, hash)
	return err
}

func (q *Queries) DeletePasswordResetsByUser(ctx context.Context, userID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM password_resets WHERE user_id = $1`, userID)
	return err
}
