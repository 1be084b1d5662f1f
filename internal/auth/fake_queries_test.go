package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cs350892/market-server/internal/repo"
)

type fakeQueries struct {
	mu       sync.Mutex
	users    map[pgtype.UUID]repo.User
	sessions map[string]repo.Session
	resets   map[string]repo.PasswordReset
}

func newFakeQueries() *fakeQueries {
	return &fakeQueries{
		users:    map[pgtype.UUID]repo.User{},
		sessions: map[string]repo.Session{},
		resets:   map[string]repo.PasswordReset{},
	}
}

func newUUID() pgtype.UUID { return pgtype.UUID{Bytes: uuid.New(), Valid: true} }

func (f *fakeQueries) CreateUser(_ context.Context, arg repo.CreateUserParams) (repo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == arg.Email {
			return repo.User{}, &pgconn.PgError{Code: "23505"}
		}
	}
	roles := arg.Roles
	if len(roles) == 0 {
		roles = []string{"customer"}
	}
	u := repo.User{ID: newUUID(), Name: arg.Name, Email: arg.Email, Phone: arg.Phone, PasswordHash: arg.PasswordHash,
		Roles: roles, CreatedAt: pgtype.Timestamptz{Time: time.Now(), Valid: true}}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeQueries) GetUserByEmail(_ context.Context, email string) (repo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return repo.User{}, pgx.ErrNoRows
}

func (f *fakeQueries) GetUserByID(_ context.Context, id pgtype.UUID) (repo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repo.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (f *fakeQueries) UpdateUserPassword(_ context.Context, arg repo.UpdateUserPasswordParams) (repo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[arg.ID]
	if !ok {
		return repo.User{}, pgx.ErrNoRows
	}
	u.PasswordHash = arg.PasswordHash
	f.users[arg.ID] = u
	return u, nil
}

func (f *fakeQueries) CreateSession(_ context.Context, arg repo.CreateSessionParams) (repo.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := repo.Session{ID: newUUID(), UserID: arg.UserID, RefreshTokenHash: arg.RefreshToken, ExpiresAt: arg.ExpiresAt}
	f.sessions[arg.RefreshToken] = s
	return s, nil
}

func (f *fakeQueries) GetSessionByToken(_ context.Context, hash string) (repo.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[hash]
	if !ok {
		return repo.Session{}, pgx.ErrNoRows
	}
	return s, nil
}

func (f *fakeQueries) RotateSessionToken(_ context.Context, arg repo.RotateSessionTokenParams) (repo.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hash, s := range f.sessions {
		if s.ID == arg.ID {
			delete(f.sessions, hash)
			s.RefreshTokenHash = arg.RefreshToken
			s.ExpiresAt = arg.ExpiresAt
			f.sessions[arg.RefreshToken] = s
			return s, nil
		}
	}
	return repo.Session{}, pgx.ErrNoRows
}

func (f *fakeQueries) DeleteSessionByToken(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, hash)
	return nil
}

func (f *fakeQueries) DeleteSessionsByUser(_ context.Context, userID pgtype.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hash, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, hash)
		}
	}
	return nil
}

func (f *fakeQueries) CreatePasswordReset(_ context.Context, arg repo.CreatePasswordResetParams) (repo.PasswordReset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := repo.PasswordReset{ID: newUUID(), UserID: arg.UserID, TokenHash: arg.TokenHash, ExpiresAt: arg.ExpiresAt}
	f.resets[arg.TokenHash] = r
	return r, nil
}

func (f *fakeQueries) GetPasswordResetByToken(_ context.Context, hash string) (repo.PasswordReset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resets[hash]
	if !ok {
		return repo.PasswordReset{}, pgx.ErrNoRows
	}
	return r, nil
}

func (f *fakeQueries) UsePasswordReset(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.resets[hash]; ok {
		r.UsedAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
		f.resets[hash] = r
	}
	return nil
}

func (f *fakeQueries) DeletePasswordResetsByUser(_ context.Context, userID pgtype.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hash, r := range f.resets {
		if r.UserID == userID {
			delete(f.resets, hash)
		}
	}
	return nil
}
