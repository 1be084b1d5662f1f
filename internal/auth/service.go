package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/repo"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
	defaultResetTTL   = time.Hour

	rolesClaim = "roles"
)

// RoleAdmin guards the admin dashboard routes.
const RoleAdmin = "admin"

// Querier is the account slice of repo.Queries.
type Querier interface {
	CreateUser(ctx context.Context, arg repo.CreateUserParams) (repo.User, error)
	GetUserByEmail(ctx context.Context, email string) (repo.User, error)
	GetUserByID(ctx context.Context, id pgtype.UUID) (repo.User, error)
	UpdateUserPassword(ctx context.Context, arg repo.UpdateUserPasswordParams) (repo.User, error)
	CreateSession(ctx context.Context, arg repo.CreateSessionParams) (repo.Session, error)
	GetSessionByToken(ctx context.Context, hash string) (repo.Session, error)
	RotateSessionToken(ctx context.Context, arg repo.RotateSessionTokenParams) (repo.Session, error)
	DeleteSessionByToken(ctx context.Context, hash string) error
	DeleteSessionsByUser(ctx context.Context, userID pgtype.UUID) error
	CreatePasswordReset(ctx context.Context, arg repo.CreatePasswordResetParams) (repo.PasswordReset, error)
	GetPasswordResetByToken(ctx context.Context, hash string) (repo.PasswordReset, error)
	UsePasswordReset(ctx context.Context, hash string) error
	DeletePasswordResetsByUser(ctx context.Context, userID pgtype.UUID) error
}

// Service coordinates registration, login, token rotation and password resets.
type Service struct {
	queries    Querier
	mailer     common.EmailSender
	log        zerolog.Logger
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
	resetURL   string
	now        func() time.Time
	signer     jwa.SignatureAlgorithm
	validator  TokenValidator
	issuer     string
	audience   string
	clockSkew  time.Duration
}

// Config configures the auth service.
type Config struct {
	Queries         Querier
	Mailer          common.EmailSender
	Logger          zerolog.Logger
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration
	// PublicBaseURL prefixes the reset link sent by ForgotPassword.
	PublicBaseURL string
	Issuer        string
	Audience      string
	ClockSkew     time.Duration
}

// User is the client-safe view of an account.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Phone    string `json:"phone" validate:"omitempty,max=20"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// Claims are the facts carried by a verified access token.
type Claims struct {
	UserID string
	Roles  []string
}

// LoginResult bundles token material returned after a successful login.
type LoginResult struct {
	User          User      `json:"user"`
	AccessToken   string    `json:"accessToken"`
	AccessExpiry  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken  string    `json:"-"`
	RefreshExpiry time.Time `json:"-"`
}

// NewService constructs a Service with defaults for unset TTLs.
func NewService(cfg Config) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("auth: queries is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	issuer := valueOr(cfg.Issuer, "market-server")
	audience := valueOr(cfg.Audience, "market-web")
	clockSkew := cfg.ClockSkew
	if clockSkew < 0 {
		clockSkew = 0
	}
	mailer := cfg.Mailer
	if mailer == nil {
		mailer = common.NopEmailSender{}
	}
	return &Service{
		queries:    cfg.Queries,
		mailer:     mailer,
		log:        cfg.Logger,
		secret:     []byte(secret),
		accessTTL:  durationOr(cfg.AccessTokenTTL, defaultAccessTTL),
		refreshTTL: durationOr(cfg.RefreshTokenTTL, defaultRefreshTTL),
		resetTTL:   durationOr(cfg.ResetTokenTTL, defaultResetTTL),
		resetURL:   strings.TrimRight(cfg.PublicBaseURL, "/") + "/reset-password",
		now:        time.Now,
		signer:     jwa.HS256,
		validator: TokenValidator{
			Issuer:    issuer,
			Audience:  audience,
			ClockSkew: clockSkew,
			Algorithm: jwa.HS256,
		},
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
	}, nil
}

func valueOr(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func durationOr(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func unauthorized(msg string, err error) error {
	return common.NewAppError(common.CodeUnauthorized, msg, http.StatusUnauthorized, err)
}

var errInvalidCredentials = common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", http.StatusUnauthorized, nil)

// Register creates a customer account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := common.ValidateStruct(in); err != nil {
		return User{}, err
	}
	hash, err := argon2id.CreateHash(in.Password, argon2id.DefaultParams)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	created, err := s.queries.CreateUser(ctx, repo.CreateUserParams{
		Name:         in.Name,
		Email:        in.Email,
		Phone:        repo.Text(in.Phone),
		PasswordHash: hash,
	})
	if err != nil {
		if repo.IsUniqueViolation(err) {
			return User{}, common.NewAppError("EMAIL_ALREADY_USED", "email is already registered", http.StatusConflict, err)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return toUser(created), nil
}

// Login verifies credentials and issues an access token plus a refresh session.
func (s *Service) Login(ctx context.Context, email, password, userAgent, ip string) (LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return LoginResult{}, errInvalidCredentials
	}
	u, err := s.queries.GetUserByEmail(ctx, email)
	if err != nil {
		if repo.IsNotFound(err) {
			return LoginResult{}, errInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("get user: %w", err)
	}
	ok, err := argon2id.ComparePasswordAndHash(password, u.PasswordHash)
	if err != nil || !ok {
		return LoginResult{}, errInvalidCredentials
	}
	access, accessExp, err := s.signAccessToken(repo.UUIDString(u.ID), u.Roles)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, hashed, refreshExp, err := s.newRefreshToken()
	if err != nil {
		return LoginResult{}, err
	}
	if _, err := s.queries.CreateSession(ctx, repo.CreateSessionParams{
		UserID:       u.ID,
		RefreshToken: hashed,
		UserAgent:    repo.Text(userAgent),
		Ip:           repo.Text(ip),
		ExpiresAt:    pgTimestamp(refreshExp),
	}); err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}
	return LoginResult{
		User:          toUser(u),
		AccessToken:   access,
		AccessExpiry:  accessExp,
		RefreshToken:  refresh,
		RefreshExpiry: refreshExp,
	}, nil
}

// Logout revokes the refresh session.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return nil
	}
	return s.queries.DeleteSessionByToken(ctx, common.Sha256Hex(token))
}

// Refresh rotates a refresh token and issues a fresh access token. Expired sessions are deleted.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (LoginResult, error) {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return LoginResult{}, unauthorized("invalid refresh token", nil)
	}
	hashed := common.Sha256Hex(token)
	session, err := s.queries.GetSessionByToken(ctx, hashed)
	if err != nil {
		return LoginResult{}, unauthorized("invalid refresh token", err)
	}
	if !session.ExpiresAt.Valid || s.now().After(session.ExpiresAt.Time) {
		_ = s.queries.DeleteSessionByToken(ctx, hashed)
		return LoginResult{}, unauthorized("invalid refresh token", nil)
	}
	u, err := s.queries.GetUserByID(ctx, session.UserID)
	if err != nil {
		_ = s.queries.DeleteSessionByToken(ctx, hashed)
		return LoginResult{}, unauthorized("invalid refresh token", err)
	}
	access, accessExp, err := s.signAccessToken(repo.UUIDString(u.ID), u.Roles)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}
	next, nextHash, refreshExp, err := s.newRefreshToken()
	if err != nil {
		return LoginResult{}, err
	}
	if _, err := s.queries.RotateSessionToken(ctx, repo.RotateSessionTokenParams{
		ID:           session.ID,
		RefreshToken: nextHash,
		ExpiresAt:    pgTimestamp(refreshExp),
	}); err != nil {
		return LoginResult{}, fmt.Errorf("rotate session token: %w", err)
	}
	return LoginResult{
		User:          toUser(u),
		AccessToken:   access,
		AccessExpiry:  accessExp,
		RefreshToken:  next,
		RefreshExpiry: refreshExp,
	}, nil
}

// Me fetches the authenticated account.
func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	id, err := repo.ParseUUID(userID)
	if err != nil {
		return User{}, unauthorized("unauthorized", err)
	}
	u, err := s.queries.GetUserByID(ctx, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return User{}, unauthorized("unauthorized", err)
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return toUser(u), nil
}

// ForgotPassword stores a hashed reset token and mails the plain token as a link. Unknown
// addresses succeed silently.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	u, err := s.queries.GetUserByEmail(ctx, email)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("get user: %w", err)
	}
	token, err := generateToken(32)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	expiresAt := s.now().Add(s.resetTTL)
	if _, err := s.queries.CreatePasswordReset(ctx, repo.CreatePasswordResetParams{
		UserID:    u.ID,
		TokenHash: common.Sha256Hex(token),
		ExpiresAt: pgTimestamp(expiresAt),
	}); err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	link := s.resetURL + "?token=" + token
	body := fmt.Sprintf("Hi %s,\n\nUse the link below to choose a new password. It expires at %s.\n\n%s\n\nIf you did not ask for this, ignore this email.",
		u.Name, expiresAt.UTC().Format(time.RFC1123), link)
	if err := s.mailer.Send(u.Email, "Reset your password", body); err != nil {
		s.log.Warn().Err(err).Str("user_id", repo.UUIDString(u.ID)).Msg("password_reset_mail_failed")
	}
	return nil
}

// ResetPassword consumes a reset token, replaces the password and revokes every session.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	invalid := common.NewAppError("INVALID_TOKEN", "invalid or expired token", http.StatusBadRequest, nil)
	if token == "" {
		return invalid
	}
	if len(newPassword) < 8 || len(newPassword) > 128 {
		return common.ValidationFailed("validation failed", map[string]any{"fields": map[string]string{"password": "must be between 8 and 128 characters"}}, nil)
	}
	hashed := common.Sha256Hex(token)
	reset, err := s.queries.GetPasswordResetByToken(ctx, hashed)
	if err != nil {
		if repo.IsNotFound(err) {
			return invalid
		}
		return fmt.Errorf("get password reset: %w", err)
	}
	if reset.UsedAt.Valid || !reset.ExpiresAt.Valid || s.now().After(reset.ExpiresAt.Time) {
		return invalid
	}
	hash, err := argon2id.CreateHash(newPassword, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.queries.UpdateUserPassword(ctx, repo.UpdateUserPasswordParams{ID: reset.UserID, PasswordHash: hash}); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.queries.UsePasswordReset(ctx, hashed); err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	if err := s.queries.DeleteSessionsByUser(ctx, reset.UserID); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	if err := s.queries.DeletePasswordResetsByUser(ctx, reset.UserID); err != nil {
		return fmt.Errorf("delete password resets: %w", err)
	}
	return nil
}

// ParseAccessToken verifies an access token and returns its claims.
func (s *Service) ParseAccessToken(token string) (Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Claims{}, unauthorized("missing token", nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Claims{}, unauthorized("invalid token", err)
	}
	if algorithm != s.validator.Algorithm {
		return Claims{}, unauthorized("invalid token", fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, s.secret), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, unauthorized("invalid token", err)
	}
	if err := s.validator.Validate(parsed, algorithm, s.now()); err != nil {
		return Claims{}, unauthorized("invalid token", err)
	}
	claims := Claims{UserID: parsed.Subject()}
	if raw, ok := parsed.Get(rolesClaim); ok {
		if list, ok := raw.([]any); ok {
			for _, r := range list {
				if role, ok := r.(string); ok {
					claims.Roles = append(claims.Roles, role)
				}
			}
		}
	}
	return claims, nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) != 1 {
		return "", errors.New("auth: token must carry exactly one signature")
	}
	headers := signatures[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("auth: token missing protected headers")
	}
	alg := headers.Algorithm()
	if alg == "" || alg == jwa.NoSignature {
		return "", errors.New("auth: token algorithm not allowed")
	}
	return alg, nil
}

func (s *Service) signAccessToken(userID string, roles []string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("auth: invalid user identifier")
	}
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	if roles == nil {
		roles = []string{}
	}
	token, err := jwt.NewBuilder().
		Subject(userID).
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.clockSkew)).
		Expiration(expiresAt).
		Claim(rolesClaim, roles).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(s.signer, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// newRefreshToken returns the plain token, its stored hash and its expiry.
func (s *Service) newRefreshToken() (string, string, time.Time, error) {
	token, err := generateToken(48)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("generate refresh token: %w", err)
	}
	return token, common.Sha256Hex(token), s.now().Add(s.refreshTTL), nil
}

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func toUser(u repo.User) User {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	out := User{
		ID:    repo.UUIDString(u.ID),
		Name:  u.Name,
		Email: u.Email,
		Roles: roles,
	}
	if u.Phone.Valid {
		out.Phone = u.Phone.String
	}
	if u.CreatedAt.Valid {
		out.CreatedAt = u.CreatedAt.Time
	}
	return out
}

func pgTimestamp(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}
