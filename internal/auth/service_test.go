package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/cs350892/market-server/internal/common"
)

func newTestService(t *testing.T) (*Service, *fakeQueries, *common.InMemoryEmail) {
	t.Helper()
	q := newFakeQueries()
	mail := &common.InMemoryEmail{}
	svc, err := NewService(Config{
		Queries:         q,
		Mailer:          mail,
		Secret:          "test-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		ResetTokenTTL:   time.Hour,
		PublicBaseURL:   "https://shop.example",
	})
	require.NoError(t, err)
	return svc, q, mail
}

func appStatus(t *testing.T, err error) int {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.HTTPStatus
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Name: " Asha ", Email: "Asha@Example.com", Password: "password123"})
	require.NoError(t, err)
	require.Equal(t, "asha@example.com", u.Email)
	require.Equal(t, []string{"customer"}, u.Roles)

	_, err = svc.Register(ctx, RegisterInput{Name: "Asha", Email: "asha@example.com", Password: "password123"})
	require.Equal(t, http.StatusConflict, appStatus(t, err))

	_, err = svc.Register(ctx, RegisterInput{Name: "X", Email: "not-an-email", Password: "short"})
	require.Equal(t, http.StatusUnprocessableEntity, appStatus(t, err))

	_, err = svc.Login(ctx, "asha@example.com", "wrong-password", "", "")
	require.Equal(t, http.StatusUnauthorized, appStatus(t, err))

	res, err := svc.Login(ctx, "ASHA@example.com", "password123", "test-agent", "203.0.113.9")
	require.NoError(t, err)
	require.NotEmpty(t, res.RefreshToken)

	claims, err := svc.ParseAccessToken(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.UserID)
	require.Equal(t, []string{"customer"}, claims.Roles)
}

func TestRefreshRotatesAndLogoutRevokes(t *testing.T) {
	svc, q, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Name: "Ravi", Email: "ravi@example.com", Password: "password123"})
	require.NoError(t, err)
	login, err := svc.Login(ctx, "ravi@example.com", "password123", "", "")
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.Equal(t, http.StatusUnauthorized, appStatus(t, err))

	require.NoError(t, svc.Logout(ctx, rotated.RefreshToken))
	require.Empty(t, q.sessions)
	_, err = svc.Refresh(ctx, rotated.RefreshToken)
	require.Error(t, err)
}

func TestRefreshRejectsExpiredSession(t *testing.T) {
	svc, q, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Name: "Ravi", Email: "ravi@example.com", Password: "password123"})
	require.NoError(t, err)
	login, err := svc.Login(ctx, "ravi@example.com", "password123", "", "")
	require.NoError(t, err)

	later := time.Now().Add(2 * time.Hour)
	svc.WithNow(func() time.Time { return later })
	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.Equal(t, http.StatusUnauthorized, appStatus(t, err))
	require.Empty(t, q.sessions)
}

func TestForgotResetFlow(t *testing.T) {
	svc, q, mail := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Name: "Meera", Email: "meera@example.com", Password: "password123"})
	require.NoError(t, err)
	login, err := svc.Login(ctx, "meera@example.com", "password123", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.ForgotPassword(ctx, "nobody@example.com"))
	require.Empty(t, mail.Outbox)

	require.NoError(t, svc.ForgotPassword(ctx, "meera@example.com"))
	require.Len(t, mail.Outbox, 1)
	require.Equal(t, "meera@example.com", mail.Outbox[0].To)

	idx := strings.Index(mail.Outbox[0].Body, "https://shop.example/reset-password?token=")
	require.GreaterOrEqual(t, idx, 0)
	link := strings.Fields(mail.Outbox[0].Body[idx:])[0]
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	token := parsed.Query().Get("token")
	require.NotEmpty(t, token)
	for hash := range q.resets {
		require.NotEqual(t, token, hash)
	}

	require.Equal(t, http.StatusBadRequest, appStatus(t, svc.ResetPassword(ctx, "bogus", "newpassword1")))
	require.Equal(t, http.StatusUnprocessableEntity, appStatus(t, svc.ResetPassword(ctx, token, "short")))

	require.NoError(t, svc.ResetPassword(ctx, token, "newpassword1"))
	require.Empty(t, q.sessions)
	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.Error(t, err)

	require.Error(t, svc.ResetPassword(ctx, token, "anotherpass1"))
	_, err = svc.Login(ctx, "meera@example.com", "newpassword1", "", "")
	require.NoError(t, err)
}

func TestParseAccessTokenRejectsOtherAlgorithms(t *testing.T) {
	svc, _, _ := newTestService(t)
	now := time.Now()
	built, err := jwt.NewBuilder().Subject("user-id").Issuer(svc.issuer).Audience([]string{svc.audience}).
		IssuedAt(now).Expiration(now.Add(time.Minute)).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(built, jwt.WithKey(jwa.HS384, svc.secret))
	require.NoError(t, err)

	_, err = svc.ParseAccessToken(string(signed))
	require.Equal(t, http.StatusUnauthorized, appStatus(t, err))
}
