package auth

import (
	"net/http"
	"strings"

	"github.com/cs350892/market-server/internal/common"
)

// Handler exposes the account endpoints. The refresh token travels only in an HttpOnly cookie.
type Handler struct {
	Service           *Service
	RefreshCookieName string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Register handles POST /auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	user, err := h.Service.Register(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, user)
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	result, err := h.Service.Login(r.Context(), req.Email, req.Password, r.UserAgent(), common.ClientIP(r))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.setRefreshCookie(w, result)
	common.Data(w, http.StatusOK, result)
}

// Refresh handles POST /auth/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.Service.Refresh(r.Context(), h.refreshToken(r))
	if err != nil {
		h.clearRefreshCookie(w)
		common.WriteError(w, err)
		return
	}
	h.setRefreshCookie(w, result)
	common.Data(w, http.StatusOK, result)
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := h.refreshToken(r); token != "" {
		_ = h.Service.Logout(r.Context(), token)
	}
	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "missing or invalid token", nil)
		return
	}
	user, err := h.Service.Me(r.Context(), userID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, user)
}

// ForgotPassword handles POST /auth/password/forgot. The answer never reveals whether the
// address is registered.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Service.ForgotPassword(r.Context(), req.Email); err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusAccepted, map[string]string{"message": "if the email exists, a reset link has been sent"})
}

// ResetPassword handles POST /auth/password/reset.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.Service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		common.WriteError(w, err)
		return
	}
	h.clearRefreshCookie(w)
	common.Data(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     h.RefreshCookieName,
		Value:    value,
		Domain:   h.CookieDomain,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: h.CookieSameSite,
	}
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, result LoginResult) {
	if h.RefreshCookieName == "" {
		return
	}
	c := h.cookie(result.RefreshToken)
	c.Expires = result.RefreshExpiry
	http.SetCookie(w, c)
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	if h.RefreshCookieName == "" {
		return
	}
	c := h.cookie("")
	c.MaxAge = -1
	http.SetCookie(w, c)
}

func (h *Handler) refreshToken(r *http.Request) string {
	if h.RefreshCookieName == "" {
		return ""
	}
	if c, err := r.Cookie(h.RefreshCookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
