package payment

import (
	"context"
	"errors"
	"net/http"
)

// Payment statuses stored on the payments table.
const (
	StatusPending = "PENDING"
	StatusPaid    = "PAID"
	StatusFailed  = "FAILED"
	StatusExpired = "EXPIRED"
)

// ErrInvalidSignature is returned by VerifyWebhook when the callback signature does not match.
var ErrInvalidSignature = errors.New("payment: invalid webhook signature")

// IntentRequest carries what a provider needs to open a hosted payment page. Amounts are in
// the smallest currency unit (paise).
type IntentRequest struct {
	Reference   string
	OrderID     string
	UserID      string
	AmountPaise int64
	CallbackURL string
	RedirectURL string
}

// IntentResponse is the provider's answer to an intent request.
type IntentResponse struct {
	Reference   string
	RedirectURL string
	Raw         []byte
}

// WebhookResult is a verified, normalised callback.
type WebhookResult struct {
	Reference   string
	Status      string
	AmountPaise int64
	Payload     []byte
}

// Provider abstracts the operations required from an upstream payment provider.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error)
	VerifyWebhook(r *http.Request, body []byte) (WebhookResult, error)
}
