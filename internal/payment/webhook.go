package payment

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/obs"
)

const maxWebhookBody = 64 << 10

// Webhook verifies provider callbacks, drops replays and hands them to Service.Settle.
type Webhook struct {
	Svc       *Service
	Providers map[string]Provider
	Replay    redis.UniversalClient
	ReplayTTL time.Duration
	Log       zerolog.Logger
}

// Handle serves POST /webhooks/payment/{provider}.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	provider, ok := h.Providers[providerKey]
	if !ok || h.Svc == nil {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	result, err := provider.VerifyWebhook(r, body)
	if err != nil {
		obs.Inc(obs.PaymentWebhookTotal, providerKey, "rejected")
		if errors.Is(err, ErrInvalidSignature) {
			common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
			return
		}
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}

	ctx := r.Context()
	var replayKey string
	if h.Replay != nil && h.ReplayTTL > 0 {
		replayKey = fmt.Sprintf("wh:%s:%s", providerKey, common.Sha256Hex(string(body)))
		fresh, err := h.Replay.SetNX(ctx, replayKey, "1", h.ReplayTTL).Result()
		if err != nil {
			h.Log.Warn().Err(err).Str("provider", providerKey).Msg("webhook_replay_store_failed")
			replayKey = ""
		} else if !fresh {
			obs.Inc(obs.PaymentWebhookTotal, providerKey, "replay")
			common.Data(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
	}

	out, err := h.Svc.Settle(ctx, providerKey, result)
	if err != nil {
		if replayKey != "" {
			// Let the provider's retry through.
			_ = h.Replay.Del(ctx, replayKey).Err()
		}
		obs.Inc(obs.PaymentWebhookTotal, providerKey, "error")
		h.Log.Warn().Err(err).Str("provider", providerKey).Str("reference", result.Reference).Msg("payment_webhook_failed")
		common.WriteError(w, err)
		return
	}
	label := strings.ToLower(out.PaymentStatus)
	if out.Duplicate {
		label = "duplicate"
	}
	obs.Inc(obs.PaymentWebhookTotal, providerKey, label)
	common.Data(w, http.StatusOK, map[string]any{
		"received":      true,
		"duplicate":     out.Duplicate,
		"paymentStatus": out.PaymentStatus,
		"orderStatus":   out.OrderStatus,
	})
}
