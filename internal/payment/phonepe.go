package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cs350892/market-server/internal/resilience"
)

const phonePePayPath = "/pg/v1/pay"

// Doer sends outbound requests; resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// PhonePe implements Provider against the PhonePe PG v1 pay-page API.
type PhonePe struct {
	MerchantID string
	SaltKey    string
	SaltIndex  int
	BaseURL    string
	HTTP       Doer
}

var _ Provider = PhonePe{}

// Name implements Provider.
func (p PhonePe) Name() string { return "phonepe" }

type phonePePayload struct {
	MerchantID            string `json:"merchantId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	MerchantUserID        string `json:"merchantUserId"`
	Amount                int64  `json:"amount"`
	RedirectURL           string `json:"redirectUrl"`
	RedirectMode          string `json:"redirectMode"`
	CallbackURL           string `json:"callbackUrl"`
	PaymentInstrument     struct {
		Type string `json:"type"`
	} `json:"paymentInstrument"`
}

type phonePeResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		TransactionID         string `json:"transactionId"`
		Amount                int64  `json:"amount"`
		State                 string `json:"state"`
		InstrumentResponse    struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

// checksum is sha256(material + saltKey) + "###" + saltIndex.
func (p PhonePe) checksum(material string) string {
	sum := sha256.Sum256([]byte(material + p.SaltKey))
	return hex.EncodeToString(sum[:]) + "###" + strconv.Itoa(p.SaltIndex)
}

// CreateIntent posts the base64 pay request and returns the hosted page URL.
func (p PhonePe) CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	if p.MerchantID == "" || p.SaltKey == "" {
		return IntentResponse{}, errors.New("phonepe: merchant credentials not configured")
	}
	if req.AmountPaise <= 0 {
		return IntentResponse{}, errors.New("phonepe: amount must be positive")
	}
	payload := phonePePayload{
		MerchantID:            p.MerchantID,
		MerchantTransactionID: req.Reference,
		MerchantUserID:        strings.ReplaceAll(req.UserID, "-", ""),
		Amount:                req.AmountPaise,
		RedirectURL:           req.RedirectURL,
		RedirectMode:          "REDIRECT",
		CallbackURL:           req.CallbackURL,
	}
	payload.PaymentInstrument.Type = "PAY_PAGE"
	raw, err := json.Marshal(payload)
	if err != nil {
		return IntentResponse{}, fmt.Errorf("phonepe: encode payload: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	body, _ := json.Marshal(map[string]string{"request": encoded})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.BaseURL, "/")+phonePePayPath, bytes.NewReader(body))
	if err != nil {
		return IntentResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-VERIFY", p.checksum(encoded+phonePePayPath))

	doer := p.HTTP
	if doer == nil {
		doer = resilience.HTTPClient{Client: http.DefaultClient}
	}
	resp, err := doer.Do(ctx, httpReq)
	if err != nil {
		return IntentResponse{}, fmt.Errorf("phonepe: pay request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return IntentResponse{}, fmt.Errorf("phonepe: read response: %w", err)
	}
	var decoded phonePeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return IntentResponse{}, fmt.Errorf("phonepe: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || !decoded.Success {
		return IntentResponse{}, fmt.Errorf("phonepe: pay request rejected: %s %s", decoded.Code, decoded.Message)
	}
	redirect := decoded.Data.InstrumentResponse.RedirectInfo.URL
	if redirect == "" {
		return IntentResponse{}, errors.New("phonepe: response carries no redirect url")
	}
	return IntentResponse{Reference: req.Reference, RedirectURL: redirect, Raw: respBody}, nil
}

// VerifyWebhook checks the X-VERIFY header against the base64 response field and decodes it.
func (p PhonePe) VerifyWebhook(r *http.Request, body []byte) (WebhookResult, error) {
	var envelope struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Response == "" {
		return WebhookResult{}, fmt.Errorf("phonepe: malformed callback: %w", errOrEmpty(err))
	}
	got := strings.TrimSpace(r.Header.Get("X-VERIFY"))
	want := p.checksum(envelope.Response)
	if p.SaltKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return WebhookResult{}, ErrInvalidSignature
	}
	raw, err := base64.StdEncoding.DecodeString(envelope.Response)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("phonepe: decode callback: %w", err)
	}
	var decoded phonePeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return WebhookResult{}, fmt.Errorf("phonepe: decode callback: %w", err)
	}
	if decoded.Data.MerchantTransactionID == "" {
		return WebhookResult{}, errors.New("phonepe: callback has no merchant transaction id")
	}
	return WebhookResult{
		Reference:   decoded.Data.MerchantTransactionID,
		Status:      phonePeStatus(decoded.Code, decoded.Data.State),
		AmountPaise: decoded.Data.Amount,
		Payload:     raw,
	}, nil
}

func errOrEmpty(err error) error {
	if err != nil {
		return err
	}
	return errors.New("empty response field")
}

func phonePeStatus(code, state string) string {
	switch {
	case code == "PAYMENT_SUCCESS" || strings.EqualFold(state, "COMPLETED"):
		return StatusPaid
	case code == "PAYMENT_PENDING" || strings.EqualFold(state, "PENDING"):
		return StatusPending
	default:
		return StatusFailed
	}
}
