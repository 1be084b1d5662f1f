package offer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/obs"
	"github.com/cs350892/market-server/internal/pricing"
	"github.com/cs350892/market-server/internal/repo"
)

// ErrInvalidOffer is wrapped by configuration validation failures.
var ErrInvalidOffer = errors.New("invalid offer configuration")

// Querier captures the offer queries used outside transactions.
type Querier interface {
	GetOfferByCode(ctx context.Context, code string) (repo.Offer, error)
	CreateOffer(ctx context.Context, arg repo.CreateOfferParams) (repo.Offer, error)
	UpdateOffer(ctx context.Context, arg repo.UpdateOfferParams) (repo.Offer, error)
	SetOfferStatus(ctx context.Context, code, status string) (repo.Offer, error)
	DeleteUnusedOffer(ctx context.Context, code string) (bool, error)
	ListOffers(ctx context.Context, arg repo.ListOffersParams) ([]repo.Offer, error)
	CountOffers(ctx context.Context, status string) (int64, error)
	ExpireDueOffers(ctx context.Context, now pgtype.Timestamptz) (int64, error)
}

// UsageQuerier is the transactional subset used when placing or canceling orders.
type UsageQuerier interface {
	GetOfferByCode(ctx context.Context, code string) (repo.Offer, error)
	RedeemOffer(ctx context.Context, code string, now pgtype.Timestamptz) (repo.Offer, error)
	ReleaseOffer(ctx context.Context, code string) error
}

// Service evaluates offers and manages their lifecycle.
type Service struct {
	Q   Querier
	Now func() time.Time
}

// View is the API representation of an offer.
type View struct {
	ID                string           `json:"id"`
	Code              string           `json:"code"`
	Description       string           `json:"description"`
	DiscountType      Kind             `json:"discountType"`
	Discount          decimal.Decimal  `json:"discount"`
	MinPurchaseAmount decimal.Decimal  `json:"minPurchaseAmount"`
	MaxDiscountAmount *decimal.Decimal `json:"maxDiscountAmount,omitempty"`
	Products          []string         `json:"products"`
	Status            Status           `json:"status"`
	Expiry            time.Time        `json:"expiry"`
	UsageLimit        *int             `json:"usageLimit,omitempty"`
	UsageCount        int              `json:"usageCount"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// Input is the admin payload for creating or updating an offer.
type Input struct {
	Code              string           `json:"code" validate:"required,min=3,max=32"`
	Description       string           `json:"description" validate:"max=500"`
	DiscountType      Kind             `json:"discountType" validate:"required,oneof=percentage fixed"`
	Discount          decimal.Decimal  `json:"discount"`
	MinPurchaseAmount decimal.Decimal  `json:"minPurchaseAmount"`
	MaxDiscountAmount *decimal.Decimal `json:"maxDiscountAmount"`
	Products          []string         `json:"products" validate:"omitempty,dive,uuid"`
	Expiry            time.Time        `json:"expiry" validate:"required"`
	UsageLimit        *int             `json:"usageLimit" validate:"omitempty,gte=0"`
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RuleFromModel converts a stored offer into an evaluation rule.
func RuleFromModel(o repo.Offer) Rule {
	rule := Rule{
		Code:        o.Code,
		Kind:        Kind(o.DiscountType),
		Discount:    o.Discount,
		MinPurchase: o.MinPurchaseAmount,
		Status:      Status(o.Status),
		UsageCount:  int(o.UsageCount),
	}
	if o.ExpiresAt.Valid {
		rule.ExpiresAt = o.ExpiresAt.Time
	}
	if o.MaxDiscountAmount.Valid {
		ceiling := o.MaxDiscountAmount.Decimal
		rule.MaxDiscount = &ceiling
	}
	if o.UsageLimit.Valid {
		limit := int(o.UsageLimit.Int32)
		rule.UsageLimit = &limit
	}
	for _, id := range o.ProductIds {
		if s := repo.UUIDString(id); s != "" {
			rule.ProductIDs = append(rule.ProductIDs, s)
		}
	}
	return rule
}

func toView(o repo.Offer) View {
	rule := RuleFromModel(o)
	v := View{
		ID:                repo.UUIDString(o.ID),
		Code:              o.Code,
		Description:       o.Description,
		DiscountType:      rule.Kind,
		Discount:          o.Discount,
		MinPurchaseAmount: o.MinPurchaseAmount,
		MaxDiscountAmount: rule.MaxDiscount,
		Products:          rule.ProductIDs,
		Status:            rule.Status,
		Expiry:            rule.ExpiresAt,
		UsageLimit:        rule.UsageLimit,
		UsageCount:        rule.UsageCount,
		CreatedAt:         o.CreatedAt.Time,
		UpdatedAt:         o.UpdatedAt.Time,
	}
	if v.Products == nil {
		v.Products = []string{}
	}
	return v
}

func ineligible(err error) error {
	return common.OfferIneligible(err.Error(), err)
}

func (s *Service) load(ctx context.Context, code string) (repo.Offer, error) {
	code = normalizeCode(code)
	if code == "" {
		return repo.Offer{}, common.InvalidInput("offer code is required", nil)
	}
	o, err := s.Q.GetOfferByCode(ctx, code)
	if err != nil {
		if repo.IsNotFound(err) {
			return repo.Offer{}, common.NotFound("offer not found", err)
		}
		return repo.Offer{}, fmt.Errorf("get offer: %w", err)
	}
	return o, nil
}

// Validate evaluates code against a priced cart and reports the discount and final amount.
func (s *Service) Validate(ctx context.Context, code string, cartTotal decimal.Decimal, lines []pricing.DiscountLine) (Result, error) {
	if s == nil || s.Q == nil {
		return Result{}, errors.New("offer service not configured")
	}
	o, err := s.load(ctx, code)
	if err != nil {
		return Result{}, err
	}
	res, err := RuleFromModel(o).Evaluate(s.now(), pricing.Round2(cartTotal), lines)
	if err != nil {
		obs.Inc(obs.OfferEvaluationsTotal, ReasonLabel(err))
		return Result{}, ineligible(err)
	}
	obs.Inc(obs.OfferEvaluationsTotal, ReasonLabel(nil))
	return res, nil
}

// Evaluate implements pricing.Discounter.
func (s *Service) Evaluate(ctx context.Context, code string, cartTotal decimal.Decimal, lines []pricing.DiscountLine) (pricing.Discount, error) {
	res, err := s.Validate(ctx, code, cartTotal, lines)
	if err != nil {
		return pricing.Discount{}, err
	}
	return pricing.Discount{Code: res.Code, Amount: res.DiscountAmount, EligibleBase: res.EligibleBase}, nil
}

// Redeem claims one use of the offer through a single conditional update on q, which should be
// bound to the order placement transaction. When the update matches nothing the offer is re-read
// so the caller gets the precise rejection reason.
func (s *Service) Redeem(ctx context.Context, q UsageQuerier, code string) (repo.Offer, error) {
	code = normalizeCode(code)
	now := s.now()
	o, err := q.RedeemOffer(ctx, code, pgtype.Timestamptz{Time: now, Valid: true})
	if err == nil {
		obs.Inc(obs.OfferRedemptionsTotal, ReasonLabel(nil))
		return o, nil
	}
	if !repo.IsNotFound(err) {
		return repo.Offer{}, fmt.Errorf("redeem offer: %w", err)
	}
	current, getErr := q.GetOfferByCode(ctx, code)
	if getErr != nil {
		if repo.IsNotFound(getErr) {
			return repo.Offer{}, common.NotFound("offer not found", getErr)
		}
		return repo.Offer{}, fmt.Errorf("get offer: %w", getErr)
	}
	reason := RuleFromModel(current).Check(now)
	if reason == nil {
		reason = ErrUsageLimitReached
	}
	obs.Inc(obs.OfferRedemptionsTotal, ReasonLabel(reason))
	return repo.Offer{}, ineligible(reason)
}

// RedeemQuoted claims one use like Redeem, then re-evaluates the claimed row against the cart
// that was quoted. It fails with ErrChanged when the offer no longer yields quotedDiscount, so
// the surrounding transaction rolls the claim back.
func (s *Service) RedeemQuoted(ctx context.Context, q UsageQuerier, code string, cartTotal decimal.Decimal, lines []pricing.DiscountLine, quotedDiscount decimal.Decimal) (repo.Offer, error) {
	o, err := s.Redeem(ctx, q, code)
	if err != nil {
		return repo.Offer{}, err
	}
	rule := RuleFromModel(o)
	// The row already counts this claim.
	rule.UsageCount--
	res, err := rule.Evaluate(s.now(), pricing.Round2(cartTotal), lines)
	if err == nil && !res.DiscountAmount.Equal(pricing.Round2(quotedDiscount)) {
		err = ErrChanged
	}
	if err != nil {
		obs.Inc(obs.OfferRedemptionsTotal, ReasonLabel(err))
		return repo.Offer{}, ineligible(err)
	}
	return o, nil
}

// Release returns one use of the offer after the order that claimed it was canceled.
func (s *Service) Release(ctx context.Context, q UsageQuerier, code string) error {
	code = normalizeCode(code)
	if code == "" {
		return nil
	}
	if err := q.ReleaseOffer(ctx, code); err != nil {
		return fmt.Errorf("release offer: %w", err)
	}
	return nil
}

// ExpireDue flips active offers past their expiry to expired and returns how many changed.
func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	if s == nil || s.Q == nil {
		return 0, errors.New("offer service not configured")
	}
	return s.Q.ExpireDueOffers(ctx, pgtype.Timestamptz{Time: s.now(), Valid: true})
}

// Create validates and stores a new offer.
func (s *Service) Create(ctx context.Context, in Input) (View, error) {
	if err := s.validateInput(in, true); err != nil {
		return View{}, err
	}
	ids, err := productUUIDs(in.Products)
	if err != nil {
		return View{}, err
	}
	o, err := s.Q.CreateOffer(ctx, repo.CreateOfferParams{
		Code:              normalizeCode(in.Code),
		Description:       strings.TrimSpace(in.Description),
		DiscountType:      string(in.DiscountType),
		Discount:          pricing.Round2(in.Discount),
		MinPurchaseAmount: pricing.Round2(in.MinPurchaseAmount),
		MaxDiscountAmount: nullDecimal(in.MaxDiscountAmount),
		ProductIds:        ids,
		Status:            string(StatusActive),
		ExpiresAt:         pgtype.Timestamptz{Time: in.Expiry, Valid: true},
		UsageLimit:        repo.Int4(in.UsageLimit),
	})
	if err != nil {
		if repo.IsUniqueViolation(err) {
			return View{}, common.Conflict("offer code already exists", err)
		}
		return View{}, fmt.Errorf("create offer: %w", err)
	}
	return toView(o), nil
}

// Get returns an offer by code.
func (s *Service) Get(ctx context.Context, code string) (View, error) {
	o, err := s.load(ctx, code)
	if err != nil {
		return View{}, err
	}
	return toView(o), nil
}

// List returns a page of offers, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string, page, perPage int) ([]View, int64, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch Status(status) {
	case "", StatusActive, StatusInactive, StatusExpired:
	default:
		return nil, 0, common.InvalidInput("unknown status filter", nil)
	}
	total, err := s.Q.CountOffers(ctx, status)
	if err != nil {
		return nil, 0, fmt.Errorf("count offers: %w", err)
	}
	rows, err := s.Q.ListOffers(ctx, repo.ListOffersParams{Status: status, Limit: int32(perPage), Offset: common.Offset(page, perPage)})
	if err != nil {
		return nil, 0, fmt.Errorf("list offers: %w", err)
	}
	out := make([]View, 0, len(rows))
	for _, o := range rows {
		out = append(out, toView(o))
	}
	return out, total, nil
}

// Update replaces the mutable fields of an offer. The code itself is immutable.
func (s *Service) Update(ctx context.Context, code string, in Input) (View, error) {
	in.Code = code
	if err := s.validateInput(in, false); err != nil {
		return View{}, err
	}
	ids, err := productUUIDs(in.Products)
	if err != nil {
		return View{}, err
	}
	o, err := s.Q.UpdateOffer(ctx, repo.UpdateOfferParams{
		Code:              normalizeCode(code),
		Description:       strings.TrimSpace(in.Description),
		DiscountType:      string(in.DiscountType),
		Discount:          pricing.Round2(in.Discount),
		MinPurchaseAmount: pricing.Round2(in.MinPurchaseAmount),
		MaxDiscountAmount: nullDecimal(in.MaxDiscountAmount),
		ProductIds:        ids,
		ExpiresAt:         pgtype.Timestamptz{Time: in.Expiry, Valid: true},
		UsageLimit:        repo.Int4(in.UsageLimit),
	})
	if err != nil {
		if repo.IsNotFound(err) {
			return View{}, common.NotFound("offer not found", err)
		}
		return View{}, fmt.Errorf("update offer: %w", err)
	}
	return toView(o), nil
}

// SetStatus switches an offer between active and inactive.
func (s *Service) SetStatus(ctx context.Context, code string, status Status) (View, error) {
	if status != StatusActive && status != StatusInactive {
		return View{}, common.InvalidInput("status must be active or inactive", nil)
	}
	current, err := s.load(ctx, code)
	if err != nil {
		return View{}, err
	}
	if status == StatusActive && s.now().After(current.ExpiresAt.Time) {
		return View{}, ineligible(ErrExpired)
	}
	o, err := s.Q.SetOfferStatus(ctx, current.Code, string(status))
	if err != nil {
		return View{}, fmt.Errorf("set offer status: %w", err)
	}
	return toView(o), nil
}

// Delete removes an offer that has never been redeemed.
func (s *Service) Delete(ctx context.Context, code string) error {
	current, err := s.load(ctx, code)
	if err != nil {
		return err
	}
	deleted, err := s.Q.DeleteUnusedOffer(ctx, current.Code)
	if err != nil {
		return fmt.Errorf("delete offer: %w", err)
	}
	if !deleted {
		return common.Conflict("offer has been used and can only be deactivated", nil)
	}
	return nil
}

func (s *Service) validateInput(in Input, creating bool) error {
	if err := common.ValidateStruct(in); err != nil {
		return err
	}
	fields := map[string]string{}
	if in.Discount.IsNegative() {
		fields["discount"] = "must not be negative"
	}
	if in.DiscountType == KindPercentage && in.Discount.GreaterThan(decimal.NewFromInt(100)) {
		fields["discount"] = "percentage must be between 0 and 100"
	}
	if in.MinPurchaseAmount.IsNegative() {
		fields["minPurchaseAmount"] = "must not be negative"
	}
	if in.MaxDiscountAmount != nil && in.MaxDiscountAmount.IsNegative() {
		fields["maxDiscountAmount"] = "must not be negative"
	}
	if creating && !in.Expiry.After(s.now()) {
		fields["expiry"] = "must be in the future"
	}
	if len(fields) > 0 {
		return common.ValidationFailed("invalid offer", map[string]any{"fields": fields}, ErrInvalidOffer)
	}
	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(pricing.Round2(*d))
}

func productUUIDs(ids []string) ([]pgtype.UUID, error) {
	out := make([]pgtype.UUID, 0, len(ids))
	for _, id := range ids {
		u, err := repo.ParseUUID(id)
		if err != nil {
			return nil, common.InvalidInput(fmt.Sprintf("invalid product id %q", id), err)
		}
		out = append(out, u)
	}
	return out, nil
}
