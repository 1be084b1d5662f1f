package offer

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cs350892/market-server/internal/pricing"
)

// Rejection reasons. Their text is returned to clients as details.reason.
var (
	ErrInactive          = errors.New("inactive")
	ErrExpired           = errors.New("expired")
	ErrUsageLimitReached = errors.New("usage limit reached")
	ErrMinimumPurchase   = errors.New("minimum purchase not met")
	ErrNotApplicable     = errors.New("not applicable to cart")
	ErrChanged           = errors.New("offer changed since quote")
)

// ReasonLabel maps a rejection onto a fixed metric label.
func ReasonLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInactive):
		return "inactive"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrUsageLimitReached):
		return "usage_limit"
	case errors.Is(err, ErrMinimumPurchase):
		return "min_purchase"
	case errors.Is(err, ErrNotApplicable):
		return "not_applicable"
	case errors.Is(err, ErrChanged):
		return "changed"
	default:
		return "other"
	}
}

// Kind is the discount type.
type Kind string

const (
	KindPercentage Kind = "percentage"
	KindFixed      Kind = "fixed"
)

// Status of an offer.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusExpired  Status = "expired"
)

// Rule is the evaluation view of an offer.
type Rule struct {
	Code        string
	Kind        Kind
	Discount    decimal.Decimal
	MinPurchase decimal.Decimal
	MaxDiscount *decimal.Decimal
	ProductIDs  []string
	Status      Status
	ExpiresAt   time.Time
	UsageLimit  *int
	UsageCount  int
}

// Result is the outcome of a successful evaluation.
type Result struct {
	Code           string          `json:"code"`
	Valid          bool            `json:"valid"`
	EligibleBase   decimal.Decimal `json:"eligibleBase"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	FinalAmount    decimal.Decimal `json:"finalAmount"`
}

// Check runs the state checks that do not depend on cart contents. An offer past its expiry is
// reported as expired even if it was also switched off.
func (r Rule) Check(now time.Time) error {
	if r.Status == StatusExpired || now.After(r.ExpiresAt) {
		return ErrExpired
	}
	if r.Status != StatusActive {
		return ErrInactive
	}
	if r.UsageLimit != nil && r.UsageCount >= *r.UsageLimit {
		return ErrUsageLimitReached
	}
	return nil
}

// EligibleBase returns the part of the cart the discount applies to: the whole cart for
// unscoped offers, otherwise the sum of matching line subtotals.
func (r Rule) EligibleBase(cartTotal decimal.Decimal, lines []pricing.DiscountLine) (decimal.Decimal, error) {
	if len(r.ProductIDs) == 0 {
		return cartTotal, nil
	}
	scope := make(map[string]struct{}, len(r.ProductIDs))
	for _, id := range r.ProductIDs {
		scope[strings.ToLower(id)] = struct{}{}
	}
	base := decimal.Zero
	matched := false
	for _, l := range lines {
		if _, ok := scope[strings.ToLower(l.ProductID)]; ok {
			matched = true
			base = base.Add(l.Subtotal)
		}
	}
	if !matched {
		return decimal.Zero, ErrNotApplicable
	}
	return base, nil
}

// Evaluate applies the rule to a priced cart. It never mutates usage.
func (r Rule) Evaluate(now time.Time, cartTotal decimal.Decimal, lines []pricing.DiscountLine) (Result, error) {
	if err := r.Check(now); err != nil {
		return Result{}, err
	}
	if cartTotal.LessThan(r.MinPurchase) {
		return Result{}, ErrMinimumPurchase
	}
	base, err := r.EligibleBase(cartTotal, lines)
	if err != nil {
		return Result{}, err
	}
	discount := r.Compute(base)
	return Result{
		Code:           r.Code,
		Valid:          true,
		EligibleBase:   base,
		DiscountAmount: discount,
		FinalAmount:    pricing.Round2(cartTotal.Sub(discount)),
	}, nil
}

// Compute returns the rounded discount for the eligible base. The optional cap applies to both
// kinds and the discount never exceeds the base.
func (r Rule) Compute(base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	var discount decimal.Decimal
	switch r.Kind {
	case KindPercentage:
		discount = pricing.Percent(base, r.Discount)
	default:
		discount = r.Discount
	}
	if r.MaxDiscount != nil && discount.GreaterThan(*r.MaxDiscount) {
		discount = *r.MaxDiscount
	}
	if discount.GreaterThan(base) {
		discount = base
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return pricing.Round2(discount)
}
