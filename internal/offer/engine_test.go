package offer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cs350892/market-server/internal/pricing"
)

var evalNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseRule() Rule {
	return Rule{
		Code:        "SAVE10",
		Kind:        KindPercentage,
		Discount:    d("10"),
		MinPurchase: decimal.Zero,
		Status:      StatusActive,
		ExpiresAt:   evalNow.Add(24 * time.Hour),
	}
}

func TestPercentageDiscountIsCapped(t *testing.T) {
	rule := baseRule()
	ceiling := d("500")
	rule.MaxDiscount = &ceiling

	res, err := rule.Evaluate(evalNow, d("10000"), nil)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.True(t, res.DiscountAmount.Equal(d("500")))
	require.True(t, res.FinalAmount.Equal(d("9500")))
}

func TestExpiredAlwaysWins(t *testing.T) {
	rule := baseRule()
	rule.ExpiresAt = evalNow.Add(-time.Second)
	rule.Status = StatusInactive
	limit := 0
	rule.UsageLimit = &limit
	rule.MinPurchase = d("1000000")

	_, err := rule.Evaluate(evalNow, d("10"), nil)
	require.ErrorIs(t, err, ErrExpired)

	rule = baseRule()
	rule.Status = StatusExpired
	_, err = rule.Evaluate(evalNow, d("10"), nil)
	require.ErrorIs(t, err, ErrExpired)
}

func TestExpiryBoundaryIsInclusive(t *testing.T) {
	rule := baseRule()
	rule.ExpiresAt = evalNow
	_, err := rule.Evaluate(evalNow, d("100"), nil)
	require.NoError(t, err)
}

func TestRejectionReasonsInOrder(t *testing.T) {
	inactive := baseRule()
	inactive.Status = StatusInactive
	_, err := inactive.Evaluate(evalNow, d("100"), nil)
	require.ErrorIs(t, err, ErrInactive)

	exhausted := baseRule()
	limit := 3
	exhausted.UsageLimit = &limit
	exhausted.UsageCount = 3
	_, err = exhausted.Evaluate(evalNow, d("100"), nil)
	require.ErrorIs(t, err, ErrUsageLimitReached)

	exhausted.UsageCount = 2
	_, err = exhausted.Evaluate(evalNow, d("100"), nil)
	require.NoError(t, err)

	minimum := baseRule()
	minimum.MinPurchase = d("500")
	_, err = minimum.Evaluate(evalNow, d("499.99"), nil)
	require.ErrorIs(t, err, ErrMinimumPurchase)
	_, err = minimum.Evaluate(evalNow, d("500"), nil)
	require.NoError(t, err)
}

func TestScopedOfferUsesEligibleSubset(t *testing.T) {
	rule := baseRule()
	rule.ProductIDs = []string{"A0000000-0000-0000-0000-000000000001"}
	lines := []pricing.DiscountLine{
		{ProductID: "a0000000-0000-0000-0000-000000000001", Subtotal: d("300")},
		{ProductID: "b0000000-0000-0000-0000-000000000002", Subtotal: d("700")},
	}
	res, err := rule.Evaluate(evalNow, d("1000"), lines)
	require.NoError(t, err)
	require.True(t, res.EligibleBase.Equal(d("300")))
	require.True(t, res.DiscountAmount.Equal(d("30")))
	require.True(t, res.FinalAmount.Equal(d("970")))

	_, err = rule.Evaluate(evalNow, d("700"), lines[1:])
	require.ErrorIs(t, err, ErrNotApplicable)
}

func TestFixedDiscountNeverExceedsBase(t *testing.T) {
	rule := baseRule()
	rule.Kind = KindFixed
	rule.Discount = d("250")

	res, err := rule.Evaluate(evalNow, d("1000"), nil)
	require.NoError(t, err)
	require.True(t, res.DiscountAmount.Equal(d("250")))

	res, err = rule.Evaluate(evalNow, d("100"), nil)
	require.NoError(t, err)
	require.True(t, res.DiscountAmount.Equal(d("100")))
	require.True(t, res.FinalAmount.IsZero())
}

func TestDiscountRoundsHalfUp(t *testing.T) {
	rule := baseRule()
	rule.Discount = d("12.5")
	res, err := rule.Evaluate(evalNow, d("10.04"), nil)
	require.NoError(t, err)
	require.Equal(t, "1.26", res.DiscountAmount.StringFixed(2))
	require.Equal(t, "8.78", res.FinalAmount.StringFixed(2))
}
