package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cs350892/market-server/internal/common"
)

type stubProducts map[string]Product

func (s stubProducts) ProductsByID(_ context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		if p, ok := s[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type stubDiscounter struct {
	discount decimal.Decimal
	err      error
	gotTotal decimal.Decimal
	gotLines []DiscountLine
}

func (s *stubDiscounter) Evaluate(_ context.Context, code string, total decimal.Decimal, lines []DiscountLine) (Discount, error) {
	s.gotTotal = total
	s.gotLines = lines
	if s.err != nil {
		return Discount{}, s.err
	}
	return Discount{Code: code, Amount: s.discount, EligibleBase: total}, nil
}

func catalog() stubProducts {
	return stubProducts{
		"rice": {
			ID: "rice", Name: "Basmati Rice", BaseRate: dec("50"), Tiers: volumeTable(), Stock: 1000, Active: true,
			Packs: []PackSize{{ID: "sack", Name: "Sack of 25", Multiplier: 25}},
		},
		"oil":  {ID: "oil", Name: "Mustard Oil", BaseRate: dec("120"), Stock: 10, Active: true},
		"gone": {ID: "gone", Name: "Retired", BaseRate: dec("1"), Stock: 10},
	}
}

func TestQuoteVolumeScenario(t *testing.T) {
	a := &Assembler{Products: catalog()}
	q, err := a.Quote(context.Background(), []LineRequest{{ProductID: "rice", Quantity: 150}}, "")
	require.NoError(t, err)
	require.Len(t, q.LineItems, 1)
	line := q.LineItems[0]
	require.Equal(t, "101+", line.Tier)
	require.Equal(t, 150, line.TotalUnits)
	require.True(t, line.PricePerUnit.Equal(dec("45")))
	require.True(t, line.Subtotal.Equal(dec("6750")))
	require.True(t, q.CartTotal.Equal(dec("6750")))
	require.True(t, q.PayableAmount.Equal(dec("6750")))
	require.True(t, q.DiscountAmount.IsZero())
}

func TestQuoteAppliesPackMultiplierBeforeTierLookup(t *testing.T) {
	a := &Assembler{Products: catalog()}
	q, err := a.Quote(context.Background(), []LineRequest{{ProductID: "rice", Quantity: 2, PackSizeID: "sack"}}, "")
	require.NoError(t, err)
	line := q.LineItems[0]
	require.Equal(t, 50, line.TotalUnits)
	require.Equal(t, "21-100", line.Tier)
	require.True(t, line.Subtotal.Equal(dec("2375")))
}

func TestQuoteUsesBaseRateWithoutTiers(t *testing.T) {
	a := &Assembler{Products: catalog()}
	q, err := a.Quote(context.Background(), []LineRequest{{ProductID: "oil", Quantity: 3}}, "")
	require.NoError(t, err)
	require.True(t, q.CartTotal.Equal(dec("360")))
}

func TestQuoteSumsStockAcrossLines(t *testing.T) {
	a := &Assembler{Products: catalog()}
	_, err := a.Quote(context.Background(), []LineRequest{
		{ProductID: "oil", Quantity: 6},
		{ProductID: "oil", Quantity: 6},
	}, "")
	require.ErrorIs(t, err, ErrInsufficientStock)
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, common.CodeInsufficientStock, appErr.Code)
	details := appErr.Details.(map[string]any)
	require.Equal(t, []Shortage{{ProductID: "oil", Requested: 12, Available: 10}}, details["items"])
}

func TestQuoteRejectsBadInput(t *testing.T) {
	a := &Assembler{Products: catalog(), MaxLines: 2}
	ctx := context.Background()

	_, err := a.Quote(ctx, nil, "")
	require.Error(t, err)

	_, err = a.Quote(ctx, []LineRequest{{ProductID: "rice", Quantity: 0}}, "")
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = a.Quote(ctx, []LineRequest{{ProductID: "rice", Quantity: 1, PackSizeID: "crate"}}, "")
	require.ErrorIs(t, err, ErrUnknownPack)

	_, err = a.Quote(ctx, []LineRequest{{ProductID: "missing", Quantity: 1}}, "")
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, common.CodeNotFound, appErr.Code)

	_, err = a.Quote(ctx, []LineRequest{{ProductID: "gone", Quantity: 1}}, "")
	require.ErrorIs(t, err, ErrProductUnavailable)

	_, err = a.Quote(ctx, []LineRequest{{ProductID: "rice", Quantity: 1}, {ProductID: "oil", Quantity: 1}, {ProductID: "rice", Quantity: 1}}, "")
	require.Error(t, err)
}

func TestPriceLineRejectsUnitOverflow(t *testing.T) {
	p := Product{
		ID: "tri", Name: "Three pack", BaseRate: dec("50"), Stock: 10, Active: true,
		Packs: []PackSize{{ID: "tri", Name: "Pack of 3", Multiplier: 3}},
	}

	// 6148914691236517206 * 3 wraps to 2 in int64.
	_, err := PriceLine(p, 6148914691236517206, "tri", FallbackError)
	require.ErrorIs(t, err, ErrQuantityTooLarge)

	_, err = PriceLine(p, MaxUnits/3+1, "tri", FallbackError)
	require.ErrorIs(t, err, ErrQuantityTooLarge)

	line, err := PriceLine(p, MaxUnits/3, "tri", FallbackError)
	require.NoError(t, err)
	require.Equal(t, line.Quantity*3, line.TotalUnits)
}

func TestQuoteRejectsSummedUnitsAboveLimit(t *testing.T) {
	products := stubProducts{"bulk": {ID: "bulk", Name: "Bulk", BaseRate: dec("1"), Stock: 3 * MaxUnits, Active: true}}
	a := &Assembler{Products: products}
	_, err := a.Quote(context.Background(), []LineRequest{
		{ProductID: "bulk", Quantity: MaxUnits},
		{ProductID: "bulk", Quantity: 1},
	}, "")
	require.ErrorIs(t, err, ErrQuantityTooLarge)
}

func TestLineRequestValidationBoundsQuantity(t *testing.T) {
	err := common.ValidateStruct(LineRequest{ProductID: "6f1c2a1e-1d2b-4c3d-9e8f-0a1b2c3d4e5f", Quantity: MaxUnits + 1})
	require.Error(t, err)
	require.NoError(t, common.ValidateStruct(LineRequest{ProductID: "6f1c2a1e-1d2b-4c3d-9e8f-0a1b2c3d4e5f", Quantity: MaxUnits}))
}

func TestQuoteAppliesOfferDiscount(t *testing.T) {
	offers := &stubDiscounter{discount: dec("500")}
	a := &Assembler{Products: catalog(), Offers: offers}
	q, err := a.Quote(context.Background(), []LineRequest{
		{ProductID: "rice", Quantity: 200},
		{ProductID: "oil", Quantity: 1},
	}, "SAVE10")
	require.NoError(t, err)
	require.True(t, q.CartTotal.Equal(dec("9120")))
	require.True(t, offers.gotTotal.Equal(dec("9120")))
	require.Len(t, offers.gotLines, 2)
	require.Equal(t, "SAVE10", q.OfferCode)
	require.True(t, q.DiscountAmount.Equal(dec("500")))
	require.True(t, q.PayableAmount.Equal(dec("8620")))
}

func TestQuotePropagatesOfferRejection(t *testing.T) {
	rejection := common.OfferIneligible("expired", errors.New("expired"))
	a := &Assembler{Products: catalog(), Offers: &stubDiscounter{err: rejection}}
	_, err := a.Quote(context.Background(), []LineRequest{{ProductID: "oil", Quantity: 1}}, "OLD")
	require.ErrorIs(t, err, rejection)
}
