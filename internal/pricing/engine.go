package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cs350892/market-server/internal/common"
)

// ErrProductUnavailable is wrapped when a line references a missing or inactive product.
var ErrProductUnavailable = errors.New("product unavailable")

// ErrInsufficientStock is wrapped when requested units exceed stock for any product.
var ErrInsufficientStock = errors.New("insufficient stock")

// Product is the slice of a catalog product the engine needs.
type Product struct {
	ID       string
	Name     string
	BaseRate decimal.Decimal
	Tiers    Table
	Packs    []PackSize
	Stock    int
	Active   bool
}

// ProductSource loads products by id. Missing ids are simply absent from the result.
type ProductSource interface {
	ProductsByID(ctx context.Context, ids []string) (map[string]Product, error)
}

// DiscountLine is what an offer sees of a priced line.
type DiscountLine struct {
	ProductID string
	Subtotal  decimal.Decimal
}

// Discount is the outcome of a successful offer evaluation.
type Discount struct {
	Code         string
	Amount       decimal.Decimal
	EligibleBase decimal.Decimal
}

// Discounter evaluates an offer code against a priced cart without mutating usage.
type Discounter interface {
	Evaluate(ctx context.Context, code string, cartTotal decimal.Decimal, lines []DiscountLine) (Discount, error)
}

// LineRequest is one requested cart line.
type LineRequest struct {
	ProductID  string `json:"productId" validate:"required,uuid"`
	Quantity   int    `json:"quantity" validate:"gte=1,lte=1000000"`
	PackSizeID string `json:"packSizeId"`
}

// QuoteLine is a priced line. Its values are copied onto the order and never recomputed.
type QuoteLine struct {
	ProductID    string          `json:"productId"`
	Name         string          `json:"name"`
	PackSizeID   string          `json:"packSizeId"`
	PackName     string          `json:"packName"`
	Quantity     int             `json:"quantity"`
	TotalUnits   int             `json:"totalUnits"`
	Tier         string          `json:"tier"`
	PricePerUnit decimal.Decimal `json:"pricePerUnit"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// Quote is the priced cart.
type Quote struct {
	LineItems      []QuoteLine     `json:"lineItems"`
	CartTotal      decimal.Decimal `json:"cartTotal"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	PayableAmount  decimal.Decimal `json:"payableAmount"`
	OfferCode      string          `json:"offerCode,omitempty"`
}

// Shortage describes one product that cannot cover the requested units.
type Shortage struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// PriceLine resolves pack, tier and subtotal for a single line of a product.
func PriceLine(p Product, quantity int, packID string, policy FallbackPolicy) (QuoteLine, error) {
	if quantity < 1 {
		return QuoteLine{}, common.InvalidInput(ErrInvalidQuantity.Error(), ErrInvalidQuantity)
	}
	pack, err := ResolvePack(p.Packs, packID)
	if err != nil {
		return QuoteLine{}, err
	}
	if pack.Multiplier < 1 || quantity > MaxUnits/pack.Multiplier {
		return QuoteLine{}, tooLarge()
	}
	units := quantity * pack.Multiplier
	tier, err := p.Tiers.Effective(p.BaseRate).Resolve(units, policy)
	if err != nil {
		return QuoteLine{}, err
	}
	price := Round2(tier.UnitPrice)
	return QuoteLine{
		ProductID:    p.ID,
		Name:         p.Name,
		PackSizeID:   pack.ID,
		PackName:     pack.Name,
		Quantity:     quantity,
		TotalUnits:   units,
		Tier:         tier.Label,
		PricePerUnit: price,
		Subtotal:     Round2(price.Mul(decimal.NewFromInt(int64(units)))),
	}, nil
}

func tooLarge() error {
	return common.InvalidInput(fmt.Sprintf("at most %d units per product are allowed", MaxUnits), ErrQuantityTooLarge)
}

// Assembler prices a whole cart and applies an optional offer.
type Assembler struct {
	Products ProductSource
	Offers   Discounter
	Fallback FallbackPolicy
	MaxLines int
}

// Quote prices the requested lines. Stock is checked against the summed units per product so
// that two lines of the same product cannot each pass on their own.
func (a *Assembler) Quote(ctx context.Context, lines []LineRequest, offerCode string) (Quote, error) {
	if a == nil || a.Products == nil {
		return Quote{}, errors.New("pricing: assembler not configured")
	}
	if len(lines) == 0 {
		return Quote{}, common.InvalidInput("at least one line item is required", nil)
	}
	if a.MaxLines > 0 && len(lines) > a.MaxLines {
		return Quote{}, common.InvalidInput(fmt.Sprintf("at most %d line items are allowed", a.MaxLines), nil)
	}

	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 {
			return Quote{}, common.InvalidInput(ErrInvalidQuantity.Error(), ErrInvalidQuantity)
		}
		id := strings.TrimSpace(l.ProductID)
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	products, err := a.Products.ProductsByID(ctx, ids)
	if err != nil {
		return Quote{}, fmt.Errorf("load products: %w", err)
	}

	quote := Quote{LineItems: make([]QuoteLine, 0, len(lines)), CartTotal: decimal.Zero}
	units := make(map[string]int, len(ids))
	for _, l := range lines {
		id := strings.TrimSpace(l.ProductID)
		p, ok := products[id]
		if !ok {
			return Quote{}, common.NotFound(fmt.Sprintf("product %s not found", id), ErrProductUnavailable)
		}
		if !p.Active {
			return Quote{}, common.InvalidInput(fmt.Sprintf("product %s is not available", id), ErrProductUnavailable)
		}
		line, err := PriceLine(p, l.Quantity, l.PackSizeID, a.Fallback)
		if err != nil {
			return Quote{}, err
		}
		units[id] += line.TotalUnits
		if units[id] > MaxUnits {
			return Quote{}, tooLarge()
		}
		quote.LineItems = append(quote.LineItems, line)
		quote.CartTotal = quote.CartTotal.Add(line.Subtotal)
	}

	var shortages []Shortage
	for _, id := range ids {
		if need, have := units[id], products[id].Stock; need > have {
			shortages = append(shortages, Shortage{ProductID: id, Requested: need, Available: have})
		}
	}
	if len(shortages) > 0 {
		return Quote{}, common.InsufficientStock("insufficient stock", map[string]any{"items": shortages}, ErrInsufficientStock)
	}

	quote.CartTotal = Round2(quote.CartTotal)
	quote.DiscountAmount = decimal.Zero
	quote.PayableAmount = quote.CartTotal

	code := strings.TrimSpace(offerCode)
	if code == "" {
		return quote, nil
	}
	if a.Offers == nil {
		return Quote{}, errors.New("pricing: offers not configured")
	}
	dl := make([]DiscountLine, len(quote.LineItems))
	for i, line := range quote.LineItems {
		dl[i] = DiscountLine{ProductID: line.ProductID, Subtotal: line.Subtotal}
	}
	discount, err := a.Offers.Evaluate(ctx, code, quote.CartTotal, dl)
	if err != nil {
		return Quote{}, err
	}
	quote.OfferCode = discount.Code
	quote.DiscountAmount = Round2(discount.Amount)
	quote.PayableAmount = Round2(quote.CartTotal.Sub(quote.DiscountAmount))
	return quote, nil
}
