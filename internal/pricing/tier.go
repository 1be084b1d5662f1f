package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/cs350892/market-server/internal/common"
)

var (
	// ErrNoTier is wrapped when a quantity falls outside every tier and the policy forbids fallback.
	ErrNoTier = errors.New("no pricing tier covers quantity")
	// ErrInvalidTiers is wrapped by Validate and NormalizeTiers.
	ErrInvalidTiers = errors.New("invalid tier table")
	// ErrInvalidQuantity is wrapped when a requested quantity is below one.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrQuantityTooLarge is wrapped when a line or product exceeds MaxUnits.
	ErrQuantityTooLarge = errors.New("quantity too large")
)

// MaxUnits caps the base units of a single line and the summed units of one product in a cart.
// Unit counts are persisted as int4.
const MaxUnits = 1_000_000

// FallbackPolicy decides what Resolve does when no tier contains the quantity.
type FallbackPolicy int

const (
	// FallbackError rejects uncovered quantities.
	FallbackError FallbackPolicy = iota
	// FallbackFirst prices uncovered quantities with the first tier in table order.
	FallbackFirst
)

// ParseFallback maps configuration values onto a policy. Unknown values fall back to FallbackError.
func ParseFallback(value string) FallbackPolicy {
	if value == "first" {
		return FallbackFirst
	}
	return FallbackError
}

// Tier prices every unit of an order at UnitPrice when the total unit count lies in
// [MinQuantity, MaxQuantity]. A nil MaxQuantity is unbounded.
type Tier struct {
	Label       string          `json:"range"`
	MinQuantity int             `json:"minQuantity"`
	MaxQuantity *int            `json:"maxQuantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// Contains reports whether units falls inside the tier range.
func (t Tier) Contains(units int) bool {
	if units < t.MinQuantity {
		return false
	}
	return t.MaxQuantity == nil || units <= *t.MaxQuantity
}

// Table is the ordered tier list attached to a product.
type Table []Tier

// ImplicitTable prices every quantity at the base rate; used when a product has no tiers.
func ImplicitTable(base decimal.Decimal) Table {
	return Table{{Label: "1+", MinQuantity: 1, UnitPrice: base}}
}

// Effective returns the table itself, or the implicit single tier when the table is empty.
func (t Table) Effective(base decimal.Decimal) Table {
	if len(t) == 0 {
		return ImplicitTable(base)
	}
	return t
}

// Validate checks bounds, prices and that ranges are disjoint with at most one unbounded tier,
// which must be the highest.
func (t Table) Validate() error {
	fields := map[string]string{}
	type indexed struct {
		Tier
		idx int
	}
	ordered := make([]indexed, 0, len(t))
	for i, tier := range t {
		key := fmt.Sprintf("tiers[%d]", i)
		switch {
		case tier.MinQuantity < 1:
			fields[key] = "minQuantity must be at least 1"
		case tier.MaxQuantity != nil && *tier.MaxQuantity < tier.MinQuantity:
			fields[key] = "maxQuantity must not be below minQuantity"
		case tier.UnitPrice.IsNegative():
			fields[key] = "unitPrice must not be negative"
		}
		ordered = append(ordered, indexed{Tier: tier, idx: i})
	}
	if len(fields) == 0 {
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].MinQuantity < ordered[j].MinQuantity })
		for i := 1; i < len(ordered); i++ {
			prev, cur := ordered[i-1], ordered[i]
			key := fmt.Sprintf("tiers[%d]", cur.idx)
			if prev.MaxQuantity == nil {
				fields[fmt.Sprintf("tiers[%d]", prev.idx)] = "only the highest tier may be unbounded"
				continue
			}
			if cur.MinQuantity <= *prev.MaxQuantity {
				fields[key] = fmt.Sprintf("overlaps tier %q", prev.Label)
			}
		}
	}
	if len(fields) > 0 {
		return common.ValidationFailed("invalid pricing tiers", map[string]any{"fields": fields}, ErrInvalidTiers)
	}
	return nil
}

// Resolve picks the tier containing units. When several match, the highest MinQuantity wins.
func (t Table) Resolve(units int, policy FallbackPolicy) (Tier, error) {
	if units < 1 {
		return Tier{}, common.InvalidInput(ErrInvalidQuantity.Error(), ErrInvalidQuantity)
	}
	best := -1
	for i, tier := range t {
		if !tier.Contains(units) {
			continue
		}
		if best < 0 || tier.MinQuantity > t[best].MinQuantity {
			best = i
		}
	}
	if best >= 0 {
		return t[best], nil
	}
	if policy == FallbackFirst && len(t) > 0 {
		return t[0], nil
	}
	msg := fmt.Sprintf("no pricing tier covers %d units", units)
	return Tier{}, common.InvalidInput(msg, fmt.Errorf("%w: %d", ErrNoTier, units))
}

// LegacyTier accepts both stored tier shapes: a flat unit price or a percentage off the base rate.
type LegacyTier struct {
	Range              string           `json:"range"`
	MinQuantity        int              `json:"minQuantity"`
	MaxQuantity        *int             `json:"maxQuantity"`
	UnitPrice          *decimal.Decimal `json:"unitPrice,omitempty"`
	DiscountPercentage *decimal.Decimal `json:"discountPercentage,omitempty"`
}

// NormalizeTiers converts legacy tiers into a validated Table of resolved unit prices.
func NormalizeTiers(base decimal.Decimal, in []LegacyTier) (Table, error) {
	out := make(Table, 0, len(in))
	fields := map[string]string{}
	for i, lt := range in {
		key := fmt.Sprintf("tiers[%d]", i)
		var max *int
		if lt.MaxQuantity != nil && *lt.MaxQuantity > 0 {
			v := *lt.MaxQuantity
			max = &v
		}
		var price decimal.Decimal
		switch {
		case lt.UnitPrice != nil && lt.DiscountPercentage != nil:
			fields[key] = "set either unitPrice or discountPercentage, not both"
			continue
		case lt.UnitPrice != nil:
			price = Round2(*lt.UnitPrice)
		case lt.DiscountPercentage != nil:
			pct := *lt.DiscountPercentage
			if pct.IsNegative() || pct.GreaterThan(hundred) {
				fields[key] = "discountPercentage must be between 0 and 100"
				continue
			}
			price = Round2(base.Sub(Percent(base, pct)))
		default:
			fields[key] = "unitPrice or discountPercentage is required"
			continue
		}
		label := lt.Range
		if label == "" {
			label = rangeLabel(lt.MinQuantity, max)
		}
		out = append(out, Tier{Label: label, MinQuantity: lt.MinQuantity, MaxQuantity: max, UnitPrice: price})
	}
	if len(fields) > 0 {
		return nil, common.ValidationFailed("invalid pricing tiers", map[string]any{"fields": fields}, ErrInvalidTiers)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func rangeLabel(min int, max *int) string {
	if max == nil {
		return fmt.Sprintf("%d+", min)
	}
	return fmt.Sprintf("%d-%d", min, *max)
}
