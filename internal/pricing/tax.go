package pricing

import "github.com/shopspring/decimal"

// RateAfterTax returns the tax-inclusive unit rate: base + base*taxPercent/100.
func RateAfterTax(base, taxPercent decimal.Decimal) decimal.Decimal {
	return Round2(base.Add(Percent(base, taxPercent)))
}

// ValueAfterTax values the stock on hand at the tax-inclusive rate.
func ValueAfterTax(rateAfterTax decimal.Decimal, stock int) decimal.Decimal {
	return Round2(rateAfterTax.Mul(decimal.NewFromInt(int64(stock))))
}
