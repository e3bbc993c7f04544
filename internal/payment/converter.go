package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Converter converts order amounts between currencies using a fixed
// bilateral rate table. Fixed rates trade real-time accuracy for
// determinism; the table can be overridden from the routing-rules
// file.
type Converter struct {
	rates map[string]decimal.Decimal
}

// defaultRates holds the built-in bilateral rates.
var defaultRates = map[string]decimal.Decimal{
	"USD:CNY": decimal.RequireFromString("7.2"),
}

// NewConverter creates a converter. overrides replace or extend the
// built-in table and are keyed "FROM:TO".
func NewConverter(overrides map[string]decimal.Decimal) *Converter {
	rates := make(map[string]decimal.Decimal, len(defaultRates)+len(overrides))
	for pair, rate := range defaultRates {
		rates[pair] = rate
	}
	for pair, rate := range overrides {
		rates[pair] = rate
	}
	return &Converter{rates: rates}
}

// Convert converts amount from one currency to another, rounding to
// two decimal places. Reverse rates are derived when only the forward
// direction is configured.
func (c *Converter) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}

	if rate, ok := c.rates[from+":"+to]; ok {
		return amount.Mul(rate).Round(2), nil
	}
	if rate, ok := c.rates[to+":"+from]; ok {
		return amount.Div(rate).Round(2), nil
	}
	return decimal.Decimal{}, fmt.Errorf("no exchange rate configured for %s -> %s", from, to)
}
