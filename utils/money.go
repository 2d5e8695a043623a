package utils

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// currencyExponents lists minor-unit digits for currencies that differ from 2
var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"BHD": 3,
	"KWD": 3,
	"JOD": 3,
	"OMR": 3,
}

// CurrencyExponent returns the number of minor-unit digits for a currency
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[currency]; ok {
		return exp
	}
	return 2
}

// ToMajorUnits renders minor units as an exact decimal number for processor payloads
func ToMajorUnits(minor int64, currency string) json.Number {
	return json.Number(decimal.New(minor, -CurrencyExponent(currency)).StringFixed(CurrencyExponent(currency)))
}

// ParseMajorUnits converts a processor amount into minor units without going through float64.
// Amounts with more precision than the currency allows are rejected.
func ParseMajorUnits(value interface{}, currency string) (int64, error) {
	var raw string
	switch v := value.(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = v
	case nil:
		return 0, fmt.Errorf("amount is missing")
	default:
		raw = fmt.Sprintf("%v", v)
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	shifted := d.Shift(CurrencyExponent(currency))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more precision than %s allows", raw, currency)
	}
	return shifted.IntPart(), nil
}
