package speechgate

import "github.com/shopspring/decimal"

// Unit identifies how a billed quantity is measured before conversion.
type Unit string

const (
	UnitSeconds Unit = "seconds"
	UnitWord    Unit = "word"
	UnitImage   Unit = "image"
	UnitMinute  Unit = "minute"
)

// conversionRates maps each unit to its cost in base units (seconds
// equivalent). Decimal keeps the fractional word rate exact.
var conversionRates = map[Unit]decimal.Decimal{
	UnitSeconds: decimal.NewFromInt(1),
	UnitWord:    decimal.NewFromFloat(0.1),
	UnitImage:   decimal.NewFromInt(10),
	UnitMinute:  decimal.NewFromInt(60),
}

// Convert maps a raw billed amount to integer base units, truncating toward
// zero. Partial units are never charged here; the ledger's grace buffer
// absorbs them.
func Convert(amount float64, unit Unit) (int64, error) {
	rate, ok := conversionRates[unit]
	if !ok {
		return 0, &UnsupportedUnitError{Unit: unit}
	}
	return decimal.NewFromFloat(amount).Mul(rate).IntPart(), nil
}
