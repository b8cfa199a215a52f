package ledger

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// UnitScale is the number of decimal places in one ledger base unit: an
// amount of 1.5 in human units is 150_000_000 base units.
const UnitScale = 8

var maxBaseUnits = decimal.NewFromInt(math.MaxInt64)

// FromBaseUnits converts a ledger base-unit amount to a human-readable
// decimal. The conversion is exact.
func FromBaseUnits(v int64) decimal.Decimal {
	return decimal.New(v, -UnitScale)
}

// ToBaseUnits converts a human-readable decimal amount to ledger base units.
// Amounts with more than UnitScale fractional digits are rejected rather
// than rounded so that repeated conversions never drift.
func ToBaseUnits(d decimal.Decimal) (int64, error) {
	scaled := d.Shift(UnitScale)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("ledger: amount %s has more than %d decimal places", d, UnitScale)
	}
	if scaled.Abs().GreaterThan(maxBaseUnits) {
		return 0, fmt.Errorf("ledger: amount %s overflows base units", d)
	}
	return scaled.IntPart(), nil
}

// UtilizationRate computes approvedTotal/coverage as an exact decimal ratio
// rounded to six places. A zero coverage yields zero rather than dividing.
func UtilizationRate(approvedTotal, coverage int64) decimal.Decimal {
	if coverage == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(approvedTotal).DivRound(decimal.NewFromInt(coverage), 6)
}
