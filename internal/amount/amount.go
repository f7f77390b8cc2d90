// Package amount converts between the integer amount representations of the
// source bank and the target budget app.
//
// Up reports amounts in base units (cents), YNAB expects milliunits. Both are
// signed integers, so the conversion is a pure multiplication and never touches
// floating point.
package amount

import (
	"github.com/shopspring/decimal"
)

// MilliunitRatio is the factor between cents and milliunits.
const MilliunitRatio = 10

// Codec converts base-unit amounts into target-unit amounts for one provider
// pairing. The ratio depends on the pairing and must not be hard-coded by
// callers.
type Codec struct {
	ratio int64
}

// NewCodec returns a Codec for the given base-unit to target-unit ratio.
// A non-positive ratio falls back to MilliunitRatio.
func NewCodec(ratio int64) Codec {
	if ratio <= 0 {
		ratio = MilliunitRatio
	}

	return Codec{ratio: ratio}
}

// Ratio returns the configured conversion ratio.
func (c Codec) Ratio() int64 {
	return c.ratio
}

// ToTarget converts a base-unit amount into the target representation.
// Negative amounts (debits) and zero convert like any other value.
func (c Codec) ToTarget(baseUnits int64) int64 {
	return baseUnits * c.ratio
}

// Validate recomputes the conversion and checks that targetUnits divides back
// into baseUnits.
//
// This is the pre-submission gate for every transaction: an amount that does
// not round-trip, because of a mismatched ratio or integer overflow, must
// never reach the target API.
func (c Codec) Validate(baseUnits, targetUnits int64) bool {
	if c.ToTarget(baseUnits) != targetUnits {
		return false
	}

	return targetUnits/c.ratio == baseUnits
}

// Display renders a base-unit amount as a currency value with two decimal
// places, e.g. -2550 -> "-25.50". Used for run summaries and the status API,
// never for conversion.
func Display(baseUnits int64) string {
	return decimal.New(baseUnits, -2).StringFixed(2)
}
