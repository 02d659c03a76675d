package domain

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DefaultMaxAPYPercent is the highest rate accepted by the test APY override.
var DefaultMaxAPYPercent = decimal.NewFromInt(100)

var hundred = decimal.NewFromInt(100)

// PercentToBasisPoints converts a percentage such as 5.25 into basis points (525),
// rounding half away from zero. The value must lie in [0, maxPercent].
func PercentToBasisPoints(pct, maxPercent decimal.Decimal) (*big.Int, error) {
	if pct.IsNegative() {
		return nil, errors.Wrapf(ErrInvalidRate, "apy %s%% is negative", pct.String())
	}
	if pct.GreaterThan(maxPercent) {
		return nil, errors.Wrapf(ErrInvalidRate, "apy %s%% exceeds %s%%", pct.String(), maxPercent.String())
	}

	return pct.Mul(hundred).Round(0).BigInt(), nil
}

// ParsePercent parses a user-typed percentage.
func ParsePercent(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrInvalidRate, "apy %q is not a number", s)
	}
	return d, nil
}

// FormatAPY renders basis points as a percentage with two fraction digits.
func FormatAPY(bps *big.Int) string {
	if bps == nil {
		return "0.00"
	}
	return decimal.NewFromBigInt(bps, -2).StringFixed(2)
}
