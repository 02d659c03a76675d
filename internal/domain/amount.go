package domain

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TokenDecimals is the fixed scale of the vault token on the ledger.
const TokenDecimals = 18

// DefaultDisplayPrecision fraction digits shown for token amounts.
const DefaultDisplayPrecision = 2

const (
	maxAmountInputLen = 128
	// 10^78 exceeds a uint256, so no non-zero value with a larger scale fits.
	maxAmountScale = 77
	maxAmountBits  = 256
)

// Amount is a non-negative token quantity in the smallest ledger unit.
// The zero value is a valid zero amount.
type Amount struct {
	units *big.Int
}

// NewAmount wraps a copy of units. Nil is treated as zero.
func NewAmount(units *big.Int) Amount {
	if units == nil {
		return Amount{}
	}
	return Amount{units: new(big.Int).Set(units)}
}

// AmountFromUnits builds an amount from raw ledger units.
func AmountFromUnits(units int64) Amount {
	return Amount{units: big.NewInt(units)}
}

// ParseAmount converts a human decimal string into ledger units (toLedgerUnits).
// Digits beyond the token precision are truncated, never rounded up.
// Values that do not fit a uint256 are rejected.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, errors.Wrap(ErrInvalidAmount, "amount is empty")
	}
	if len(s) > maxAmountInputLen {
		return Amount{}, errors.Wrapf(ErrInvalidAmount, "amount is longer than %d characters", maxAmountInputLen)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, errors.Wrapf(ErrInvalidAmount, "amount %q is not a number", s)
	}
	if d.IsNegative() {
		return Amount{}, errors.Wrapf(ErrInvalidAmount, "amount %q is negative", s)
	}

	if d.IsZero() {
		return Amount{units: new(big.Int)}, nil
	}

	scale := int64(d.Exponent()) + TokenDecimals
	switch {
	case scale > maxAmountScale:
		return Amount{}, errors.Wrapf(ErrInvalidAmount, "amount %q is too large", s)
	case scale < -maxAmountInputLen:
		// every digit is below the smallest ledger unit
		return Amount{units: new(big.Int)}, nil
	}

	units := d.Shift(TokenDecimals).Truncate(0).BigInt()
	if units.BitLen() > maxAmountBits {
		return Amount{}, errors.Wrapf(ErrInvalidAmount, "amount %q is too large", s)
	}

	return Amount{units: units}, nil
}

// MustParseAmount is ParseAmount for constants known to be valid.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Display renders the amount as a decimal token string (toDisplayString).
func (a Amount) Display(precision int) string {
	return FormatAmount(a.units, precision)
}

// FormatAmount renders raw ledger units with the given number of fraction digits.
// Nil renders as zero.
func FormatAmount(units *big.Int, precision int) string {
	if precision < 0 {
		precision = DefaultDisplayPrecision
	}
	if units == nil {
		return decimal.Zero.StringFixed(int32(precision))
	}

	return decimal.NewFromBigInt(units, -TokenDecimals).StringFixed(int32(precision))
}

// BigInt returns a copy of the raw units.
func (a Amount) BigInt() *big.Int {
	if a.units == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.units)
}

// Cmp compares two amounts like big.Int.Cmp.
func (a Amount) Cmp(b Amount) int {
	return a.BigInt().Cmp(b.BigInt())
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.units == nil || a.units.Sign() == 0
}

// String returns the raw units in base 10.
func (a Amount) String() string {
	return a.BigInt().String()
}

// MarshalJSON encodes the raw units as a decimal string to keep full precision.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes raw units from a decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "decode amount")
	}
	if s == "" {
		*a = Amount{}
		return nil
	}

	units, ok := new(big.Int).SetString(s, 10)
	if !ok || units.Sign() < 0 || units.BitLen() > maxAmountBits {
		return errors.Wrapf(ErrInvalidAmount, "raw amount %q", s)
	}
	a.units = units

	return nil
}
