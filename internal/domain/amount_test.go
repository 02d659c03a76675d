package domain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		input string
		units string
	}{
		{name: "integer", input: "100", units: "100000000000000000000"},
		{name: "two decimals", input: "1.25", units: "1250000000000000000"},
		{name: "zero", input: "0", units: "0"},
		{name: "smallest unit", input: "0.000000000000000001", units: "1"},
		{name: "truncates beyond 18 digits", input: "0.0000000000000000019", units: "1"},
		{name: "truncates never rounds up", input: "1.9999999999999999999", units: "1999999999999999999"},
		{name: "surrounding spaces", input: "  2.5 ", units: "2500000000000000000"},
		{
			name:  "largest uint256",
			input: "115792089237316195423570985008687907853269984665640564039457.584007913129639935",
			units: "115792089237316195423570985008687907853269984665640564039457584007913129639935",
		},
		{name: "tiny exponent truncates to zero", input: "1e-5000000", units: "0"},
		{name: "zero with large exponent", input: "0e5000000", units: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAmount(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.units, a.String())
		})
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	inputs := []string{
		"", "   ", "abc", "1.2.3", "-1", "-0.01",
		"1e60",
		"115792089237316195423570985008687907853269984665640564039457.584007913129639936",
		"1e5000000",
		strings.Repeat("1", 200),
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := ParseAmount(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidAmount))
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.00", FormatAmount(nil, 2))
	assert.Equal(t, "0.00", Amount{}.Display(2))
	assert.Equal(t, "1000.00", MustParseAmount("1000").Display(2))
	assert.Equal(t, "0.01", MustParseAmount("0.005").Display(2))
	assert.Equal(t, "1.2346", MustParseAmount("1.23456").Display(4))
	assert.Equal(t, "3.00", FormatAmount(big.NewInt(3e18), -1))
}

func TestAmount_RoundTrip(t *testing.T) {
	inputs := []string{"0", "0.1", "0.01", "1", "1.5", "10.25", "999999.99", "50000", "123456789012345.67"}

	for _, s := range inputs {
		t.Run(s, func(t *testing.T) {
			a, err := ParseAmount(s)
			require.NoError(t, err)

			shown := a.Display(DefaultDisplayPrecision)
			assert.True(t, decimal.RequireFromString(s).Equal(decimal.RequireFromString(shown)),
				"display %q does not match input %q", shown, s)
		})
	}
}

func TestAmount_CompareAndCopy(t *testing.T) {
	small := MustParseAmount("1")
	large := MustParseAmount("2")

	assert.Equal(t, -1, small.Cmp(large))
	assert.Equal(t, 0, small.Cmp(NewAmount(small.BigInt())))
	assert.True(t, Amount{}.IsZero())
	assert.False(t, small.IsZero())

	raw := small.BigInt()
	raw.SetInt64(0)
	assert.False(t, small.IsZero(), "BigInt must return a copy")
}

func TestAmount_JSON(t *testing.T) {
	a := MustParseAmount("12.5")

	data, err := a.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"12500000000000000000"`, string(data))

	var decoded Amount
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.Equal(t, 0, a.Cmp(decoded))

	assert.Error(t, decoded.UnmarshalJSON([]byte(`"-5"`)))
}
