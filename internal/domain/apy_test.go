package domain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentToBasisPoints(t *testing.T) {
	tests := []struct {
		pct string
		bps int64
	}{
		{"5.25", 525},
		{"0", 0},
		{"4.2", 420},
		{"3.125", 313},
		{"100", 10000},
		{"0.004", 0},
	}

	for _, tt := range tests {
		t.Run(tt.pct, func(t *testing.T) {
			bps, err := PercentToBasisPoints(decimal.RequireFromString(tt.pct), DefaultMaxAPYPercent)
			require.NoError(t, err)
			assert.Equal(t, tt.bps, bps.Int64())
		})
	}
}

func TestPercentToBasisPoints_OutOfRange(t *testing.T) {
	for _, pct := range []string{"-1", "-0.01", "100.01", "5000"} {
		t.Run(pct, func(t *testing.T) {
			_, err := PercentToBasisPoints(decimal.RequireFromString(pct), DefaultMaxAPYPercent)
			assert.True(t, errors.Is(err, ErrInvalidRate))
		})
	}
}

func TestFormatAPY(t *testing.T) {
	assert.Equal(t, "5.80", FormatAPY(big.NewInt(580)))
	assert.Equal(t, "0.00", FormatAPY(nil))
}

func TestParseVenue(t *testing.T) {
	v, err := ParseVenue(" Aave ")
	require.NoError(t, err)
	assert.Equal(t, VenueAave, v)

	_, err = ParseVenue("maker")
	assert.True(t, errors.Is(err, ErrUnknownVenue))
}

func TestVenueTable_Resolve(t *testing.T) {
	contracts := &Contracts{
		Token:    common.HexToAddress("0x01"),
		Aave:     common.HexToAddress("0x02"),
		Compound: common.HexToAddress("0x03"),
		Vault:    common.HexToAddress("0x04"),
	}
	table := NewVenueTable(contracts)

	aave := table.Resolve(contracts.Aave)
	assert.True(t, aave.Known)
	assert.Equal(t, "Aave", aave.Label())

	other := table.Resolve(common.HexToAddress("0x99"))
	assert.False(t, other.Known)
	assert.Equal(t, UnknownVenueName, other.Label())

	empty := NewVenueTable(nil)
	assert.False(t, empty.Resolve(common.Address{}).Known)
}

func TestSortMostRecentFirst(t *testing.T) {
	events := []RebalanceEvent{
		{ID: "a", BlockNumber: 1, LogIndex: 0},
		{ID: "b", BlockNumber: 2, LogIndex: 0},
		{ID: "c", BlockNumber: 2, LogIndex: 3},
	}

	SortMostRecentFirst(events)

	assert.Equal(t, []string{"c", "b", "a"}, []string{events[0].ID, events[1].ID, events[2].ID})
}
