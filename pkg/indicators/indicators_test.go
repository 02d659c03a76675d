package indicators

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(values ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestCalculateEMA(t *testing.T) {
	_, err := CalculateEMA(series(1, 2), 3)
	assert.Error(t, err)

	_, err = CalculateEMA(series(1, 2), 0)
	assert.Error(t, err)

	ema, err := CalculateEMA(series(5, 5, 5, 5, 5), 3)
	require.NoError(t, err)
	require.NotEmpty(t, ema)
	for _, v := range ema {
		assert.True(t, v.Equal(decimal.NewFromInt(5)), "constant series EMA must stay constant, got %s", v)
	}
}

func TestLatestEMA(t *testing.T) {
	_, ok := LatestEMA(series(4), 3)
	assert.False(t, ok)

	last, ok := LatestEMA(series(4, 4, 4, 6, 8), 3)
	require.True(t, ok)
	assert.True(t, last.GreaterThan(decimal.NewFromInt(4)))
	assert.True(t, last.LessThan(decimal.NewFromInt(8)))
}
