package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSurface(t *testing.T) {
	s, err := ParseSurface(" Transfer ")
	require.NoError(t, err)
	assert.Equal(t, SurfaceTransfer, s)

	s, err = ParseSurface("controls")
	require.NoError(t, err)
	assert.Equal(t, SurfaceControls, s)

	_, err = ParseSurface("vault")
	assert.True(t, errors.Is(err, ErrUnknownSurface))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(errors.New("connection refused")))
	assert.True(t, Retryable(errors.Wrap(errors.New("i/o timeout"), "read token balance")))

	assert.False(t, Retryable(errors.Wrap(ErrContractsUnavailable, "31337")))
	assert.False(t, Retryable(errors.Wrap(ErrInvalidAmount, "amount is empty")))
	assert.False(t, Retryable(&RevertError{Reason: "paused"}))
}
