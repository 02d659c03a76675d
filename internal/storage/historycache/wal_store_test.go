package historycache

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/autoyield/internal/domain"
)

func TestWALStore_LoadReturnsNewest(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, store.Close())
	}()

	vault := common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
	other := common.HexToAddress("0x01")

	_, ok, err := store.Load(31337, vault)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(31337, vault, []domain.RebalanceEvent{{ID: "old"}}))
	require.NoError(t, store.Save(31337, vault, []domain.RebalanceEvent{{ID: "new-1"}, {ID: "new-0"}}))
	require.NoError(t, store.Save(31337, other, []domain.RebalanceEvent{{ID: "other"}}))

	events, ok, err := store.Load(31337, vault)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, events, 2)
	assert.Equal(t, "new-1", events[0].ID)

	_, ok, err = store.Load(1, vault)
	require.NoError(t, err)
	assert.False(t, ok)
}
