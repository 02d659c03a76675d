package txjournal

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/autoyield/internal/domain"
)

func TestWALStore_LatestAndUnfinished(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, store.Close())
	}()

	now := time.Now().UTC()
	approve := domain.TxHandle{ID: "a", Surface: domain.SurfaceTransfer, Kind: domain.TxApprove, State: domain.TxSubmitted, Hash: common.HexToHash("0x1"), UpdatedAt: now}
	require.NoError(t, store.Save(approve))
	approve.State = domain.TxConfirmed
	require.NoError(t, store.Save(approve))

	deposit := domain.TxHandle{ID: "b", Surface: domain.SurfaceTransfer, Kind: domain.TxDeposit, State: domain.TxPendingConfirmation, Hash: common.HexToHash("0x2"), UpdatedAt: now}
	require.NoError(t, store.Save(deposit))

	rebalance := domain.TxHandle{ID: "c", Surface: domain.SurfaceControls, Kind: domain.TxRebalance, State: domain.TxSubmitted, UpdatedAt: now}
	require.NoError(t, store.Save(rebalance))

	latest, err := store.Latest()
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, "a", latest[0].ID)
	assert.Equal(t, domain.TxConfirmed, latest[0].State)

	unfinished, err := store.Unfinished(domain.SurfaceTransfer)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, "b", unfinished[0].ID)
	assert.Equal(t, common.HexToHash("0x2"), unfinished[0].Hash)
}

func TestWALStore_RejectsHandleWithoutID(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, store.Save(domain.TxHandle{}))
}
