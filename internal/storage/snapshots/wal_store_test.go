package snapshots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/autoyield/internal/domain"
)

func TestWALStore_SnapshotsAfter(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, store.Close())
	}()

	assert.Error(t, store.Save(domain.OverviewSnapshot{}))

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(domain.OverviewSnapshot{
			Timestamp:   time.Unix(int64(i), 0).UTC(),
			Vault:       "0xVault",
			TotalAssets: "100.00",
			ActiveVenue: "Aave",
			APYs:        map[string]string{"Aave": "5.00"},
		}))
	}

	assert.Equal(t, uint64(3), store.CurrentIndex())

	records, err := store.SnapshotsAfter(1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(2), records[0].Index)
	assert.Equal(t, "Aave", records[1].Snapshot.ActiveVenue)

	records, err = store.SnapshotsAfter(3)
	require.NoError(t, err)
	assert.Empty(t, records)
}
