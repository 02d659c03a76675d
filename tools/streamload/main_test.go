package main

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/autoyield/internal/domain"
	"github.com/vadiminshakov/autoyield/internal/storage/snapshots"
	"github.com/vadiminshakov/autoyield/internal/web"
)

func TestRun_CountsReplayedSnapshots(t *testing.T) {
	store, err := snapshots.NewWALStore(filepath.Join(t.TempDir(), "snapshots"))
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(domain.OverviewSnapshot{
			Timestamp:   time.Date(2025, 1, 1, 0, i, 0, 0, time.UTC),
			ChainID:     31337,
			TotalAssets: "10.00",
			ActiveVenue: "Aave",
		}))
	}

	srv := web.NewServer("", domain.Session{ChainID: 31337}, nil, web.WithSnapshots(store))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	st, err := run(context.Background(), options{
		URL:      ts.URL + "/overview/stream",
		Conns:    4,
		Duration: 500 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, int64(4), st.connected.Load())
	assert.Zero(t, st.connectErrs.Load())
	assert.Equal(t, int64(12), st.overviews.Load())
	assert.Zero(t, st.noData.Load())
}

func TestRun_ResumeSkipsSeenSnapshots(t *testing.T) {
	store, err := snapshots.NewWALStore(filepath.Join(t.TempDir(), "snapshots"))
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 2; i++ {
		require.NoError(t, store.Save(domain.OverviewSnapshot{ChainID: 31337, TotalAssets: "1.00"}))
	}

	srv := web.NewServer("", domain.Session{ChainID: 31337}, nil, web.WithSnapshots(store))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	st, err := run(context.Background(), options{
		URL:         ts.URL + "/overview/stream",
		Conns:       2,
		Duration:    300 * time.Millisecond,
		LastEventID: "2",
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, int64(2), st.connected.Load())
	assert.Zero(t, st.overviews.Load())
	assert.Zero(t, st.noData.Load())
}

func TestRun_UnreachableTarget(t *testing.T) {
	st, err := run(context.Background(), options{
		URL:      "http://127.0.0.1:1/overview/stream",
		Conns:    2,
		Duration: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.connectErrs.Load())
}

func TestRun_InvalidConns(t *testing.T) {
	_, err := run(context.Background(), options{Conns: 0}, zap.NewNop())
	assert.Error(t, err)
}
