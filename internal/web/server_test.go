package web

import (
	"bufio"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/autoyield/internal/clients"
	"github.com/vadiminshakov/autoyield/internal/domain"
	"github.com/vadiminshakov/autoyield/internal/events"
	"github.com/vadiminshakov/autoyield/internal/services/lifecycle"
	"github.com/vadiminshakov/autoyield/internal/services/orchestrator"
	"github.com/vadiminshakov/autoyield/internal/services/reader"
	"github.com/vadiminshakov/autoyield/internal/storage/snapshots"
)

func saveSnapshots(t *testing.T, store *snapshots.WALStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, store.Save(domain.OverviewSnapshot{
			Timestamp:   time.Date(2025, 1, 1, 0, i, 0, 0, time.UTC),
			ChainID:     31337,
			Vault:       "0xcf7ed3acca5a467e9e704c703e8d87f634fb0fc9",
			TotalAssets: "100.00",
			ActiveVenue: "Aave",
			APYs:        map[string]string{"Aave": "5.00", "Compound": "4.00"},
		}))
	}
}

type sseEvent struct {
	id   string
	name string
	data string
}

// readEvents reads n SSE events, skipping comments.
func readEvents(t *testing.T, r *bufio.Reader, n int) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	for len(out) < n {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if cur.name != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return out
}

func openStream(t *testing.T, url string, lastID string) (*bufio.Reader, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/overview/stream", nil)
	require.NoError(t, err)
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	t.Cleanup(func() { resp.Body.Close() })

	return bufio.NewReader(resp.Body), cancel
}

func TestOverviewStream_ReplaysThenForwardsUpdates(t *testing.T) {
	store, err := snapshots.NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	saveSnapshots(t, store, 2)

	b := events.NewBroadcaster(8)
	s := NewServer("", domain.Session{}, nil, WithSnapshots(store), WithUpdates(b))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	r, cancel := openStream(t, srv.URL, "")
	defer cancel()

	replay := readEvents(t, r, 2)
	assert.Equal(t, "overview", replay[0].name)
	assert.Equal(t, "1", replay[0].id)
	assert.Equal(t, "2", replay[1].id)

	var snap domain.OverviewSnapshot
	require.NoError(t, json.Unmarshal([]byte(replay[1].data), &snap))
	assert.Equal(t, "5.00", snap.APYs["Aave"])

	b.Publish(events.Update{Kind: events.KindOverview, Fields: map[string]string{"skip": "me"}})
	b.Publish(events.Update{Kind: events.KindBalances, Account: "0xabc", Fields: map[string]string{"vault_balance": "1.00"}})

	live := readEvents(t, r, 1)
	assert.Equal(t, "update", live[0].name)
	var u events.Update
	require.NoError(t, json.Unmarshal([]byte(live[0].data), &u))
	assert.Equal(t, events.KindBalances, u.Kind)
	assert.Equal(t, "1.00", u.Fields["vault_balance"])
}

func TestOverviewStream_ResumesAfterLastEventID(t *testing.T) {
	store, err := snapshots.NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	saveSnapshots(t, store, 3)

	srv := httptest.NewServer(NewServer("", domain.Session{}, nil, WithSnapshots(store)).Handler())
	defer srv.Close()

	r, cancel := openStream(t, srv.URL, "2")
	defer cancel()

	got := readEvents(t, r, 1)
	assert.Equal(t, "3", got[0].id)
}

func TestOverviewStream_NoData(t *testing.T) {
	store, err := snapshots.NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	srv := httptest.NewServer(NewServer("", domain.Session{}, nil, WithSnapshots(store)).Handler())
	defer srv.Close()

	r, cancel := openStream(t, srv.URL, "")
	defer cancel()

	got := readEvents(t, r, 1)
	assert.Equal(t, "no_data", got[0].name)
}

func TestOverviewStream_Unavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer("", domain.Session{}, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/overview/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeHistory struct {
	history domain.History
}

func (f fakeHistory) FetchHistory(context.Context, domain.Session) domain.History {
	return f.history
}

func TestHistory(t *testing.T) {
	aave := common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	h := domain.History{
		Source: domain.HistoryCache,
		Err:    &domain.QueryError{Kind: domain.QueryScopeTooLarge, Err: assert.AnError},
		Events: []domain.RebalanceEvent{{
			ID:          "0x01-0",
			BlockNumber: 42,
			Timestamp:   time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
			From:        domain.VenueRef{Address: common.HexToAddress("0xaa")},
			To:          domain.VenueRef{Known: true, Name: "Aave", Address: aave},
			Amount:      domain.MustParseAmount("50000"),
			FromAPY:     big.NewInt(420),
			ToAPY:       big.NewInt(580),
		}},
	}

	rec := httptest.NewRecorder()
	NewServer("", domain.Session{}, nil, WithHistory(fakeHistory{history: h})).
		Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, domain.HistoryCache, resp.Source)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.QueryScopeTooLarge, resp.Error.Kind)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "Unknown", resp.Events[0].From)
	assert.Equal(t, "Aave", resp.Events[0].To)
	assert.Equal(t, "50000.00", resp.Events[0].Amount)
	assert.Equal(t, "4.20", resp.Events[0].FromAPY)
	assert.Equal(t, "5.80", resp.Events[0].ToAPY)
	assert.Equal(t, "2024-01-15T10:30:00Z", resp.Events[0].Timestamp)
}

type fixedTransfer orchestrator.State

func (f fixedTransfer) State() orchestrator.State  { return orchestrator.State(f) }
func (fixedTransfer) Dismiss(domain.Session) error { return nil }
func (fixedTransfer) Acknowledge() error           { return nil }

type fixedControls lifecycle.Status

func (f fixedControls) Status() lifecycle.Status { return lifecycle.Status(f) }
func (fixedControls) Dismiss() error             { return nil }
func (fixedControls) Acknowledge() error         { return nil }

func TestSurfaces(t *testing.T) {
	transfer := fixedTransfer{Phase: domain.PhaseConfirming, Draft: "10"}
	controls := fixedControls{Surface: domain.SurfaceControls}

	rec := httptest.NewRecorder()
	NewServer("", domain.Session{}, nil, WithSurfaces(transfer, controls)).
		Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/surfaces", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp surfacesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Transfer)
	assert.Equal(t, domain.PhaseConfirming, resp.Transfer.Phase)
	assert.Equal(t, "10", resp.Transfer.Draft)
	require.NotNil(t, resp.Controls)
	assert.False(t, resp.Controls.Busy)
}

func TestSurfaceActions(t *testing.T) {
	c := domain.Contracts{
		Token:    common.HexToAddress("0x10"),
		Aave:     common.HexToAddress("0x20"),
		Compound: common.HexToAddress("0x30"),
		Vault:    common.HexToAddress("0x40"),
	}
	sess := domain.Session{Account: common.HexToAddress("0xbeef"), ChainID: 31337, Contracts: &c, TestControls: true}

	ledger := clients.NewSimulatedLedger(c)
	ledger.SetManualMining(true)
	transfer := orchestrator.New(ledger, lifecycle.NewTracker(domain.SurfaceTransfer, ledger, nil, nil), nil)
	controls := reader.New(ledger, lifecycle.NewTracker(domain.SurfaceControls, ledger, nil, nil), nil)
	handler := NewServer("", sess, nil, WithSurfaces(transfer, controls)).Handler()

	post := func(path string) (*httptest.ResponseRecorder, surfacesResponse) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		var resp surfacesResponse
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		}
		return rec, resp
	}

	rec, _ := post("/surfaces/vault/dismiss")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = post("/surfaces/transfer/acknowledge")
	assert.Equal(t, http.StatusConflict, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, transfer.MintTestFunds(ctx, sess), context.DeadlineExceeded)

	rec, _ = post("/surfaces/transfer/dismiss")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, resp := post("/surfaces/transfer/acknowledge")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Transfer)
	assert.True(t, resp.Transfer.Status.Acknowledged)
	require.NotNil(t, resp.Transfer.Status.Handle)
	assert.Equal(t, domain.TxPendingConfirmation, resp.Transfer.Status.Handle.State)

	ledger.FailSubmissions("manualRebalance", errors.New("user rejected signing"))
	_, err := controls.TriggerManualRebalance(context.Background(), sess)
	require.Error(t, err)
	require.NotNil(t, controls.Status().Handle)

	rec, resp = post("/surfaces/controls/dismiss")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Controls)
	assert.Nil(t, resp.Controls.Handle)
	assert.False(t, resp.Controls.Busy)
}

func TestThinRecords(t *testing.T) {
	records := make([]domain.OverviewSnapshotRecord, 500)
	for i := range records {
		records[i].Index = uint64(i + 1)
	}

	thinned := thinRecords(records)

	assert.Less(t, len(thinned), len(records))
	assert.Equal(t, records[len(records)-keepLastRecords:], thinned[len(thinned)-keepLastRecords:])
	for i := 1; i < len(thinned); i++ {
		assert.Less(t, thinned[i-1].Index, thinned[i].Index)
	}
}
