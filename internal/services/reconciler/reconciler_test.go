package reconciler

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/autoyield/internal/clients"
	"github.com/vadiminshakov/autoyield/internal/domain"
	"github.com/vadiminshakov/autoyield/internal/storage/historycache"
)

var contracts = domain.Contracts{
	Token:    common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	Aave:     common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
	Compound: common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"),
	Vault:    common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9"),
}

func testSession() domain.Session {
	c := contracts
	return domain.Session{
		Account:   common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		ChainID:   31337,
		Contracts: &c,
	}
}

func emit(t *testing.T, ledger *clients.SimulatedLedger, from, to common.Address, amount string, fromAPY, toAPY int64) {
	t.Helper()
	require.NoError(t, ledger.EmitRebalance(clients.RebalancedLog{
		OldProtocol: from,
		NewProtocol: to,
		Amount:      domain.MustParseAmount(amount).BigInt(),
		OldAPY:      big.NewInt(fromAPY),
		NewAPY:      big.NewInt(toAPY),
	}))
}

func TestQuery_MostRecentFirst(t *testing.T) {
	ledger := clients.NewSimulatedLedger(contracts)
	emit(t, ledger, contracts.Aave, contracts.Compound, "100", 400, 500)
	emit(t, ledger, contracts.Compound, contracts.Aave, "50", 500, 420)
	emit(t, ledger, contracts.Aave, contracts.Compound, "25", 420, 600)

	r := New(ledger, NewBlockTimestamps(ledger), nil)
	events, qerr := r.Query(context.Background(), testSession())
	require.Nil(t, qerr)
	require.Len(t, events, 3)

	assert.Equal(t, "25.00", events[0].Amount.Display(2))
	assert.Equal(t, "50.00", events[1].Amount.Display(2))
	assert.Equal(t, "100.00", events[2].Amount.Display(2))

	assert.Equal(t, "Aave", events[0].From.Label())
	assert.Equal(t, "Compound", events[0].To.Label())
	assert.Equal(t, "4.20", domain.FormatAPY(events[0].FromAPY))
	assert.Equal(t, "6.00", domain.FormatAPY(events[0].ToAPY))

	assert.Equal(t, "Compound", events[1].From.Label())
	assert.Equal(t, "Aave", events[1].To.Label())

	for i := 1; i < len(events); i++ {
		assert.True(t, events[i-1].Timestamp.After(events[i].Timestamp))
		assert.Greater(t, events[i-1].BlockNumber, events[i].BlockNumber)
	}
	for _, ev := range events {
		assert.Equal(t, contracts.Vault, ev.Vault)
		assert.NotEmpty(t, ev.ID)
	}
}

func TestQuery_UnknownVenueDoesNotFail(t *testing.T) {
	ledger := clients.NewSimulatedLedger(contracts)
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	emit(t, ledger, stranger, contracts.Aave, "1", 100, 500)

	r := New(ledger, nil, nil)
	events, qerr := r.Query(context.Background(), testSession())
	require.Nil(t, qerr)
	require.Len(t, events, 1)

	assert.False(t, events[0].From.Known)
	assert.Equal(t, domain.UnknownVenueName, events[0].From.Label())
	assert.Equal(t, stranger, events[0].From.Address)
	assert.True(t, events[0].To.Known)
	assert.True(t, events[0].Timestamp.IsZero())
}

func TestQuery_EmptyHistoryIsLive(t *testing.T) {
	ledger := clients.NewSimulatedLedger(contracts)
	r := New(ledger, NewBlockTimestamps(ledger), nil)

	h := r.FetchHistory(context.Background(), testSession())

	assert.Equal(t, domain.HistoryLive, h.Source)
	assert.Empty(t, h.Events)
	assert.False(t, h.Degraded())
}

func TestFetchHistory_PlaceholderWhenQueryDenied(t *testing.T) {
	ledger := clients.NewSimulatedLedger(contracts)
	ledger.FailLogQueries(errors.New("the method eth_getLogs does not exist/is not available: method not found"))

	r := New(ledger, NewBlockTimestamps(ledger), nil)
	h := r.FetchHistory(context.Background(), testSession())

	assert.Equal(t, domain.HistoryPlaceholder, h.Source)
	require.NotEmpty(t, h.Events)
	require.NotNil(t, h.Err)
	assert.Equal(t, domain.QueryAccessDenied, h.Err.Kind)
	assert.True(t, h.Degraded())
	assert.Len(t, h.Events, 3)
	assert.Equal(t, "50000.00", h.Events[0].Amount.Display(2))
}

func TestFetchHistory_CacheBeforePlaceholder(t *testing.T) {
	ledger := clients.NewSimulatedLedger(contracts)
	emit(t, ledger, contracts.Aave, contracts.Compound, "12", 400, 650)

	cache, err := historycache.NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	r := New(ledger, NewBlockTimestamps(ledger), nil, WithHistoryCache(cache))
	live := r.FetchHistory(context.Background(), testSession())
	require.Equal(t, domain.HistoryLive, live.Source)
	require.Len(t, live.Events, 1)

	ledger.FailLogQueries(errors.New("query returned more than 10000 results"))
	h := r.FetchHistory(context.Background(), testSession())

	assert.Equal(t, domain.HistoryCache, h.Source)
	require.NotNil(t, h.Err)
	assert.Equal(t, domain.QueryScopeTooLarge, h.Err.Kind)
	require.Len(t, h.Events, 1)
	assert.Equal(t, live.Events[0].ID, h.Events[0].ID)
	assert.Equal(t, "12.00", h.Events[0].Amount.Display(2))
}

func TestFetchHistory_MissingContracts(t *testing.T) {
	ledger := clients.NewSimulatedLedger(contracts)
	sess := testSession()
	sess.Contracts = nil

	r := New(ledger, nil, nil)
	h := r.FetchHistory(context.Background(), sess)

	assert.Equal(t, domain.HistoryPlaceholder, h.Source)
	assert.NotEmpty(t, h.Events)
	assert.ErrorIs(t, h.Err, domain.ErrContractsUnavailable)
}

type staticLogs struct {
	logs []types.Log
}

func (s staticLogs) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return s.logs, nil
}

func TestQuery_MalformedLogIsDecodeError(t *testing.T) {
	broken := types.Log{
		Address: contracts.Vault,
		Topics:  []common.Hash{clients.RebalancedTopic},
		Data:    []byte{0x01},
	}

	r := New(staticLogs{logs: []types.Log{broken}}, nil, nil)
	events, qerr := r.Query(context.Background(), testSession())

	assert.Nil(t, events)
	require.NotNil(t, qerr)
	assert.Equal(t, domain.QueryDecode, qerr.Kind)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want domain.QueryErrorKind
	}{
		{"exceed maximum block range: 50000", domain.QueryScopeTooLarge},
		{"query returned more than 10000 results", domain.QueryScopeTooLarge},
		{"Log response size limit exceeded", domain.QueryScopeTooLarge},
		{"403 Forbidden", domain.QueryAccessDenied},
		{"method not found", domain.QueryAccessDenied},
		{"unauthorized", domain.QueryAccessDenied},
		{"dial tcp 127.0.0.1:8545: connect: connection refused", domain.QueryUnavailable},
		{"context deadline exceeded", domain.QueryUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(errors.New(tt.msg)))
		})
	}
}

type fixedHead uint64

func (h fixedHead) HeadBlock(context.Context) (uint64, error) {
	return uint64(h), nil
}

func TestApproximateTimestamps(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	src := NewApproximateTimestamps(fixedHead(100), 2*time.Second)
	src.now = func() time.Time { return now }

	times, err := src.Resolve(context.Background(), []uint64{100, 90, 120})
	require.NoError(t, err)

	assert.Equal(t, now, times[100])
	assert.Equal(t, now.Add(-20*time.Second), times[90])
	assert.Equal(t, now, times[120])
}

func TestBlockTimestamps_DistinctBlocks(t *testing.T) {
	ledger := clients.NewSimulatedLedger(contracts)
	src := NewBlockTimestamps(ledger)

	times, err := src.Resolve(context.Background(), []uint64{3, 3, 5})
	require.NoError(t, err)
	assert.Len(t, times, 2)
	assert.Equal(t, 24*time.Second, times[5].Sub(times[3]))
}
