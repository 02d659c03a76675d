package reconciler

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/autoyield/internal/clients"
	"github.com/vadiminshakov/autoyield/internal/domain"
	"github.com/vadiminshakov/autoyield/internal/metrics"
)

type logSource interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type historyCache interface {
	Save(chainID uint64, vault common.Address, events []domain.RebalanceEvent) error
	Load(chainID uint64, vault common.Address) ([]domain.RebalanceEvent, bool, error)
}

// Reconciler turns the vault's Rebalanced logs into a display-ready history.
type Reconciler struct {
	logs       logSource
	timestamps TimestampSource
	cache      historyCache
	fromBlock  uint64
	logger     *zap.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithHistoryCache keeps the last good history and serves it when a live query fails.
func WithHistoryCache(c historyCache) Option {
	return func(r *Reconciler) {
		r.cache = c
	}
}

// WithFromBlock bounds the log query to blocks at or after n.
func WithFromBlock(n uint64) Option {
	return func(r *Reconciler) {
		r.fromBlock = n
	}
}

// New creates a reconciler.
func New(logs logSource, timestamps TimestampSource, logger *zap.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Reconciler{
		logs:       logs,
		timestamps: timestamps,
		logger:     logger.With(zap.String("component", "rebalance_reconciler")),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Query reads the full rebalance history of the session's vault, most recent first.
// It makes no attempt to recover from failures.
func (r *Reconciler) Query(ctx context.Context, sess domain.Session) ([]domain.RebalanceEvent, *domain.QueryError) {
	contracts, err := sess.RequireContracts()
	if err != nil {
		return nil, &domain.QueryError{Kind: domain.QueryUnavailable, Err: err}
	}

	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.fromBlock),
		Addresses: []common.Address{contracts.Vault},
		Topics:    [][]common.Hash{{clients.RebalancedTopic}},
	}

	logs, err := r.logs.FilterLogs(ctx, q)
	if err != nil {
		return nil, &domain.QueryError{Kind: classify(err), Err: errors.Wrap(err, "filter rebalance logs")}
	}

	table := domain.NewVenueTable(contracts)
	events := make([]domain.RebalanceEvent, 0, len(logs))
	blocks := make([]uint64, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := decodeEvent(l, table)
		if err != nil {
			return nil, &domain.QueryError{
				Kind: domain.QueryDecode,
				Err:  errors.Wrapf(err, "log %d of tx %s", l.Index, l.TxHash.Hex()),
			}
		}
		events = append(events, ev)
		blocks = append(blocks, l.BlockNumber)
	}

	r.stamp(ctx, events, blocks)
	domain.SortMostRecentFirst(events)

	return events, nil
}

// stamp is best effort: events keep a zero timestamp when the source fails.
func (r *Reconciler) stamp(ctx context.Context, events []domain.RebalanceEvent, blocks []uint64) {
	if r.timestamps == nil || len(events) == 0 {
		return
	}

	times, err := r.timestamps.Resolve(ctx, blocks)
	if err != nil {
		r.logger.Warn("failed to resolve block timestamps", zap.Error(err))
	}
	for i := range events {
		if ts, ok := times[events[i].BlockNumber]; ok {
			events[i].Timestamp = ts
		}
	}
}

// FetchHistory queries the live history and falls back to the cached copy, then
// to the placeholder. It never fails and never returns an empty fallback.
func (r *Reconciler) FetchHistory(ctx context.Context, sess domain.Session) domain.History {
	events, qerr := r.Query(ctx, sess)
	if qerr == nil {
		r.remember(sess, events)
		return domain.History{Events: events, Source: domain.HistoryLive}
	}

	r.logger.Warn("rebalance history query failed, using fallback",
		zap.String("kind", string(qerr.Kind)),
		zap.Error(qerr.Err))

	if cached, ok := r.recall(sess); ok {
		metrics.HistoryFallbacks.WithLabelValues(string(domain.HistoryCache), string(qerr.Kind)).Inc()
		return domain.History{Events: cached, Source: domain.HistoryCache, Err: qerr}
	}

	metrics.HistoryFallbacks.WithLabelValues(string(domain.HistoryPlaceholder), string(qerr.Kind)).Inc()
	return domain.History{Events: PlaceholderHistory(), Source: domain.HistoryPlaceholder, Err: qerr}
}

func (r *Reconciler) remember(sess domain.Session, events []domain.RebalanceEvent) {
	if r.cache == nil || !sess.HasContracts() {
		return
	}
	if err := r.cache.Save(sess.ChainID, sess.Contracts.Vault, events); err != nil {
		r.logger.Warn("failed to cache rebalance history", zap.Error(err))
	}
}

func (r *Reconciler) recall(sess domain.Session) ([]domain.RebalanceEvent, bool) {
	if r.cache == nil || !sess.HasContracts() {
		return nil, false
	}

	events, ok, err := r.cache.Load(sess.ChainID, sess.Contracts.Vault)
	if err != nil {
		r.logger.Warn("failed to load cached rebalance history", zap.Error(err))
		return nil, false
	}
	if !ok || len(events) == 0 {
		return nil, false
	}

	return events, true
}
