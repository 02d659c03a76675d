package reader

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/autoyield/internal/domain"
	"github.com/vadiminshakov/autoyield/internal/events"
	"github.com/vadiminshakov/autoyield/internal/metrics"
	"github.com/vadiminshakov/autoyield/pkg/indicators"
	"github.com/vadiminshakov/autoyield/pkg/retrier"
)

const (
	defaultPollInterval = 15 * time.Second
	defaultTrendPeriod  = 5
	maxSeriesLength     = 200
)

type overviewReader interface {
	ReadVaultOverview(ctx context.Context, sess domain.Session) (domain.VaultOverview, error)
}

type snapshotStore interface {
	Save(snapshot domain.OverviewSnapshot) error
}

type publisher interface {
	Publish(u events.Update)
}

// Poller reads the overview on an interval, keeps an APY trend per venue and
// persists each successful read as a snapshot.
type Poller struct {
	reader      overviewReader
	sess        domain.Session
	interval    time.Duration
	retry       *retrier.Retrier
	store       snapshotStore
	publisher   publisher
	trendPeriod int
	logger      *zap.Logger
	trigger     chan struct{}

	mu     sync.RWMutex
	series map[string][]decimal.Decimal
	latest domain.VaultOverview
	polled bool
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithSnapshotStore persists every successful poll.
func WithSnapshotStore(s snapshotStore) PollerOption {
	return func(p *Poller) {
		p.store = s
	}
}

// WithOverviewPublisher pushes every successful poll to subscribers.
func WithOverviewPublisher(pub publisher) PollerOption {
	return func(p *Poller) {
		p.publisher = pub
	}
}

// WithPollRetrier sets the backoff for transient read failures within one poll.
func WithPollRetrier(r *retrier.Retrier) PollerOption {
	return func(p *Poller) {
		p.retry = r
	}
}

// WithTrendPeriod sets the EMA period of the APY trend.
func WithTrendPeriod(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.trendPeriod = n
		}
	}
}

// NewPoller creates a poller for one session.
func NewPoller(r overviewReader, sess domain.Session, interval time.Duration, logger *zap.Logger, opts ...PollerOption) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}

	p := &Poller{
		reader:      r,
		sess:        sess,
		interval:    interval,
		retry: retrier.New(
			retrier.WithMaxRetries(2),
			retrier.WithInitialInterval(500*time.Millisecond),
			retrier.WithRetryIf(domain.Retryable),
		),
		trendPeriod: defaultTrendPeriod,
		logger:      logger.With(zap.String("component", "overview_poller")),
		trigger:     make(chan struct{}, 1),
		series:      make(map[string][]decimal.Decimal),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run polls until ctx is done. Failed polls are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("overview poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.trigger:
		}
	}
}

// Trigger requests an immediate poll without waiting for the next tick.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Latest returns the last successful overview.
func (p *Poller) Latest() (domain.VaultOverview, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.polled
}

// PollOnce reads the overview and records it.
func (p *Poller) PollOnce(ctx context.Context) (domain.OverviewSnapshot, error) {
	overview, err := retrier.DoWithData(p.retry, ctx, func(ctx context.Context) (domain.VaultOverview, error) {
		return p.reader.ReadVaultOverview(ctx, p.sess)
	})
	if err != nil {
		metrics.OverviewPolls.WithLabelValues("failed").Inc()
		return domain.OverviewSnapshot{}, err
	}
	metrics.OverviewPolls.WithLabelValues("ok").Inc()

	snapshot := domain.OverviewSnapshot{
		Timestamp:   overview.ReadAt,
		ChainID:     p.sess.ChainID,
		TotalAssets: overview.TotalAssets.Display(domain.DefaultDisplayPrecision),
		ActiveVenue: overview.Active.Name,
		APYs:        make(map[string]string, len(overview.Venues)),
	}
	if p.sess.Contracts != nil {
		snapshot.Vault = strings.ToLower(p.sess.Contracts.Vault.Hex())
	}

	p.mu.Lock()
	p.latest = overview
	p.polled = true
	if overview.Available {
		snapshot.APYTrend = make(map[string]string, len(overview.Venues))
		for _, venue := range overview.Venues {
			snapshot.APYs[venue.Name] = domain.FormatAPY(venue.APY)

			series := append(p.series[venue.Name], decimal.NewFromBigInt(venue.APY, -2))
			if len(series) > maxSeriesLength {
				series = series[len(series)-maxSeriesLength:]
			}
			p.series[venue.Name] = series

			if ema, ok := indicators.LatestEMA(series, p.trendPeriod); ok {
				snapshot.APYTrend[venue.Name] = ema.StringFixed(2)
			}
		}
	}
	p.mu.Unlock()

	if !overview.Available {
		p.publish(snapshot, false)
		return snapshot, nil
	}

	if p.store != nil {
		if err := p.store.Save(snapshot); err != nil {
			p.logger.Warn("failed to persist overview snapshot", zap.Error(err))
		}
	}
	p.publish(snapshot, true)

	return snapshot, nil
}

func (p *Poller) publish(s domain.OverviewSnapshot, available bool) {
	if p.publisher == nil {
		return
	}

	fields := map[string]string{
		"available":    "false",
		"total_assets": s.TotalAssets,
		"active_venue": s.ActiveVenue,
	}
	if available {
		fields["available"] = "true"
	}
	for name, apy := range s.APYs {
		fields["apy_"+strings.ToLower(name)] = apy
	}
	for name, trend := range s.APYTrend {
		fields["apy_trend_"+strings.ToLower(name)] = trend
	}

	p.publisher.Publish(events.Update{
		Timestamp: s.Timestamp,
		Kind:      events.KindOverview,
		Vault:     s.Vault,
		Fields:    fields,
	})
}
