package internal

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/autoyield/config"
	"github.com/vadiminshakov/autoyield/internal/domain"
	"github.com/vadiminshakov/autoyield/internal/events"
	"github.com/vadiminshakov/autoyield/internal/relay"
	"github.com/vadiminshakov/autoyield/internal/services/lifecycle"
	"github.com/vadiminshakov/autoyield/internal/services/orchestrator"
	"github.com/vadiminshakov/autoyield/internal/services/reader"
	"github.com/vadiminshakov/autoyield/internal/services/reconciler"
	"github.com/vadiminshakov/autoyield/internal/storage/historycache"
	"github.com/vadiminshakov/autoyield/internal/storage/snapshots"
	"github.com/vadiminshakov/autoyield/internal/storage/txjournal"
	"github.com/vadiminshakov/autoyield/internal/web"
)

const updatesBuffer = 64

type txJournal interface {
	Save(handle domain.TxHandle) error
	Unfinished(surface domain.Surface) ([]domain.TxHandle, error)
}

// App wires one session's vault client, relay and dashboard together.
type App struct {
	Config  config.Config
	Session domain.Session

	Transfers *orchestrator.Orchestrator
	Controls  *reader.Reader
	Poller    *reader.Poller
	History   *reconciler.Reconciler
	Updates   *events.Broadcaster
	Relay     *relay.Server
	Dashboard *web.Server

	provider  ledgerProvider
	trackers  []*lifecycle.Tracker
	snapshots *snapshots.WALStore
	closers   []func() error
	logger    *zap.Logger
}

// NewApp connects to the configured ledger and builds every component.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := newClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	provider, err := newLedgerProvider(client, cfg)
	if err != nil {
		return nil, err
	}

	app, err := newApp(provider, cfg, logger)
	if err != nil {
		provider.Close()
		return nil, err
	}
	return app, nil
}

func newApp(provider ledgerProvider, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	chainID := provider.ChainID()
	sess := domain.Session{
		Account:      provider.Account(),
		ChainID:      chainID,
		Endpoint:     cfg.RPCURL,
		Contracts:    cfg.Contracts(chainID),
		TestControls: cfg.TestControls,
	}

	a := &App{
		Config:   cfg,
		Session:  sess,
		Updates:  events.NewBroadcaster(updatesBuffer),
		provider: provider,
		logger:   logger,
	}

	if !sess.HasContracts() {
		logger.Warn("no complete deployment for chain, reads fall back to placeholders",
			zap.Uint64("chain_id", chainID))
	}

	var journal txJournal
	var cache *historycache.WALStore
	if provider.Durable() {
		if err := a.openStores(chainID, &journal, &cache); err != nil {
			_ = a.closeStores()
			return nil, err
		}
	}

	ledger := provider.Ledger()

	transferTracker := lifecycle.NewTracker(domain.SurfaceTransfer, ledger, journal, logger)
	controlTracker := lifecycle.NewTracker(domain.SurfaceControls, ledger, journal, logger)
	a.trackers = []*lifecycle.Tracker{transferTracker, controlTracker}

	a.Transfers = orchestrator.New(ledger, transferTracker, logger,
		orchestrator.WithPublisher(a.Updates),
		orchestrator.WithMintAmount(cfg.MintAmount),
	)

	a.Controls = reader.New(ledger, controlTracker, logger,
		reader.WithMaxAPYPercent(cfg.MaxTestAPYPercent),
		reader.WithConfirmHook(func(context.Context, domain.Session) {
			a.Poller.Trigger()
		}),
	)

	pollerOpts := []reader.PollerOption{reader.WithOverviewPublisher(a.Updates)}
	if a.snapshots != nil {
		pollerOpts = append(pollerOpts, reader.WithSnapshotStore(a.snapshots))
	}
	a.Poller = reader.NewPoller(a.Controls, sess, cfg.PollInterval, logger, pollerOpts...)

	historyOpts := []reconciler.Option{reconciler.WithFromBlock(cfg.History.FromBlock)}
	if cache != nil {
		historyOpts = append(historyOpts, reconciler.WithHistoryCache(cache))
	}
	a.History = reconciler.New(ledger, provider.Timestamps(cfg.History), logger, historyOpts...)

	a.Relay = relay.NewServer(cfg.Relay.Addr, cfg.Relay.BackingURL, logger)

	webOpts := []web.Option{
		web.WithUpdates(a.Updates),
		web.WithHistory(a.History),
		web.WithSurfaces(a.Transfers, a.Controls),
	}
	if a.snapshots != nil {
		webOpts = append(webOpts, web.WithSnapshots(a.snapshots))
	}
	a.Dashboard = web.NewServer(cfg.Dashboard.Addr, sess, logger, webOpts...)

	return a, nil
}

// openStores opens the per-chain journal, history cache and snapshot log.
func (a *App) openStores(chainID uint64, journal *txJournal, cache **historycache.WALStore) error {
	base := filepath.Join(a.Config.WALDir, strconv.FormatUint(chainID, 10))
	if err := os.MkdirAll(base, 0o755); err != nil {
		return errors.Wrap(err, "create data dir")
	}

	j, err := txjournal.NewWALStore(filepath.Join(base, "txjournal"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, j.Close)
	*journal = j

	c, err := historycache.NewWALStore(filepath.Join(base, "history"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, c.Close)
	*cache = c

	s, err := snapshots.NewWALStore(filepath.Join(base, "snapshots"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, s.Close)
	a.snapshots = s

	return nil
}

// Recover reloads unfinished transactions from the journal and waits for their outcome.
func (a *App) Recover(ctx context.Context) error {
	for _, t := range a.trackers {
		if err := t.Recover(ctx); err != nil {
			return errors.Wrapf(err, "recover %s surface", t.Surface())
		}
	}
	return nil
}

// Dismiss clears a finished or failed transaction from surface.
func (a *App) Dismiss(surface domain.Surface) error {
	switch surface {
	case domain.SurfaceTransfer:
		return a.Transfers.Dismiss(a.Session)
	case domain.SurfaceControls:
		return a.Controls.Dismiss()
	}
	return errors.Wrapf(domain.ErrUnknownSurface, "%s", surface)
}

// Acknowledge hides the stuck pending transaction of surface. It stays reserved.
func (a *App) Acknowledge(surface domain.Surface) error {
	switch surface {
	case domain.SurfaceTransfer:
		return a.Transfers.Acknowledge()
	case domain.SurfaceControls:
		return a.Controls.Acknowledge()
	}
	return errors.Wrapf(domain.ErrUnknownSurface, "%s", surface)
}

// Serve runs the overview poller, the relay and the dashboard until ctx is done.
// An empty listen address disables that server.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Poller.Run(ctx)
	})

	if a.Config.Relay.Addr != "" {
		g.Go(func() error {
			if len(a.Config.Relay.TLSDomains) > 0 {
				return a.Relay.StartWithAutoTLS(ctx, a.Config.Relay.TLSDomains, a.Config.Relay.CertCache)
			}
			return a.Relay.Start(ctx)
		})
	}

	if a.Config.Dashboard.Addr != "" {
		g.Go(func() error {
			return a.Dashboard.Start(ctx)
		})
	}

	a.logger.Info("autoyield serving",
		zap.Uint64("chain_id", a.Session.ChainID),
		zap.String("account", a.Session.Account.Hex()),
		zap.String("relay", a.Config.Relay.Addr),
		zap.String("dashboard", a.Config.Dashboard.Addr))

	return g.Wait()
}

// Close releases the stores and the ledger connection.
func (a *App) Close() error {
	err := a.closeStores()
	if a.provider != nil {
		a.provider.Close()
	}
	return err
}

func (a *App) closeStores() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
