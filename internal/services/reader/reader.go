package reader

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/autoyield/internal/domain"
	"github.com/vadiminshakov/autoyield/internal/services/lifecycle"
)

type ledger interface {
	VaultBalance(ctx context.Context, vault, user common.Address) (*big.Int, error)
	TotalAssets(ctx context.Context, vault common.Address) (*big.Int, error)
	TokenSupply(ctx context.Context, token common.Address) (*big.Int, error)
	CurrentProtocolInfo(ctx context.Context, vault common.Address) (domain.ProtocolInfo, error)
	ProtocolAPYs(ctx context.Context, vault common.Address) (*big.Int, *big.Int, error)
	ManualRebalance(ctx context.Context, from, vault common.Address) (common.Hash, error)
	SetAPY(ctx context.Context, from, venue common.Address, bps *big.Int) (common.Hash, error)
}

// ConfirmHook runs after a control write confirms, while the surface is still reserved.
type ConfirmHook func(ctx context.Context, sess domain.Session)

// Reader reads vault and venue state and owns the manual-controls surface.
type Reader struct {
	ledger    ledger
	tracker   *lifecycle.Tracker
	logger    *zap.Logger
	maxAPY    decimal.Decimal
	onConfirm ConfirmHook
}

// Option configures a Reader.
type Option func(*Reader)

// WithMaxAPYPercent sets the highest accepted test APY override.
func WithMaxAPYPercent(max decimal.Decimal) Option {
	return func(r *Reader) {
		r.maxAPY = max
	}
}

// WithConfirmHook registers fn to refresh dependent views after a confirmed control write.
func WithConfirmHook(fn ConfirmHook) Option {
	return func(r *Reader) {
		r.onConfirm = fn
	}
}

// New creates a reader. The tracker guards the manual-controls surface.
func New(l ledger, tracker *lifecycle.Tracker, logger *zap.Logger, opts ...Option) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Reader{
		ledger:  l,
		tracker: tracker,
		logger:  logger.With(zap.String("component", "reader")),
		maxAPY:  domain.DefaultMaxAPYPercent,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ReadVaultOverview reads the session user's vault balance, total assets, the active
// venue and both venue rates. It has no side effects. Without a deployment it returns
// an unavailable, zero overview.
func (r *Reader) ReadVaultOverview(ctx context.Context, sess domain.Session) (domain.VaultOverview, error) {
	contracts, err := sess.RequireContracts()
	if err != nil {
		return placeholderOverview(), nil
	}

	var (
		userBalance, totalAssets, supply *big.Int
		aaveAPY, compoundAPY             *big.Int
		info                             domain.ProtocolInfo
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := r.ledger.VaultBalance(gctx, contracts.Vault, sess.Account)
		userBalance = v
		return errors.Wrap(err, "read vault balance")
	})
	g.Go(func() error {
		v, err := r.ledger.TotalAssets(gctx, contracts.Vault)
		totalAssets = v
		return errors.Wrap(err, "read total assets")
	})
	g.Go(func() error {
		v, err := r.ledger.TokenSupply(gctx, contracts.Token)
		supply = v
		return errors.Wrap(err, "read token supply")
	})
	g.Go(func() error {
		v, err := r.ledger.CurrentProtocolInfo(gctx, contracts.Vault)
		info = v
		return errors.Wrap(err, "read current protocol")
	})
	g.Go(func() error {
		a, c, err := r.ledger.ProtocolAPYs(gctx, contracts.Vault)
		aaveAPY, compoundAPY = a, c
		return errors.Wrap(err, "read protocol apys")
	})
	if err := g.Wait(); err != nil {
		return domain.VaultOverview{}, err
	}

	aave := domain.VenueInfo{Name: domain.VenueAave.DisplayName(), APY: aaveAPY}
	compound := domain.VenueInfo{Name: domain.VenueCompound.DisplayName(), APY: compoundAPY}
	switch info.Name {
	case aave.Name:
		aave.Balance = info.Balance
	case compound.Name:
		compound.Balance = info.Balance
	}

	return domain.VaultOverview{
		Available:   true,
		UserBalance: domain.NewAmount(userBalance),
		TotalAssets: domain.NewAmount(totalAssets),
		TokenSupply: domain.NewAmount(supply),
		Active:      domain.VenueInfo{Name: info.Name, APY: info.APY, Balance: info.Balance},
		Venues:      []domain.VenueInfo{aave, compound},
		ReadAt:      time.Now().UTC(),
	}, nil
}

func placeholderOverview() domain.VaultOverview {
	venues := make([]domain.VenueInfo, 0, len(domain.Venues))
	for _, v := range domain.Venues {
		venues = append(venues, domain.VenueInfo{Name: v.DisplayName(), APY: new(big.Int)})
	}

	return domain.VaultOverview{
		Available: false,
		Active:    domain.VenueInfo{APY: new(big.Int)},
		Venues:    venues,
		ReadAt:    time.Now().UTC(),
	}
}

// TriggerManualRebalance asks the vault to rebalance. Whether funds move is
// decided by the vault alone.
func (r *Reader) TriggerManualRebalance(ctx context.Context, sess domain.Session) (domain.TxHandle, error) {
	contracts, err := sess.RequireContracts()
	if err != nil {
		return domain.TxHandle{}, err
	}

	return r.submit(ctx, sess, "rebalance", domain.TxRebalance, func(ctx context.Context) (common.Hash, error) {
		return r.ledger.ManualRebalance(ctx, sess.Account, contracts.Vault)
	})
}

// SetTestVenueAPY overrides a venue mock's rate. pct is a percentage (5.25 means 525 bps)
// and must lie in [0, max]. Out-of-range input is rejected before anything is sent.
func (r *Reader) SetTestVenueAPY(ctx context.Context, sess domain.Session, venue domain.Venue, pct decimal.Decimal) (domain.TxHandle, error) {
	bps, err := domain.PercentToBasisPoints(pct, r.maxAPY)
	if err != nil {
		return domain.TxHandle{}, err
	}
	if err := sess.RequireTestControls(); err != nil {
		return domain.TxHandle{}, err
	}

	contracts, err := sess.RequireContracts()
	if err != nil {
		return domain.TxHandle{}, err
	}
	target, err := contracts.VenueAddress(venue)
	if err != nil {
		return domain.TxHandle{}, err
	}

	r.logger.Info("setting test venue apy",
		zap.String("venue", string(venue)),
		zap.String("percent", pct.String()),
		zap.String("bps", bps.String()))

	return r.submit(ctx, sess, "set_apy", domain.TxSetAPY, func(ctx context.Context) (common.Hash, error) {
		return r.ledger.SetAPY(ctx, sess.Account, target, bps)
	})
}

// Status returns the manual-controls surface state.
func (r *Reader) Status() lifecycle.Status {
	return r.tracker.Status()
}

// Dismiss acknowledges a finished control write.
func (r *Reader) Dismiss() error {
	return r.tracker.Dismiss()
}

// Acknowledge hides a stuck pending control write without releasing the surface.
func (r *Reader) Acknowledge() error {
	return r.tracker.Acknowledge()
}

func (r *Reader) submit(ctx context.Context, sess domain.Session, action string, kind domain.TxKind, send lifecycle.SendFunc) (domain.TxHandle, error) {
	op, err := r.tracker.Begin(action)
	if err != nil {
		return domain.TxHandle{}, err
	}

	defer op.End()

	handle, err := op.Submit(ctx, kind, send)
	if err != nil {
		return handle, err
	}

	if r.onConfirm != nil {
		r.onConfirm(ctx, sess)
	}
	if err := op.Complete(); err != nil {
		r.logger.Warn("could not release confirmed handle", zap.Error(err))
	}

	return handle, nil
}
