package orchestrator

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/autoyield/internal/domain"
	"github.com/vadiminshakov/autoyield/internal/events"
	"github.com/vadiminshakov/autoyield/internal/services/lifecycle"
	"github.com/vadiminshakov/autoyield/pkg/retrier"
)

// DefaultMintAmount is the amount of test tokens minted per request.
var DefaultMintAmount = domain.MustParseAmount("1000")

type ledger interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	VaultBalance(ctx context.Context, vault, user common.Address) (*big.Int, error)
	Approve(ctx context.Context, from, token, spender common.Address, amount *big.Int) (common.Hash, error)
	Deposit(ctx context.Context, from, vault common.Address, amount *big.Int) (common.Hash, error)
	Withdraw(ctx context.Context, from, vault common.Address, amount *big.Int) (common.Hash, error)
	Mint(ctx context.Context, from, token, to common.Address, amount *big.Int) (common.Hash, error)
}

type publisher interface {
	Publish(u events.Update)
}

// State is a snapshot of the transfer surface.
type State struct {
	Phase  domain.Phase     `json:"phase"`
	Draft  string           `json:"draft"`
	Error  string           `json:"error,omitempty"`
	Status lifecycle.Status `json:"status"`
}

// Orchestrator drives the transfer surface: allowance-gated deposits, withdrawals and test mints.
// Every confirmed write invalidates the balance view of the acting account and
// re-reads it before the surface reports success.
type Orchestrator struct {
	ledger     ledger
	tracker    *lifecycle.Tracker
	publisher  publisher
	logger     *zap.Logger
	mintAmount domain.Amount
	refresher  *retrier.Retrier

	mu      sync.RWMutex
	phase   domain.Phase
	lastErr error
	draft   string
	views   map[common.Address]domain.BalanceView
	gen     map[common.Address]uint64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sends balance and phase changes to p.
func WithPublisher(p publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithMintAmount overrides the test mint amount.
func WithMintAmount(a domain.Amount) Option {
	return func(o *Orchestrator) {
		o.mintAmount = a
	}
}

// WithRefreshRetrier sets the backoff used for the post-confirmation re-read.
func WithRefreshRetrier(r *retrier.Retrier) Option {
	return func(o *Orchestrator) {
		o.refresher = r
	}
}

// New creates an orchestrator for the tracker's surface.
func New(l ledger, tracker *lifecycle.Tracker, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		ledger:     l,
		tracker:    tracker,
		logger:     logger.With(zap.String("component", "orchestrator")),
		mintAmount: DefaultMintAmount,
		refresher: retrier.New(
			retrier.WithMaxRetries(3),
			retrier.WithInitialInterval(200*time.Millisecond),
			retrier.WithRetryIf(domain.Retryable),
		),
		phase:      domain.PhaseIdle,
		views:      make(map[common.Address]domain.BalanceView),
		gen:        make(map[common.Address]uint64),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// SetDraft stores the amount the user is typing. It never affects a write in flight.
func (o *Orchestrator) SetDraft(amount string) {
	o.mu.Lock()
	o.draft = amount
	o.mu.Unlock()
}

// Draft returns the current input amount.
func (o *Orchestrator) Draft() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.draft
}

// State returns the surface state without blocking on the ledger.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	st := State{Phase: o.phase, Draft: o.draft}
	if o.lastErr != nil {
		st.Error = o.lastErr.Error()
	}
	o.mu.RUnlock()

	st.Status = o.tracker.Status()
	return st
}

// View returns the last balance view of account. Fresh is false after an invalidation.
func (o *Orchestrator) View(account common.Address) domain.BalanceView {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.views[account]
}

// Deposit moves amount into the vault, approving exactly amount first when the
// current allowance does not cover it.
func (o *Orchestrator) Deposit(ctx context.Context, sess domain.Session, amount string) error {
	value, contracts, err := o.validate(sess, amount)
	if err != nil {
		return err
	}

	return o.run(ctx, sess, "deposit", func(op *lifecycle.Op) error {
		allowance, err := o.ledger.TokenAllowance(ctx, contracts.Token, sess.Account, contracts.Vault)
		if err != nil {
			return errors.Wrap(err, "read allowance")
		}

		if allowance.Cmp(value.BigInt()) < 0 {
			o.setPhase(domain.PhaseApproving, sess)
			o.logger.Info("allowance below deposit, approving",
				zap.String("account", sess.Account.Hex()),
				zap.String("allowance", allowance.String()),
				zap.String("amount", value.String()))

			_, err := op.Submit(ctx, domain.TxApprove, func(ctx context.Context) (common.Hash, error) {
				return o.ledger.Approve(ctx, sess.Account, contracts.Token, contracts.Vault, value.BigInt())
			})
			if err != nil {
				return err
			}
			o.invalidate(sess.Account)
		}

		o.setPhase(domain.PhaseDepositing, sess)
		_, err = op.Submit(ctx, domain.TxDeposit, o.confirming(sess, func(ctx context.Context) (common.Hash, error) {
			return o.ledger.Deposit(ctx, sess.Account, contracts.Vault, value.BigInt())
		}))
		return err
	})
}

// Withdraw moves amount out of the vault. An amount above the vault balance is
// rejected by the ledger, not here.
func (o *Orchestrator) Withdraw(ctx context.Context, sess domain.Session, amount string) error {
	value, contracts, err := o.validate(sess, amount)
	if err != nil {
		return err
	}

	return o.run(ctx, sess, "withdraw", func(op *lifecycle.Op) error {
		o.setPhase(domain.PhaseWithdrawing, sess)
		_, err := op.Submit(ctx, domain.TxWithdraw, o.confirming(sess, func(ctx context.Context) (common.Hash, error) {
			return o.ledger.Withdraw(ctx, sess.Account, contracts.Vault, value.BigInt())
		}))
		return err
	})
}

// MintTestFunds credits test tokens to the session account.
func (o *Orchestrator) MintTestFunds(ctx context.Context, sess domain.Session) error {
	if err := sess.RequireTestControls(); err != nil {
		return err
	}
	contracts, err := sess.RequireContracts()
	if err != nil {
		return err
	}

	return o.run(ctx, sess, "mint", func(op *lifecycle.Op) error {
		o.setPhase(domain.PhaseMinting, sess)
		_, err := op.Submit(ctx, domain.TxMint, o.confirming(sess, func(ctx context.Context) (common.Hash, error) {
			return o.ledger.Mint(ctx, sess.Account, contracts.Token, sess.Account, o.mintAmount.BigInt())
		}))
		return err
	})
}

// Resume waits again for a write left pending and finishes the action when it confirms.
// The surface stays reserved until the post-confirmation refresh is done.
func (o *Orchestrator) Resume(ctx context.Context, sess domain.Session) error {
	handle, op, err := o.tracker.Resume(ctx)
	if op != nil {
		defer op.End()
	}
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, domain.ErrSurfaceBusy) {
			o.fail(sess, err)
		}
		return err
	}
	if op == nil || handle.State != domain.TxConfirmed {
		return nil
	}

	if err := o.finish(ctx, sess, op); err != nil {
		o.fail(sess, err)
		return err
	}

	return nil
}

// Acknowledge hides a stuck pending write. The surface stays reserved until it settles.
func (o *Orchestrator) Acknowledge() error {
	return o.tracker.Acknowledge()
}

// Dismiss acknowledges a failed action and returns the surface to idle.
func (o *Orchestrator) Dismiss(sess domain.Session) error {
	if err := o.tracker.Dismiss(); err != nil {
		return err
	}

	o.mu.Lock()
	o.lastErr = nil
	o.mu.Unlock()
	o.setPhase(domain.PhaseIdle, sess)

	return nil
}

// Refresh re-reads token balance, vault balance and allowance of the session account.
// A read that started before the latest invalidation is returned but never stored as fresh.
func (o *Orchestrator) Refresh(ctx context.Context, sess domain.Session) (domain.BalanceView, error) {
	contracts, err := sess.RequireContracts()
	if err != nil {
		// no deployment on this chain: show empty balances
		return domain.BalanceView{}, nil
	}

	o.mu.RLock()
	startGen := o.gen[sess.Account]
	o.mu.RUnlock()

	var balance, shares, allowance *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := o.ledger.TokenBalance(gctx, contracts.Token, sess.Account)
		balance = v
		return errors.Wrap(err, "read token balance")
	})
	g.Go(func() error {
		v, err := o.ledger.VaultBalance(gctx, contracts.Vault, sess.Account)
		shares = v
		return errors.Wrap(err, "read vault balance")
	})
	g.Go(func() error {
		v, err := o.ledger.TokenAllowance(gctx, contracts.Token, sess.Account, contracts.Vault)
		allowance = v
		return errors.Wrap(err, "read allowance")
	})
	if err := g.Wait(); err != nil {
		return domain.BalanceView{}, err
	}

	view := domain.BalanceView{
		TokenBalance: domain.NewAmount(balance),
		VaultBalance: domain.NewAmount(shares),
		Allowance:    domain.NewAmount(allowance),
		Fresh:        true,
		ReadAt:       time.Now().UTC(),
	}

	o.mu.Lock()
	if o.gen[sess.Account] != startGen {
		view.Fresh = false
		o.mu.Unlock()
		return view, nil
	}
	o.views[sess.Account] = view
	o.mu.Unlock()

	o.publish(events.Update{
		Kind:    events.KindBalances,
		Account: sess.Account.Hex(),
		Fields: map[string]string{
			"token_balance": view.TokenBalance.Display(domain.DefaultDisplayPrecision),
			"vault_balance": view.VaultBalance.Display(domain.DefaultDisplayPrecision),
			"allowance":     view.Allowance.Display(domain.DefaultDisplayPrecision),
		},
	})

	return view, nil
}

func (o *Orchestrator) validate(sess domain.Session, amount string) (domain.Amount, *domain.Contracts, error) {
	value, err := domain.ParseAmount(amount)
	if err != nil {
		return domain.Amount{}, nil, err
	}
	if value.IsZero() {
		return domain.Amount{}, nil, errors.Wrap(domain.ErrInvalidAmount, "amount must be greater than zero")
	}

	contracts, err := sess.RequireContracts()
	if err != nil {
		return domain.Amount{}, nil, err
	}

	return value, contracts, nil
}

// run reserves the surface, executes the action and settles the phase.
func (o *Orchestrator) run(ctx context.Context, sess domain.Session, action string, fn func(op *lifecycle.Op) error) error {
	op, err := o.tracker.Begin(action)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.lastErr = nil
	o.mu.Unlock()

	// phases settle before the deferred release lets another action in
	defer op.End()

	if err := fn(op); err != nil {
		if ctx.Err() != nil && o.pending() {
			// still pending on the ledger; Resume picks it up
			o.setPhase(domain.PhaseConfirming, sess)
			return err
		}
		o.fail(sess, err)
		return err
	}

	if err := o.finish(ctx, sess, op); err != nil {
		o.fail(sess, err)
		return err
	}

	return nil
}

// finish makes the confirmed write visible: invalidate, re-read, then success and idle.
// op is released last, so no other action on the surface can start before idle.
func (o *Orchestrator) finish(ctx context.Context, sess domain.Session, op *lifecycle.Op) error {
	o.invalidate(sess.Account)

	err := o.refresher.Do(ctx, func(ctx context.Context) error {
		view, err := o.Refresh(ctx, sess)
		if err != nil {
			return err
		}
		if !view.Fresh && sess.HasContracts() {
			return errors.New("balance view invalidated during refresh")
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "refresh balances after confirmation")
	}

	o.mu.Lock()
	o.draft = ""
	o.mu.Unlock()

	o.setPhase(domain.PhaseSuccess, sess)
	o.setPhase(domain.PhaseIdle, sess)
	if err := op.Complete(); err != nil {
		o.logger.Warn("could not release confirmed handle", zap.Error(err))
	}

	return nil
}

func (o *Orchestrator) pending() bool {
	h := o.tracker.Status().Handle
	return h != nil && !h.State.Terminal()
}

// confirming switches the phase once the ledger accepted the write.
func (o *Orchestrator) confirming(sess domain.Session, send lifecycle.SendFunc) lifecycle.SendFunc {
	return func(ctx context.Context) (common.Hash, error) {
		hash, err := send(ctx)
		if err == nil {
			o.setPhase(domain.PhaseConfirming, sess)
		}
		return hash, err
	}
}

func (o *Orchestrator) invalidate(account common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.gen[account]++
	if view, ok := o.views[account]; ok {
		view.Fresh = false
		o.views[account] = view
	}
}

func (o *Orchestrator) fail(sess domain.Session, err error) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()

	o.logger.Warn("transfer action failed", zap.String("account", sess.Account.Hex()), zap.Error(err))
	o.setPhase(domain.PhaseFailed, sess)
}

func (o *Orchestrator) setPhase(p domain.Phase, sess domain.Session) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()

	o.publish(events.Update{
		Kind:    events.KindSurface,
		Account: sess.Account.Hex(),
		Fields:  map[string]string{"surface": string(o.tracker.Surface()), "phase": string(p)},
	})
}

func (o *Orchestrator) publish(u events.Update) {
	if o.publisher == nil {
		return
	}
	u.Timestamp = time.Now().UTC()
	o.publisher.Publish(u)
}
