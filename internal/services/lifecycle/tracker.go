package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/autoyield/internal/domain"
	"github.com/vadiminshakov/autoyield/internal/metrics"
)

type receiptWaiter interface {
	WaitMined(ctx context.Context, hash common.Hash) error
	ReceiptStatus(ctx context.Context, hash common.Hash) (bool, error)
}

type journal interface {
	Save(handle domain.TxHandle) error
	Unfinished(surface domain.Surface) ([]domain.TxHandle, error)
}

// SendFunc submits one write and returns its transaction hash.
type SendFunc func(ctx context.Context) (common.Hash, error)

// Status is a non-blocking view of a surface.
type Status struct {
	Surface domain.Surface   `json:"surface"`
	Action  string           `json:"action,omitempty"`
	Busy    bool             `json:"busy"`
	Handle  *domain.TxHandle `json:"handle,omitempty"`
	// Acknowledged is set when the user hid a pending handle. The surface stays reserved.
	Acknowledged bool `json:"acknowledged"`
}

// Tracker owns the single transaction handle of one surface.
// A surface is reserved while an operation runs or its handle is not terminal.
type Tracker struct {
	surface domain.Surface
	waiter  receiptWaiter
	journal journal
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	busy   bool
	action string
	handle *domain.TxHandle
}

// NewTracker creates a tracker. The journal is optional.
func NewTracker(surface domain.Surface, waiter receiptWaiter, j journal, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Tracker{
		surface: surface,
		waiter:  waiter,
		journal: j,
		logger:  logger.With(zap.String("surface", string(surface))),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Surface returns the surface the tracker guards.
func (t *Tracker) Surface() domain.Surface {
	return t.surface
}

// Status never blocks on the ledger.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := Status{
		Surface: t.surface,
		Action:  t.action,
		Busy:    t.busy,
	}
	if t.handle != nil {
		h := *t.handle
		st.Handle = &h
		st.Acknowledged = h.Acknowledged
	}

	return st
}

// Reserved reports whether a new action would be rejected.
func (t *Tracker) Reserved() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.reservedLocked()
}

func (t *Tracker) reservedLocked() bool {
	return t.busy || (t.handle != nil && !t.handle.State.Terminal())
}

// Begin reserves the surface for one user action.
func (t *Tracker) Begin(action string) (*Op, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.reservedLocked() {
		return nil, errors.Wrapf(domain.ErrSurfaceBusy, "%s", t.surface)
	}

	t.busy = true
	t.action = action

	return &Op{t: t}, nil
}

// Dismiss acknowledges a terminal handle and returns the surface to idle.
func (t *Tracker) Dismiss() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handle == nil {
		return nil
	}
	if !t.handle.State.Terminal() || t.busy {
		return domain.ErrHandleInFlight
	}

	t.handle = nil

	return nil
}

// Acknowledge hides a stuck pending handle from the surface's status without releasing it.
// The acknowledgement is journaled, so a restart keeps the handle hidden.
func (t *Tracker) Acknowledge() error {
	t.mu.Lock()
	if t.handle == nil || t.handle.State.Terminal() {
		t.mu.Unlock()
		return errors.Wrapf(domain.ErrNothingPending, "%s", t.surface)
	}
	t.handle.Acknowledged = true
	h := *t.handle
	t.mu.Unlock()

	t.journalSave(h)
	return nil
}

// Resume waits again for a handle left pending by a cancelled wait or a restart.
// When there was something to wait for, the returned Op still holds the surface
// and the caller must End or Complete it. Otherwise the Op is nil.
func (t *Tracker) Resume(ctx context.Context) (domain.TxHandle, *Op, error) {
	t.mu.Lock()
	if t.busy {
		t.mu.Unlock()
		return domain.TxHandle{}, nil, errors.Wrapf(domain.ErrSurfaceBusy, "%s", t.surface)
	}
	if t.handle == nil || t.handle.State.Terminal() || t.handle.Hash == (common.Hash{}) {
		var h domain.TxHandle
		if t.handle != nil {
			h = *t.handle
		}
		t.mu.Unlock()
		return h, nil, nil
	}
	t.busy = true
	t.action = "resume"
	handle := *t.handle
	t.mu.Unlock()

	h, err := t.await(ctx, handle)
	return h, &Op{t: t}, err
}

// Recover reloads journaled handles of this surface that never reached a terminal state.
// Mined ones are settled; the newest still pending one keeps the surface reserved.
func (t *Tracker) Recover(ctx context.Context) error {
	if t.journal == nil {
		return nil
	}

	unfinished, err := t.journal.Unfinished(t.surface)
	if err != nil {
		return errors.Wrap(err, "load unfinished handles")
	}

	for _, h := range unfinished {
		if h.Hash == (common.Hash{}) {
			h.State = domain.TxFailed
			h.Error = "interrupted before submission"
			t.record(h)
			continue
		}

		mined, err := t.waiter.ReceiptStatus(ctx, h.Hash)
		switch {
		case mined && err == nil:
			h.State = domain.TxConfirmed
			t.record(h)
			t.logger.Info("recovered confirmed transaction", zap.String("hash", h.Hash.Hex()))
		case mined:
			h.State = domain.TxFailed
			h.Error = err.Error()
			t.record(h)
			t.logger.Warn("recovered reverted transaction", zap.String("hash", h.Hash.Hex()), zap.Error(err))
		default:
			if err != nil {
				t.logger.Warn("receipt check failed during recovery", zap.String("hash", h.Hash.Hex()), zap.Error(err))
			}
			h.State = domain.TxPendingConfirmation
			t.mu.Lock()
			t.handle = &h
			t.mu.Unlock()
			t.logger.Info("transaction still pending after restart", zap.String("hash", h.Hash.Hex()))
		}
	}

	return nil
}

func (t *Tracker) release() {
	t.mu.Lock()
	t.busy = false
	t.action = ""
	t.mu.Unlock()
}

// record stores the handle as the surface's current one and journals it.
func (t *Tracker) record(h domain.TxHandle) {
	h.UpdatedAt = t.now()
	if h.State.Terminal() {
		h.Acknowledged = false
	}

	t.mu.Lock()
	copied := h
	t.handle = &copied
	t.mu.Unlock()

	t.journalSave(h)
}

func (t *Tracker) journalSave(h domain.TxHandle) {
	if t.journal == nil {
		return
	}
	if err := t.journal.Save(h); err != nil {
		t.logger.Warn("failed to journal transaction handle", zap.String("id", h.ID), zap.Error(err))
	}
}

func (t *Tracker) await(ctx context.Context, h domain.TxHandle) (domain.TxHandle, error) {
	err := t.waiter.WaitMined(ctx, h.Hash)
	if err != nil && ctx.Err() != nil {
		// the write is irrevocable: keep it pending and the surface reserved
		t.logger.Info("stopped waiting for confirmation", zap.String("hash", h.Hash.Hex()), zap.Error(ctx.Err()))
		return h, ctx.Err()
	}

	if err != nil {
		h.State = domain.TxFailed
		h.Error = err.Error()
		t.record(h)
		metrics.TransactionsTotal.WithLabelValues(string(t.surface), string(h.Kind), string(domain.TxFailed)).Inc()
		t.logger.Warn("transaction failed", zap.String("kind", string(h.Kind)), zap.String("hash", h.Hash.Hex()), zap.Error(err))
		return h, err
	}

	h.State = domain.TxConfirmed
	h.Error = ""
	t.record(h)
	metrics.TransactionsTotal.WithLabelValues(string(t.surface), string(h.Kind), string(domain.TxConfirmed)).Inc()
	t.logger.Info("transaction confirmed", zap.String("kind", string(h.Kind)), zap.String("hash", h.Hash.Hex()))

	return h, nil
}

// Op is one reserved user action. It may submit several writes in sequence.
type Op struct {
	t     *Tracker
	ended bool
}

// Submit sends one write and waits for its confirmation.
// If ctx ends while waiting the handle stays pending and ctx.Err() is returned.
func (o *Op) Submit(ctx context.Context, kind domain.TxKind, send SendFunc) (domain.TxHandle, error) {
	t := o.t

	t.mu.RLock()
	inFlight := o.ended || (t.handle != nil && !t.handle.State.Terminal())
	t.mu.RUnlock()
	if inFlight {
		return domain.TxHandle{}, errors.Wrapf(domain.ErrSurfaceBusy, "%s", t.surface)
	}

	h := domain.TxHandle{
		ID:      uuid.New().String(),
		Surface: t.surface,
		Kind:    kind,
		State:   domain.TxIdle,
	}
	t.record(h)

	hash, err := send(ctx)
	if err != nil {
		h.State = domain.TxFailed
		h.Error = err.Error()
		t.record(h)
		metrics.TransactionsTotal.WithLabelValues(string(t.surface), string(kind), string(domain.TxFailed)).Inc()
		t.logger.Warn("transaction submission failed", zap.String("kind", string(kind)), zap.Error(err))
		return h, &domain.SubmissionError{Kind: kind, Cause: err}
	}

	h.Hash = hash
	h.State = domain.TxSubmitted
	t.record(h)

	h.State = domain.TxPendingConfirmation
	t.record(h)

	return t.await(ctx, h)
}

// End releases the reservation taken by Begin. A pending handle keeps the surface reserved.
func (o *Op) End() {
	if o.ended {
		return
	}
	o.ended = true
	o.t.release()
}

// Complete clears a confirmed handle and releases the reservation atomically.
// Call it once every read that depends on the write has been refreshed.
func (o *Op) Complete() error {
	if o.ended {
		return nil
	}

	t := o.t
	t.mu.Lock()
	defer t.mu.Unlock()

	o.ended = true
	t.busy = false
	t.action = ""

	switch {
	case t.handle == nil:
	case !t.handle.State.Terminal():
		return domain.ErrHandleInFlight
	case t.handle.State == domain.TxConfirmed:
		t.handle = nil
	}

	return nil
}
