package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// TxState is the lifecycle state of one submitted write.
type TxState string

const (
	TxIdle                TxState = "idle"
	TxSubmitted           TxState = "submitted"
	TxPendingConfirmation TxState = "pending_confirmation"
	TxConfirmed           TxState = "confirmed"
	TxFailed              TxState = "failed"
)

// Terminal reports whether no further transition can happen.
func (s TxState) Terminal() bool {
	return s == TxConfirmed || s == TxFailed
}

// TxKind names the contract call behind a handle.
type TxKind string

const (
	TxApprove   TxKind = "approve"
	TxDeposit   TxKind = "deposit"
	TxWithdraw  TxKind = "withdraw"
	TxMint      TxKind = "mint"
	TxRebalance TxKind = "manual_rebalance"
	TxSetAPY    TxKind = "set_apy"
)

// Surface identifies an independent action area. Each surface serializes its own writes.
type Surface string

const (
	SurfaceTransfer Surface = "transfer"
	SurfaceControls Surface = "controls"
)

// ParseSurface accepts a surface name as shown to users.
func ParseSurface(s string) (Surface, error) {
	switch Surface(strings.ToLower(strings.TrimSpace(s))) {
	case SurfaceTransfer:
		return SurfaceTransfer, nil
	case SurfaceControls:
		return SurfaceControls, nil
	}
	return "", errors.Wrapf(ErrUnknownSurface, "%q", s)
}

// TxHandle is the tracked state of one write.
type TxHandle struct {
	ID        string      `json:"id"`
	Surface   Surface     `json:"surface"`
	Kind      TxKind      `json:"kind"`
	State     TxState     `json:"state"`
	Hash      common.Hash `json:"hash"`
	Error     string      `json:"error,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
	// Acknowledged hides a stuck pending handle. It never releases the surface.
	Acknowledged bool `json:"acknowledged,omitempty"`
}

// Phase is the user-visible state of the transfer surface.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseApproving   Phase = "approving"
	PhaseDepositing  Phase = "depositing"
	PhaseWithdrawing Phase = "withdrawing"
	PhaseMinting     Phase = "minting"
	PhaseConfirming  Phase = "confirming"
	PhaseSuccess     Phase = "success"
	PhaseFailed      Phase = "failed"
)
