package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// Contracts is the set of deployed contracts on one chain.
type Contracts struct {
	Token    common.Address
	Aave     common.Address
	Compound common.Address
	Vault    common.Address
}

// Complete reports whether every address is set.
func (c *Contracts) Complete() bool {
	if c == nil {
		return false
	}
	zero := common.Address{}
	return c.Token != zero && c.Aave != zero && c.Compound != zero && c.Vault != zero
}

// VenueAddress returns the contract of the given venue.
func (c *Contracts) VenueAddress(v Venue) (common.Address, error) {
	if !c.Complete() {
		return common.Address{}, ErrContractsUnavailable
	}
	switch v {
	case VenueAave:
		return c.Aave, nil
	case VenueCompound:
		return c.Compound, nil
	default:
		return common.Address{}, ErrUnknownVenue
	}
}

// Session carries who is acting and against which ledger. Every orchestrator,
// reader and reconciler call takes one explicitly.
type Session struct {
	Account  common.Address
	ChainID  uint64
	Endpoint string
	// Contracts is nil when the chain has no deployment entry.
	Contracts *Contracts
	// TestControls enables minting and APY overrides.
	TestControls bool
}

// HasContracts reports whether the session can reach a full deployment.
func (s Session) HasContracts() bool {
	return s.Contracts.Complete()
}

// RequireContracts returns the deployment or ErrContractsUnavailable.
func (s Session) RequireContracts() (*Contracts, error) {
	if !s.Contracts.Complete() {
		return nil, ErrContractsUnavailable
	}
	return s.Contracts, nil
}

// RequireTestControls rejects sessions without the test capability.
func (s Session) RequireTestControls() error {
	if !s.TestControls {
		return ErrTestControlsDisabled
	}
	return nil
}
