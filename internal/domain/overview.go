package domain

import (
	"math/big"
	"time"
)

// ProtocolInfo is the vault's view of the active venue.
type ProtocolInfo struct {
	Name    string
	APY     *big.Int
	Balance Amount
}

// VaultOverview is one read of the vault and its venues.
// Available is false when the session has no deployment; all values are then zero.
type VaultOverview struct {
	Available   bool        `json:"available"`
	UserBalance Amount      `json:"user_balance"`
	TotalAssets Amount      `json:"total_assets"`
	TokenSupply Amount      `json:"token_supply"`
	Active      VenueInfo   `json:"active"`
	Venues      []VenueInfo `json:"venues"`
	ReadAt      time.Time   `json:"read_at"`
}

// APYOf returns the rate of the named venue, or nil.
func (o VaultOverview) APYOf(v Venue) *big.Int {
	for _, info := range o.Venues {
		if info.Name == v.DisplayName() {
			return info.APY
		}
	}
	return nil
}

// BalanceView holds the reads that depend on the transfer surface's writes.
// Fresh is false between a confirmation and the next successful refresh.
type BalanceView struct {
	TokenBalance Amount    `json:"token_balance"`
	VaultBalance Amount    `json:"vault_balance"`
	Allowance    Amount    `json:"allowance"`
	Fresh        bool      `json:"fresh"`
	ReadAt       time.Time `json:"read_at"`
}

// OverviewSnapshot is a persisted poll result with trend data.
type OverviewSnapshot struct {
	Timestamp   time.Time         `json:"ts"`
	ChainID     uint64            `json:"chain_id"`
	Vault       string            `json:"vault"`
	TotalAssets string            `json:"total_assets"`
	ActiveVenue string            `json:"active_venue"`
	APYs        map[string]string `json:"apys"`
	APYTrend    map[string]string `json:"apy_trend,omitempty"`
}

// OverviewSnapshotRecord pairs a snapshot with its storage index.
type OverviewSnapshotRecord struct {
	Index    uint64
	Snapshot OverviewSnapshot
}
