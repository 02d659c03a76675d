package domain

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RebalanceEvent is one decoded Rebalanced log entry. It is never mutated after decoding.
type RebalanceEvent struct {
	ID          string         `json:"id"`
	BlockNumber uint64         `json:"block_number"`
	LogIndex    uint           `json:"log_index"`
	Timestamp   time.Time      `json:"timestamp"`
	From        VenueRef       `json:"from"`
	To          VenueRef       `json:"to"`
	Amount      Amount         `json:"amount"`
	FromAPY     *big.Int       `json:"from_apy_bps"`
	ToAPY       *big.Int       `json:"to_apy_bps"`
	TxHash      common.Hash    `json:"tx_hash"`
	Vault       common.Address `json:"vault"`
}

// RebalanceEventID derives the unique id of a log entry.
func RebalanceEventID(tx common.Hash, logIndex uint) string {
	return fmt.Sprintf("%s-%d", tx.Hex(), logIndex)
}

// SortMostRecentFirst orders events by ledger insertion order, newest first.
func SortMostRecentFirst(events []RebalanceEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber > events[j].BlockNumber
		}
		return events[i].LogIndex > events[j].LogIndex
	})
}

// HistorySource tells where a history came from.
type HistorySource string

const (
	HistoryLive        HistorySource = "live"
	HistoryCache       HistorySource = "cache"
	HistoryPlaceholder HistorySource = "placeholder"
)

// History is the result of a history fetch. Err carries the query failure when
// the events came from a fallback.
type History struct {
	Events []RebalanceEvent `json:"events"`
	Source HistorySource    `json:"source"`
	Err    *QueryError      `json:"-"`
}

// Degraded reports whether the live query failed.
func (h History) Degraded() bool {
	return h.Err != nil
}
