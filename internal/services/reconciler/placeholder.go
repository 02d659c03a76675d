package reconciler

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vadiminshakov/autoyield/internal/domain"
)

type placeholderEntry struct {
	from, to    domain.Venue
	amount      string
	fromAPY     int64
	toAPY       int64
	at          time.Time
	txHash      string
	blockNumber uint64
}

// most recent first
var placeholderEntries = []placeholderEntry{
	{from: domain.VenueCompound, to: domain.VenueAave, amount: "50000", fromAPY: 420, toAPY: 580,
		at: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), txHash: "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef", blockNumber: 3},
	{from: domain.VenueAave, to: domain.VenueCompound, amount: "25000", fromAPY: 390, toAPY: 470,
		at: time.Date(2024, 1, 12, 14, 45, 0, 0, time.UTC), txHash: "0xabcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890", blockNumber: 2},
	{from: domain.VenueCompound, to: domain.VenueAave, amount: "75000", fromAPY: 310, toAPY: 450,
		at: time.Date(2024, 1, 8, 9, 15, 0, 0, time.UTC), txHash: "0x9876543210fedcba9876543210fedcba9876543210fedcba9876543210fedcba", blockNumber: 1},
}

// PlaceholderHistory is the static demo history shown when nothing better is available.
// It never touches the ledger and is never empty.
func PlaceholderHistory() []domain.RebalanceEvent {
	out := make([]domain.RebalanceEvent, 0, len(placeholderEntries))
	for _, e := range placeholderEntries {
		hash := common.HexToHash(e.txHash)
		out = append(out, domain.RebalanceEvent{
			ID:          domain.RebalanceEventID(hash, 0),
			BlockNumber: e.blockNumber,
			Timestamp:   e.at,
			From:        domain.VenueRef{Known: true, Name: e.from.DisplayName()},
			To:          domain.VenueRef{Known: true, Name: e.to.DisplayName()},
			Amount:      domain.MustParseAmount(e.amount),
			FromAPY:     big.NewInt(e.fromAPY),
			ToAPY:       big.NewInt(e.toAPY),
			TxHash:      hash,
		})
	}
	return out
}
