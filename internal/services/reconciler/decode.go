package reconciler

import (
	"strings"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vadiminshakov/autoyield/internal/clients"
	"github.com/vadiminshakov/autoyield/internal/domain"
)

// decodeEvent maps one Rebalanced log to a domain event. Venue addresses outside
// the table resolve to Unknown rather than failing.
func decodeEvent(l types.Log, table domain.VenueTable) (domain.RebalanceEvent, error) {
	raw, err := clients.DecodeRebalanced(l)
	if err != nil {
		return domain.RebalanceEvent{}, err
	}

	return domain.RebalanceEvent{
		ID:          domain.RebalanceEventID(l.TxHash, l.Index),
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		From:        table.Resolve(raw.OldProtocol),
		To:          table.Resolve(raw.NewProtocol),
		Amount:      domain.NewAmount(raw.Amount),
		FromAPY:     raw.OldAPY,
		ToAPY:       raw.NewAPY,
		TxHash:      l.TxHash,
		Vault:       l.Address,
	}, nil
}

var (
	scopeMarkers  = []string{"block range", "too many", "limit exceeded", "query returned more than", "range is too large"}
	accessMarkers = []string{"not allowed", "forbidden", "unauthorized", "method not found", "not supported", "access denied"}
)

// classify maps a backend failure to a query error kind by its message.
func classify(err error) domain.QueryErrorKind {
	msg := strings.ToLower(err.Error())
	for _, m := range scopeMarkers {
		if strings.Contains(msg, m) {
			return domain.QueryScopeTooLarge
		}
	}
	for _, m := range accessMarkers {
		if strings.Contains(msg, m) {
			return domain.QueryAccessDenied
		}
	}
	return domain.QueryUnavailable
}
