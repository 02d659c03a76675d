package domain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Venue is one of the lending protocols the vault can hold funds in.
type Venue string

const (
	VenueAave     Venue = "aave"
	VenueCompound Venue = "compound"
)

// Venues lists the supported venues in display order.
var Venues = []Venue{VenueAave, VenueCompound}

// ParseVenue accepts a venue name in any case.
func ParseVenue(s string) (Venue, error) {
	switch Venue(strings.ToLower(strings.TrimSpace(s))) {
	case VenueAave:
		return VenueAave, nil
	case VenueCompound:
		return VenueCompound, nil
	default:
		return "", errors.Wrapf(ErrUnknownVenue, "%q", s)
	}
}

// DisplayName is the name shown for a venue in history and overview output.
func (v Venue) DisplayName() string {
	switch v {
	case VenueAave:
		return "Aave"
	case VenueCompound:
		return "Compound"
	default:
		return string(v)
	}
}

// VenueInfo is a read-only projection of one venue's state.
type VenueInfo struct {
	Name    string   `json:"name"`
	APY     *big.Int `json:"apy_bps"`
	Balance Amount   `json:"balance"`
}

// VenueRef is the result of resolving a venue address: either Known with a name or Unknown.
type VenueRef struct {
	Known   bool           `json:"known"`
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
}

// UnknownVenueName is rendered for addresses outside the venue table.
const UnknownVenueName = "Unknown"

// Label returns the name to render.
func (r VenueRef) Label() string {
	if !r.Known {
		return UnknownVenueName
	}
	return r.Name
}

// VenueTable is a closed lookup from venue contract address to display name.
type VenueTable struct {
	names map[common.Address]string
}

// NewVenueTable builds the table from the configured venue contracts.
// Zero addresses are skipped so a missing deployment never resolves.
func NewVenueTable(c *Contracts) VenueTable {
	t := VenueTable{names: make(map[common.Address]string, 2)}
	if c == nil {
		return t
	}
	if c.Aave != (common.Address{}) {
		t.names[c.Aave] = VenueAave.DisplayName()
	}
	if c.Compound != (common.Address{}) {
		t.names[c.Compound] = VenueCompound.DisplayName()
	}
	return t
}

// Resolve returns Known(name) for a table address and Unknown otherwise.
func (t VenueTable) Resolve(addr common.Address) VenueRef {
	if name, ok := t.names[addr]; ok {
		return VenueRef{Known: true, Name: name, Address: addr}
	}
	return VenueRef{Address: addr}
}
