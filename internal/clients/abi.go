package clients

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

const vaultABIJSON = `[
{"type":"function","name":"deposit","inputs":[{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"withdraw","inputs":[{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"getBalance","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"totalAssets","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"getCurrentProtocolInfo","inputs":[],"outputs":[{"name":"name","type":"string"},{"name":"apy","type":"uint256"},{"name":"balance","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"getProtocolAPYs","inputs":[],"outputs":[{"name":"aaveAPY","type":"uint256"},{"name":"compoundAPY","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"currentProtocol","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
{"type":"function","name":"manualRebalance","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
{"type":"event","name":"Rebalanced","anonymous":false,"inputs":[
{"name":"oldProtocol","type":"address","indexed":true},
{"name":"newProtocol","type":"address","indexed":true},
{"name":"amount","type":"uint256","indexed":false},
{"name":"oldAPY","type":"uint256","indexed":false},
{"name":"newAPY","type":"uint256","indexed":false}]}
]`

const tokenABIJSON = `[
{"type":"function","name":"mint","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
{"type":"function","name":"allowance","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
{"type":"function","name":"totalSupply","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

const venueABIJSON = `[
{"type":"function","name":"getAPY","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"setAPY","inputs":[{"name":"newAPY","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
{"type":"function","name":"getName","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"pure"}
]`

// RebalancedEventName is the vault event recording a move between venues.
const RebalancedEventName = "Rebalanced"

var (
	VaultABI = mustParseABI(vaultABIJSON)
	TokenABI = mustParseABI(tokenABIJSON)
	VenueABI = mustParseABI(venueABIJSON)

	// RebalancedTopic is the first topic of every Rebalanced log.
	RebalancedTopic = VaultABI.Events[RebalancedEventName].ID
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// RebalancedLog holds the raw fields of a Rebalanced log entry.
type RebalancedLog struct {
	OldProtocol common.Address
	NewProtocol common.Address
	Amount      *big.Int
	OldAPY      *big.Int
	NewAPY      *big.Int
}

// DecodeRebalanced unpacks a Rebalanced log: two indexed addresses in the topics
// and three uint256 values in the data.
func DecodeRebalanced(l types.Log) (RebalancedLog, error) {
	if len(l.Topics) != 3 {
		return RebalancedLog{}, errors.Errorf("rebalanced log has %d topics, want 3", len(l.Topics))
	}
	if l.Topics[0] != RebalancedTopic {
		return RebalancedLog{}, errors.Errorf("log topic %s is not Rebalanced", l.Topics[0].Hex())
	}

	fields := make(map[string]interface{})
	if err := VaultABI.UnpackIntoMap(fields, RebalancedEventName, l.Data); err != nil {
		return RebalancedLog{}, errors.Wrap(err, "unpack rebalanced data")
	}

	out := RebalancedLog{
		OldProtocol: common.BytesToAddress(l.Topics[1][:]),
		NewProtocol: common.BytesToAddress(l.Topics[2][:]),
	}

	var ok bool
	if out.Amount, ok = fields["amount"].(*big.Int); !ok {
		return RebalancedLog{}, errors.New("rebalanced amount is not uint256")
	}
	if out.OldAPY, ok = fields["oldAPY"].(*big.Int); !ok {
		return RebalancedLog{}, errors.New("rebalanced oldAPY is not uint256")
	}
	if out.NewAPY, ok = fields["newAPY"].(*big.Int); !ok {
		return RebalancedLog{}, errors.New("rebalanced newAPY is not uint256")
	}

	return out, nil
}

// EncodeRebalanced builds the log a vault emits for a move. Used by the simulated ledger.
func EncodeRebalanced(vault common.Address, ev RebalancedLog) (types.Log, error) {
	data, err := VaultABI.Events[RebalancedEventName].Inputs.NonIndexed().Pack(ev.Amount, ev.OldAPY, ev.NewAPY)
	if err != nil {
		return types.Log{}, errors.Wrap(err, "pack rebalanced data")
	}

	return types.Log{
		Address: vault,
		Topics: []common.Hash{
			RebalancedTopic,
			common.BytesToHash(ev.OldProtocol.Bytes()),
			common.BytesToHash(ev.NewProtocol.Bytes()),
		},
		Data: data,
	}, nil
}
