package internal

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vadiminshakov/autoyield/config"
	"github.com/vadiminshakov/autoyield/internal/clients"
	"github.com/vadiminshakov/autoyield/internal/domain"
	"github.com/vadiminshakov/autoyield/internal/services/reconciler"
)

// Ledger is everything the application asks of a ledger client.
type Ledger interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	TokenSupply(ctx context.Context, token common.Address) (*big.Int, error)
	VaultBalance(ctx context.Context, vault, user common.Address) (*big.Int, error)
	TotalAssets(ctx context.Context, vault common.Address) (*big.Int, error)
	CurrentProtocolInfo(ctx context.Context, vault common.Address) (domain.ProtocolInfo, error)
	ProtocolAPYs(ctx context.Context, vault common.Address) (*big.Int, *big.Int, error)

	Approve(ctx context.Context, from, token, spender common.Address, amount *big.Int) (common.Hash, error)
	Deposit(ctx context.Context, from, vault common.Address, amount *big.Int) (common.Hash, error)
	Withdraw(ctx context.Context, from, vault common.Address, amount *big.Int) (common.Hash, error)
	ManualRebalance(ctx context.Context, from, vault common.Address) (common.Hash, error)
	SetAPY(ctx context.Context, from, venue common.Address, bps *big.Int) (common.Hash, error)
	Mint(ctx context.Context, from, token, to common.Address, amount *big.Int) (common.Hash, error)

	WaitMined(ctx context.Context, hash common.Hash) error
	ReceiptStatus(ctx context.Context, hash common.Hash) (bool, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockTime(ctx context.Context, n uint64) (time.Time, error)
	HeadBlock(ctx context.Context) (uint64, error)
}

// ledgerProvider adapts one ledger backend to the application.
type ledgerProvider interface {
	Ledger() Ledger
	ChainID() uint64
	Account() common.Address
	Timestamps(cfg config.HistoryConfig) reconciler.TimestampSource
	// Durable reports whether ledger state survives a restart, which is what
	// makes journals and caches meaningful.
	Durable() bool
	Close()
}

// newLedgerProvider dispatches on the client type.
func newLedgerProvider(client any, cfg config.Config) (ledgerProvider, error) {
	switch c := client.(type) {
	case *clients.EthClient:
		return &ethProvider{client: c}, nil
	case *clients.SimulatedLedger:
		chainID := cfg.ChainID
		if chainID == 0 {
			chainID = config.AnvilChainID
		}
		return &simulateProvider{client: c, chainID: chainID}, nil
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
}

type ethProvider struct {
	client *clients.EthClient
}

func (p *ethProvider) Ledger() Ledger  { return p.client }
func (p *ethProvider) ChainID() uint64 { return p.client.ChainID() }
func (p *ethProvider) Durable() bool   { return true }
func (p *ethProvider) Close()          { p.client.Close() }

// Account is the first configured signer, or the zero address for a read-only session.
func (p *ethProvider) Account() common.Address {
	accounts := p.client.Accounts()
	if len(accounts) == 0 {
		return common.Address{}
	}
	return accounts[0]
}

func (p *ethProvider) Timestamps(cfg config.HistoryConfig) reconciler.TimestampSource {
	if cfg.Timestamps == config.TimestampsApproximate {
		return reconciler.NewApproximateTimestamps(p.client, cfg.BlockTime)
	}
	return reconciler.NewBlockTimestamps(p.client)
}

// simulatedAccount is the first Anvil development account.
var simulatedAccount = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

type simulateProvider struct {
	client  *clients.SimulatedLedger
	chainID uint64
}

func (p *simulateProvider) Ledger() Ledger          { return p.client }
func (p *simulateProvider) ChainID() uint64         { return p.chainID }
func (p *simulateProvider) Account() common.Address { return simulatedAccount }
func (p *simulateProvider) Durable() bool           { return false }
func (p *simulateProvider) Close()                  {}

// Timestamps are exact in simulation; the ledger derives them from a fixed genesis.
func (p *simulateProvider) Timestamps(config.HistoryConfig) reconciler.TimestampSource {
	return reconciler.NewBlockTimestamps(p.client)
}
