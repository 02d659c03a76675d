package clients

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/autoyield/internal/domain"
)

const (
	// rebalanceThresholdBps is the APY spread the vault needs before moving funds.
	rebalanceThresholdBps = 100
	simBlockInterval      = 12 * time.Second
)

var (
	simGenesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	defaultAaveAPY     = big.NewInt(500)
	defaultCompoundAPY = big.NewInt(400)
)

// SimCall is one write received by the simulated ledger.
type SimCall struct {
	Method string
	From   common.Address
	To     common.Address
	Args   []*big.Int
	Hash   common.Hash
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type simTx struct {
	call  SimCall
	apply func() error
	done  chan struct{}
	err   error
	mined bool
}

// SimulatedLedger is an in-memory ledger with the behavior of the deployed mock contracts.
// Writes are mined on submission unless manual mining is enabled.
type SimulatedLedger struct {
	mu sync.Mutex

	contracts  domain.Contracts
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
	supply     *big.Int
	shares     map[common.Address]*big.Int
	venueFunds map[common.Address]*big.Int
	apys       map[common.Address]*big.Int
	active     common.Address

	head    uint64
	logs    []types.Log
	txs     map[common.Hash]*simTx
	queue   []*simTx
	calls   []SimCall
	nonce   uint64
	manual  bool
	logsErr error
	sendErr map[string]error
}

// NewSimulatedLedger creates a ledger for the given deployment with funds parked in Aave.
func NewSimulatedLedger(contracts domain.Contracts) *SimulatedLedger {
	return &SimulatedLedger{
		contracts:  contracts,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		supply:     new(big.Int),
		shares:     make(map[common.Address]*big.Int),
		venueFunds: map[common.Address]*big.Int{
			contracts.Aave:     new(big.Int),
			contracts.Compound: new(big.Int),
		},
		apys: map[common.Address]*big.Int{
			contracts.Aave:     new(big.Int).Set(defaultAaveAPY),
			contracts.Compound: new(big.Int).Set(defaultCompoundAPY),
		},
		active:  contracts.Aave,
		txs:     make(map[common.Hash]*simTx),
		sendErr: make(map[string]error),
	}
}

// SetManualMining queues writes until Mine is called.
func (l *SimulatedLedger) SetManualMining(manual bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.manual = manual
}

// FailLogQueries makes FilterLogs return err. Nil clears the fault.
func (l *SimulatedLedger) FailLogQueries(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logsErr = err
}

// FailSubmissions makes writes of the given method fail at submission. Nil clears the fault.
func (l *SimulatedLedger) FailSubmissions(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.sendErr, method)
		return
	}
	l.sendErr[method] = err
}

// Calls returns every accepted write in submission order.
func (l *SimulatedLedger) Calls() []SimCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SimCall(nil), l.calls...)
}

// CallCount counts accepted writes of a method.
func (l *SimulatedLedger) CallCount(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, c := range l.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Pending returns the number of queued, unmined writes.
func (l *SimulatedLedger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Mine includes every queued write in one new block.
func (l *SimulatedLedger) Mine() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return
	}
	l.head++
	for _, tx := range l.queue {
		l.include(tx)
	}
	l.queue = nil
}

// include applies tx in the current head block. Caller holds the lock.
func (l *SimulatedLedger) include(tx *simTx) {
	logsBefore := len(l.logs)
	if err := tx.apply(); err != nil {
		tx.err = &domain.RevertError{Reason: err.Error(), Cause: err}
		l.logs = l.logs[:logsBefore]
	}
	for i := logsBefore; i < len(l.logs); i++ {
		l.logs[i].TxHash = tx.call.Hash
	}
	tx.mined = true
	close(tx.done)
}

// EmitRebalance appends a Rebalanced log in a new block without touching balances.
func (l *SimulatedLedger) EmitRebalance(ev RebalancedLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.head++
	hash := l.nextHash()
	if err := l.emit(ev); err != nil {
		return err
	}
	l.logs[len(l.logs)-1].TxHash = hash
	return nil
}

func (l *SimulatedLedger) emit(ev RebalancedLog) error {
	entry, err := EncodeRebalanced(l.contracts.Vault, ev)
	if err != nil {
		return err
	}

	var index uint
	for i := len(l.logs) - 1; i >= 0 && l.logs[i].BlockNumber == l.head; i-- {
		index++
	}
	entry.BlockNumber = l.head
	entry.Index = index
	l.logs = append(l.logs, entry)

	return nil
}

func (l *SimulatedLedger) nextHash() common.Hash {
	l.nonce++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], l.nonce)
	return crypto.Keccak256Hash([]byte("autoyield-sim"), buf[:])
}

func (l *SimulatedLedger) submit(method string, from, to common.Address, args []*big.Int, apply func() error) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.sendErr[method]; err != nil {
		return common.Hash{}, err
	}

	copied := make([]*big.Int, len(args))
	for i, a := range args {
		copied[i] = new(big.Int).Set(a)
	}

	call := SimCall{Method: method, From: from, To: to, Args: copied, Hash: l.nextHash()}
	tx := &simTx{call: call, apply: apply, done: make(chan struct{})}
	l.calls = append(l.calls, call)
	l.txs[call.Hash] = tx

	if l.manual {
		l.queue = append(l.queue, tx)
	} else {
		l.head++
		l.include(tx)
	}

	return call.Hash, nil
}

func (l *SimulatedLedger) get(m map[common.Address]*big.Int, addr common.Address) *big.Int {
	if v, ok := m[addr]; ok {
		return v
	}
	v := new(big.Int)
	m[addr] = v
	return v
}

func (l *SimulatedLedger) other(venue common.Address) common.Address {
	if venue == l.contracts.Aave {
		return l.contracts.Compound
	}
	return l.contracts.Aave
}

func (l *SimulatedLedger) venueName(venue common.Address) string {
	if venue == l.contracts.Compound {
		return domain.VenueCompound.DisplayName()
	}
	return domain.VenueAave.DisplayName()
}

// TokenBalance reads balanceOf(owner).
func (l *SimulatedLedger) TokenBalance(_ context.Context, _ common.Address, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.get(l.balances, owner)), nil
}

// TokenAllowance reads allowance(owner, spender).
func (l *SimulatedLedger) TokenAllowance(_ context.Context, _ common.Address, owner, spender common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.allowances[allowanceKey{owner: owner, spender: spender}]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

// TokenSupply reads totalSupply().
func (l *SimulatedLedger) TokenSupply(_ context.Context, _ common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.supply), nil
}

// VaultBalance reads getBalance(user).
func (l *SimulatedLedger) VaultBalance(_ context.Context, _ common.Address, user common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.get(l.shares, user)), nil
}

// TotalAssets reads totalAssets().
func (l *SimulatedLedger) TotalAssets(_ context.Context, _ common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Add(l.get(l.venueFunds, l.contracts.Aave), l.get(l.venueFunds, l.contracts.Compound)), nil
}

// CurrentProtocolInfo reads getCurrentProtocolInfo().
func (l *SimulatedLedger) CurrentProtocolInfo(_ context.Context, _ common.Address) (domain.ProtocolInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return domain.ProtocolInfo{
		Name:    l.venueName(l.active),
		APY:     new(big.Int).Set(l.get(l.apys, l.active)),
		Balance: domain.NewAmount(l.get(l.venueFunds, l.active)),
	}, nil
}

// ProtocolAPYs reads getProtocolAPYs().
func (l *SimulatedLedger) ProtocolAPYs(_ context.Context, _ common.Address) (*big.Int, *big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return new(big.Int).Set(l.get(l.apys, l.contracts.Aave)),
		new(big.Int).Set(l.get(l.apys, l.contracts.Compound)), nil
}

// Approve replaces the allowance of spender over from's tokens.
func (l *SimulatedLedger) Approve(_ context.Context, from, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	value := new(big.Int).Set(amount)
	return l.submit("approve", from, token, []*big.Int{amount}, func() error {
		l.allowances[allowanceKey{owner: from, spender: spender}] = value
		return nil
	})
}

// Deposit pulls amount through the vault's allowance into the active venue.
func (l *SimulatedLedger) Deposit(_ context.Context, from, vault common.Address, amount *big.Int) (common.Hash, error) {
	value := new(big.Int).Set(amount)
	return l.submit("deposit", from, vault, []*big.Int{amount}, func() error {
		if value.Sign() == 0 {
			return errors.New("amount must be greater than 0")
		}
		key := allowanceKey{owner: from, spender: vault}
		allowance := l.allowances[key]
		if allowance == nil || allowance.Cmp(value) < 0 {
			return domain.ErrInsufficientAllowance
		}
		balance := l.get(l.balances, from)
		if balance.Cmp(value) < 0 {
			return domain.ErrInsufficientBalance
		}

		balance.Sub(balance, value)
		allowance.Sub(allowance, value)
		shares := l.get(l.shares, from)
		shares.Add(shares, value)
		funds := l.get(l.venueFunds, l.active)
		funds.Add(funds, value)
		return nil
	})
}

// Withdraw returns amount from the active venue to the user.
func (l *SimulatedLedger) Withdraw(_ context.Context, from, vault common.Address, amount *big.Int) (common.Hash, error) {
	value := new(big.Int).Set(amount)
	return l.submit("withdraw", from, vault, []*big.Int{amount}, func() error {
		shares := l.get(l.shares, from)
		if shares.Cmp(value) < 0 {
			return domain.ErrInsufficientVaultBalance
		}

		shares.Sub(shares, value)
		funds := l.get(l.venueFunds, l.active)
		funds.Sub(funds, value)
		balance := l.get(l.balances, from)
		balance.Add(balance, value)
		return nil
	})
}

// ManualRebalance moves all funds to the other venue when its APY leads by more than the threshold.
func (l *SimulatedLedger) ManualRebalance(_ context.Context, from, vault common.Address) (common.Hash, error) {
	return l.submit("manualRebalance", from, vault, nil, func() error {
		current := l.active
		next := l.other(current)
		currentAPY := l.get(l.apys, current)
		nextAPY := l.get(l.apys, next)

		threshold := new(big.Int).Add(currentAPY, big.NewInt(rebalanceThresholdBps))
		if nextAPY.Cmp(threshold) <= 0 {
			return nil
		}

		moved := new(big.Int).Set(l.get(l.venueFunds, current))
		l.venueFunds[current] = new(big.Int)
		dst := l.get(l.venueFunds, next)
		dst.Add(dst, moved)
		l.active = next

		return l.emit(RebalancedLog{
			OldProtocol: current,
			NewProtocol: next,
			Amount:      moved,
			OldAPY:      new(big.Int).Set(currentAPY),
			NewAPY:      new(big.Int).Set(nextAPY),
		})
	})
}

// SetAPY overrides a venue's rate in basis points.
func (l *SimulatedLedger) SetAPY(_ context.Context, from, venue common.Address, bps *big.Int) (common.Hash, error) {
	value := new(big.Int).Set(bps)
	return l.submit("setAPY", from, venue, []*big.Int{bps}, func() error {
		if _, ok := l.apys[venue]; !ok {
			return errors.Errorf("%s is not a venue", venue.Hex())
		}
		l.apys[venue] = value
		return nil
	})
}

// Mint credits amount test tokens to an account.
func (l *SimulatedLedger) Mint(_ context.Context, from, token, to common.Address, amount *big.Int) (common.Hash, error) {
	value := new(big.Int).Set(amount)
	return l.submit("mint", from, token, []*big.Int{amount}, func() error {
		balance := l.get(l.balances, to)
		balance.Add(balance, value)
		l.supply.Add(l.supply, value)
		return nil
	})
}

// WaitMined blocks until the write is mined or ctx ends.
func (l *SimulatedLedger) WaitMined(ctx context.Context, hash common.Hash) error {
	l.mu.Lock()
	tx, ok := l.txs[hash]
	l.mu.Unlock()
	if !ok {
		return ethereum.NotFound
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tx.done:
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return tx.err
}

// ReceiptStatus reports without blocking whether the write is mined and how it ended.
func (l *SimulatedLedger) ReceiptStatus(_ context.Context, hash common.Hash) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.txs[hash]
	if !ok {
		return false, ethereum.NotFound
	}
	if !tx.mined {
		return false, nil
	}
	return true, tx.err
}

// FilterLogs returns matching logs in chain order.
func (l *SimulatedLedger) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logsErr != nil {
		return nil, l.logsErr
	}

	var out []types.Log
	for _, entry := range l.logs {
		if q.FromBlock != nil && entry.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && entry.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if !matchAddress(q.Addresses, entry.Address) || !matchTopics(q.Topics, entry.Topics) {
			continue
		}
		out = append(out, entry)
	}

	return out, nil
}

func matchAddress(want []common.Address, got common.Address) bool {
	if len(want) == 0 {
		return true
	}
	for _, a := range want {
		if a == got {
			return true
		}
	}
	return false
}

func matchTopics(want [][]common.Hash, got []common.Hash) bool {
	for i, options := range want {
		if len(options) == 0 {
			continue
		}
		if i >= len(got) {
			return false
		}
		found := false
		for _, t := range options {
			if t == got[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// BlockTime derives a block's timestamp from a fixed genesis and block interval.
func (l *SimulatedLedger) BlockTime(_ context.Context, n uint64) (time.Time, error) {
	return simGenesis.Add(time.Duration(n) * simBlockInterval), nil
}

// HeadBlock returns the latest block number.
func (l *SimulatedLedger) HeadBlock(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head, nil
}
