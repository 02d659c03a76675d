package clients

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/autoyield/internal/domain"
)

const defaultReceiptPoll = 500 * time.Millisecond

// EthClient talks to an EVM node over JSON-RPC and signs writes with local keys.
type EthClient struct {
	rpc         *ethclient.Client
	chainID     *big.Int
	keys        map[common.Address]*ecdsa.PrivateKey
	accounts    []common.Address
	sendMu      sync.Mutex
	receiptPoll time.Duration
	logger      *zap.Logger
}

// ParsePrivateKey decodes a hex key with or without 0x prefix and derives its address.
func ParsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, common.Address, error) {
	key := strings.TrimSpace(privateKeyHex)
	if len(key) >= 2 && (key[:2] == "0x" || key[:2] == "0X") {
		key = key[2:]
	}

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, common.Address{}, errors.Wrap(err, "decode private key")
	}

	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, common.Address{}, errors.New("error casting public key to ECDSA")
	}

	return privateKey, crypto.PubkeyToAddress(*pub), nil
}

// NewEthClient dials the node. A zero chainID is resolved by asking the node.
func NewEthClient(ctx context.Context, endpoint string, chainID uint64, privateKeys []string, logger *zap.Logger) (*EthClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	rpc, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", endpoint)
	}

	id := new(big.Int).SetUint64(chainID)
	if chainID == 0 {
		id, err = rpc.ChainID(ctx)
		if err != nil {
			rpc.Close()
			return nil, errors.Wrap(err, "query chain id")
		}
	}

	c := &EthClient{
		rpc:         rpc,
		chainID:     id,
		keys:        make(map[common.Address]*ecdsa.PrivateKey, len(privateKeys)),
		receiptPoll: defaultReceiptPoll,
		logger:      logger.With(zap.String("component", "eth_client")),
	}

	for _, raw := range privateKeys {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		key, addr, err := ParsePrivateKey(raw)
		if err != nil {
			rpc.Close()
			return nil, err
		}
		if _, exists := c.keys[addr]; !exists {
			c.accounts = append(c.accounts, addr)
		}
		c.keys[addr] = key
	}

	return c, nil
}

// ChainID returns the chain the client signs for.
func (c *EthClient) ChainID() uint64 {
	return c.chainID.Uint64()
}

// Accounts returns the addresses the client can sign for, in configuration order.
func (c *EthClient) Accounts() []common.Address {
	return append([]common.Address(nil), c.accounts...)
}

// Close releases the RPC connection.
func (c *EthClient) Close() {
	c.rpc.Close()
}

func (c *EthClient) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}

	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s on %s", method, to.Hex())
	}

	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}

	return values, nil
}

func (c *EthClient) callUint(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	values, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, errors.Errorf("%s returned %d values", method, len(values))
	}

	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("%s returned %T", method, values[0])
	}

	return v, nil
}

// TokenBalance reads balanceOf(owner).
func (c *EthClient) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.callUint(ctx, TokenABI, token, "balanceOf", owner)
}

// TokenAllowance reads allowance(owner, spender).
func (c *EthClient) TokenAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, TokenABI, token, "allowance", owner, spender)
}

// TokenSupply reads totalSupply().
func (c *EthClient) TokenSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	return c.callUint(ctx, TokenABI, token, "totalSupply")
}

// VaultBalance reads getBalance(user).
func (c *EthClient) VaultBalance(ctx context.Context, vault, user common.Address) (*big.Int, error) {
	return c.callUint(ctx, VaultABI, vault, "getBalance", user)
}

// TotalAssets reads totalAssets().
func (c *EthClient) TotalAssets(ctx context.Context, vault common.Address) (*big.Int, error) {
	return c.callUint(ctx, VaultABI, vault, "totalAssets")
}

// CurrentProtocolInfo reads getCurrentProtocolInfo().
func (c *EthClient) CurrentProtocolInfo(ctx context.Context, vault common.Address) (domain.ProtocolInfo, error) {
	values, err := c.call(ctx, VaultABI, vault, "getCurrentProtocolInfo")
	if err != nil {
		return domain.ProtocolInfo{}, err
	}
	if len(values) != 3 {
		return domain.ProtocolInfo{}, errors.Errorf("getCurrentProtocolInfo returned %d values", len(values))
	}

	name, okName := values[0].(string)
	apy, okAPY := values[1].(*big.Int)
	balance, okBalance := values[2].(*big.Int)
	if !okName || !okAPY || !okBalance {
		return domain.ProtocolInfo{}, errors.New("getCurrentProtocolInfo returned unexpected types")
	}

	return domain.ProtocolInfo{Name: name, APY: apy, Balance: domain.NewAmount(balance)}, nil
}

// ProtocolAPYs reads getProtocolAPYs().
func (c *EthClient) ProtocolAPYs(ctx context.Context, vault common.Address) (*big.Int, *big.Int, error) {
	values, err := c.call(ctx, VaultABI, vault, "getProtocolAPYs")
	if err != nil {
		return nil, nil, err
	}
	if len(values) != 2 {
		return nil, nil, errors.Errorf("getProtocolAPYs returned %d values", len(values))
	}

	aave, okAave := values[0].(*big.Int)
	compound, okCompound := values[1].(*big.Int)
	if !okAave || !okCompound {
		return nil, nil, errors.New("getProtocolAPYs returned unexpected types")
	}

	return aave, compound, nil
}

// Approve submits approve(spender, amount) on the token.
func (c *EthClient) Approve(ctx context.Context, from, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, from, TokenABI, token, "approve", spender, amount)
}

// Deposit submits deposit(amount) on the vault.
func (c *EthClient) Deposit(ctx context.Context, from, vault common.Address, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, from, VaultABI, vault, "deposit", amount)
}

// Withdraw submits withdraw(amount) on the vault.
func (c *EthClient) Withdraw(ctx context.Context, from, vault common.Address, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, from, VaultABI, vault, "withdraw", amount)
}

// ManualRebalance submits manualRebalance() on the vault.
func (c *EthClient) ManualRebalance(ctx context.Context, from, vault common.Address) (common.Hash, error) {
	return c.transact(ctx, from, VaultABI, vault, "manualRebalance")
}

// SetAPY submits setAPY(bps) on a venue mock.
func (c *EthClient) SetAPY(ctx context.Context, from, venue common.Address, bps *big.Int) (common.Hash, error) {
	return c.transact(ctx, from, VenueABI, venue, "setAPY", bps)
}

// Mint submits mint(to, amount) on the test token.
func (c *EthClient) Mint(ctx context.Context, from, token, to common.Address, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, from, TokenABI, token, "mint", to, amount)
}

func (c *EthClient) transact(ctx context.Context, from common.Address, contract abi.ABI, to common.Address, method string, args ...interface{}) (common.Hash, error) {
	key, ok := c.keys[from]
	if !ok {
		return common.Hash{}, errors.Wrap(domain.ErrNoSigner, from.Hex())
	}

	data, err := contract.Pack(method, args...)
	if err != nil {
		return common.Hash{}, errors.Wrapf(err, "pack %s", method)
	}

	// nonce assignment and broadcast must not interleave for the same key
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pending nonce")
	}

	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "suggest gas price")
	}

	gas, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, errors.Wrapf(err, "estimate gas for %s", method)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign transaction")
	}

	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrapf(err, "send %s", method)
	}

	c.logger.Debug("transaction sent",
		zap.String("method", method),
		zap.String("hash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce))

	return signed.Hash(), nil
}

// WaitMined polls for the receipt until the transaction is included or ctx ends.
// A failed receipt yields a *domain.RevertError carrying the node's reason when available.
func (c *EthClient) WaitMined(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return c.receiptResult(ctx, hash, receipt)
		case errors.Is(err, ethereum.NotFound):
		default:
			c.logger.Warn("receipt lookup failed", zap.String("hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReceiptStatus checks once whether the transaction is mined and how it ended.
func (c *EthClient) ReceiptStatus(ctx context.Context, hash common.Hash) (bool, error) {
	receipt, err := c.rpc.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "receipt lookup")
	}

	return true, c.receiptResult(ctx, hash, receipt)
}

func (c *EthClient) receiptResult(ctx context.Context, hash common.Hash, receipt *types.Receipt) error {
	if receipt.Status == types.ReceiptStatusSuccessful {
		return nil
	}
	return &domain.RevertError{Reason: c.revertReason(ctx, hash, receipt.BlockNumber)}
}

// revertReason replays the call at the inclusion block to recover the node's message.
func (c *EthClient) revertReason(ctx context.Context, hash common.Hash, block *big.Int) string {
	tx, _, err := c.rpc.TransactionByHash(ctx, hash)
	if err != nil {
		return ""
	}

	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return ""
	}

	_, err = c.rpc.CallContract(ctx, ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}, block)
	if err == nil {
		return ""
	}

	return err.Error()
}

// FilterLogs runs an eth_getLogs query.
func (c *EthClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.rpc.FilterLogs(ctx, q)
}

// BlockTime returns the timestamp of block n.
func (c *EthClient) BlockTime(ctx context.Context, n uint64) (time.Time, error) {
	header, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "header %d", n)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// HeadBlock returns the latest block number.
func (c *EthClient) HeadBlock(ctx context.Context) (uint64, error) {
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "block number")
	}
	return n, nil
}
