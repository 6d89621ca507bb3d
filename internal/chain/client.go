// Package chain submits deployments to an EVM network.
//
// EthClient signs and sends contract-creation transactions through any
// Backend (an *ethclient.Client in production) and polls for receipts.
// DryRun predicts addresses without touching a network.
//
// Every error returned by Deploy and AwaitConfirmation wraps exactly one of
// ir.ErrTransient, ir.ErrRejected or ir.ErrReorgOrTimeout. A timeout also
// wraps ir.ErrDropped when the node no longer knows the transaction.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/roach88/deploydag/internal/ir"
)

// Backend is the subset of *ethclient.Client the deployer uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Options tune an EthClient. Zero values pick the defaults.
type Options struct {
	// ChainID overrides the id reported by the backend.
	ChainID *big.Int

	// GasLimit fixes the gas of every deployment; 0 estimates per call.
	GasLimit uint64

	ConfirmTimeout time.Duration // default 2m
	PollInterval   time.Duration // default 2s
}

const (
	defaultConfirmTimeout = 2 * time.Minute
	defaultPollInterval   = 2 * time.Second
)

// EthClient deploys contracts from a single key.
type EthClient struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  types.Signer
	opts    Options

	// mu serializes nonce allocation and submission.
	mu          sync.Mutex
	nonce       uint64
	nonceLoaded bool
}

// Dial connects to rpcURL and returns a client signing with keyHex.
func Dial(ctx context.Context, rpcURL, keyHex string, opts Options) (*EthClient, error) {
	key, err := ParseKey(keyHex)
	if err != nil {
		return nil, err
	}
	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return NewEthClient(ctx, backend, key, opts)
}

// ParseKey decodes a hex private key, with or without 0x.
func ParseKey(keyHex string) (*ecdsa.PrivateKey, error) {
	if keyHex == "" {
		return nil, errors.New("private key is not configured")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// NewEthClient wraps a backend. The chain id is read from the backend
// unless opts.ChainID is set.
func NewEthClient(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, opts Options) (*EthClient, error) {
	chainID := opts.ChainID
	if chainID == nil {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("lookup chain id: %w", err)
		}
		chainID = id
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = defaultConfirmTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	return &EthClient{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(chainID),
		opts:    opts,
	}, nil
}

// Address returns the deployer address.
func (c *EthClient) Address() common.Address {
	return c.from
}

// Balance returns the deployer's balance in wei.
func (c *EthClient) Balance(ctx context.Context) (*big.Int, error) {
	return c.backend.BalanceAt(ctx, c.from, nil)
}

// Deploy links, encodes, signs and sends one contract creation. The
// returned address is derived from the sender and nonce.
func (c *EthClient) Deploy(ctx context.Context, call ir.DeployCall) (ir.Submission, error) {
	code, err := LinkBytecode(call.Unit, call.Libraries)
	if err != nil {
		return ir.Submission{}, fmt.Errorf("%w: %w", ir.ErrRejected, err)
	}
	packed, err := PackConstructor(call.Unit.Constructor, call.Args)
	if err != nil {
		return ir.Submission{}, fmt.Errorf("%w: %s: %w", ir.ErrRejected, call.Name, err)
	}
	data := append(code, packed...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.nonceLoaded {
		n, err := c.backend.PendingNonceAt(ctx, c.from)
		if err != nil {
			return ir.Submission{}, classify("pending nonce", err)
		}
		c.nonce, c.nonceLoaded = n, true
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return ir.Submission{}, classify("suggest gas price", err)
	}

	gas := c.opts.GasLimit
	if gas == 0 {
		gas, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, GasPrice: gasPrice, Data: data})
		if err != nil {
			return ir.Submission{}, classify("estimate gas", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    c.nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		Data:     data,
	})
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return ir.Submission{}, fmt.Errorf("%w: sign: %w", ir.ErrRejected, err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		// The pool may know better than our counter; refetch next time.
		c.nonceLoaded = false
		return ir.Submission{}, classify("send transaction", err)
	}

	addr := crypto.CreateAddress(c.from, c.nonce)
	c.nonce++

	slog.Debug("deployment sent",
		"unit", call.Name,
		"tx", signed.Hash().Hex(),
		"nonce", signed.Nonce(),
		"gas", gas,
	)
	return ir.Submission{Address: addr.Hex(), TxHash: signed.Hash().Hex()}, nil
}

// AwaitConfirmation polls for the receipt of txHash. A reverted receipt is
// ErrRejected; no receipt within the confirm timeout is ErrReorgOrTimeout,
// joined by ErrDropped if the transaction is gone from the node.
func (c *EthClient) AwaitConfirmation(ctx context.Context, txHash string) error {
	hash := common.HexToHash(txHash)

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("%w: transaction %s reverted (gas used %d)", ir.ErrRejected, txHash, receipt.GasUsed)
			}
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			slog.Debug("receipt poll failed", "tx", txHash, "error", err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.dropped(ctx, hash) {
				return fmt.Errorf("%w: %w: transaction %s is no longer known to the node", ir.ErrReorgOrTimeout, ir.ErrDropped, txHash)
			}
			return fmt.Errorf("%w: transaction %s not mined within %s", ir.ErrReorgOrTimeout, txHash, c.opts.ConfirmTimeout)
		case <-ticker.C:
		}
	}
}

// dropped reports whether the node has forgotten hash. The nonce counter is
// reloaded so a resubmission reuses the freed nonce.
func (c *EthClient) dropped(ctx context.Context, hash common.Hash) bool {
	_, _, err := c.backend.TransactionByHash(ctx, hash)
	if !errors.Is(err, ethereum.NotFound) {
		return false
	}
	c.mu.Lock()
	c.nonceLoaded = false
	c.mu.Unlock()
	return true
}

// Messages from nodes that mean "try again", even though they arrive as
// JSON-RPC errors.
var transientMessages = []string{
	"nonce too low",
	"already known",
	"underpriced",
	"replacement transaction",
	"timeout",
	"too many requests",
	"rate limit",
	"header not found",
}

// classify sorts a backend error into the transient or rejected class.
// Revert data and other JSON-RPC errors are rejections; transport
// failures and the messages above are transient.
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %s: %w", ir.ErrTransient, op, err)
		}
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return fmt.Errorf("%w: %s: %w", ir.ErrRejected, op, err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) || strings.Contains(msg, "execution reverted") {
		return fmt.Errorf("%w: %s: %w", ir.ErrRejected, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ir.ErrTransient, op, err)
}
