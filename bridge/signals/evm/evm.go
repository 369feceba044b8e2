// Package evm reads transaction confirmations straight from chain RPC nodes.
package evm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/failover"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/registry"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/tracker"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "evm").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "evm").Logger()
}

// ReceiptReader is the part of an RPC client needed to count confirmations.
// *ethclient.Client satisfies it.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ ReceiptReader = (*ethclient.Client)(nil)

// Client is a tracker.ConfirmationSource that fails over between the RPC urls of
// each chain.
type Client struct {
	chains  map[string]*failover.List[ReceiptReader]
	closers []func()
}

var _ tracker.ConfirmationSource = (*Client)(nil)

/*
Dial creates RPC clients for every chain of the registry.

Parameters:
  - ctx: used while dialing
  - reg: chains and their rpc urls
  - timeout: bounds one call to one rpc url

Returns:
  - the client, chains without rpc urls are skipped
  - an error if an url cannot be dialed
*/
func Dial(ctx context.Context, reg *registry.Registry, timeout time.Duration) (*Client, error) {
	c := &Client{chains: make(map[string]*failover.List[ReceiptReader])}
	for _, chain := range reg.Chains("") {
		providers := make([]failover.Provider[ReceiptReader], 0, len(chain.RPCURLs))
		for _, url := range chain.RPCURLs {
			client, err := ethclient.DialContext(ctx, url)
			if err != nil {
				c.Close()
				return nil, fmt.Errorf("failed to dial %s rpc %s: %w", chain.Key, url, err)
			}
			c.closers = append(c.closers, client.Close)
			providers = append(providers, failover.Provider[ReceiptReader]{Name: url, Client: client})
		}
		if len(providers) == 0 {
			log.Warn().Str("chain", chain.Key).Msg("Chain has no rpc urls, confirmations unavailable")
			continue
		}
		c.chains[chain.Key] = failover.NewList(timeout, providers...)
	}
	return c, nil
}

// NewClient builds a client from ready readers keyed by chain key.
func NewClient(timeout time.Duration, readers map[string][]failover.Provider[ReceiptReader]) *Client {
	c := &Client{chains: make(map[string]*failover.List[ReceiptReader], len(readers))}
	for key, providers := range readers {
		c.chains[key] = failover.NewList(timeout, providers...)
	}
	return c
}

// Close releases the dialed RPC connections.
func (c *Client) Close() {
	for _, closeFn := range c.closers {
		closeFn()
	}
	c.closers = nil
}

// GetConfirmation counts the blocks on top of the transaction's block, the block
// itself included. A transaction the node does not know yet gives no signal.
func (c *Client) GetConfirmation(
	ctx context.Context,
	txHash string,
	chain registry.ChainInfo,
) (tracker.Confirmation, error) {
	list, ok := c.chains[chain.Key]
	if !ok {
		return tracker.Confirmation{}, fmt.Errorf("no rpc configured for %s", chain.Key)
	}
	hash := common.HexToHash(txHash)

	return failover.Do(ctx, list, func(ctx context.Context, rpc ReceiptReader) (tracker.Confirmation, error) {
		receipt, err := rpc.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return tracker.Confirmation{}, failover.Final(tracker.ErrNoSignal)
		}
		if err != nil {
			return tracker.Confirmation{}, fmt.Errorf("receipt: %w", err)
		}
		if receipt.BlockNumber == nil {
			return tracker.Confirmation{}, failover.Final(tracker.ErrNoSignal)
		}

		head, err := rpc.BlockNumber(ctx)
		if err != nil {
			return tracker.Confirmation{}, fmt.Errorf("block number: %w", err)
		}
		return confirmation(receipt, head, chain.RequiredConfirmations), nil
	})
}

func confirmation(receipt *types.Receipt, head, required uint64) tracker.Confirmation {
	mined := receipt.BlockNumber.Uint64()
	// lagging nodes may report a head below the receipt's block
	count := uint64(1)
	if head >= mined {
		count = head - mined + 1
	}
	return tracker.Confirmation{
		Confirmed:  count >= required,
		Reverted:   receipt.Status == types.ReceiptStatusFailed,
		BlockCount: count,
		Required:   required,
	}
}
