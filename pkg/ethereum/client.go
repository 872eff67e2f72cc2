// Package ethereum provides read-only chain access for the supported
// EVM networks. Transactions are signed and submitted by the user's
// wallet through the provider bridge; this client only reads state,
// waits on receipts and watches payment events.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/ghiblify/wallet-middleware/pkg/config"
	"github.com/ghiblify/wallet-middleware/pkg/ethereum/contracts"
)

// ErrTxFailed is returned when a mined transaction reverted.
var ErrTxFailed = errors.New("transaction reverted")

// Client represents a single-network Ethereum client
type Client struct {
	config *config.ChainConfig
	client *ethclient.Client
	logger *zap.Logger
}

// NewClient creates a new Ethereum client for one network
func NewClient(cfg *config.ChainConfig, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}

	logger.Info("Connected to Ethereum",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("rpc_url", cfg.RPCURL))

	return &Client{
		config: cfg,
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Ethereum client
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() int64 {
	return c.config.ChainID
}

// Backend exposes the underlying client for contract bindings.
func (c *Client) Backend() bind.ContractBackend {
	return c.client
}

// WatchStartBlock returns the block an event watcher should start from:
// the configured lookback behind head, clamped at genesis. A lookback of
// zero starts at head.
func (c *Client) WatchStartBlock(head uint64) uint64 {
	lookback := c.config.LookbackBlocks
	if lookback <= 0 {
		return head
	}
	if head <= uint64(lookback) {
		return 0
	}
	return head - uint64(lookback)
}

// GetLatestBlockNumber gets the latest block number
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return header.Number.Uint64(), nil
}

// WaitForReceipt polls until the transaction is mined and has the
// configured number of confirmations. Returns ErrTxFailed for a
// reverted transaction.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	interval := c.config.PollingInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, ErrTxFailed
			}
			confirmed, err := c.hasConfirmations(ctx, receipt)
			if err != nil {
				c.logger.Warn("Failed to check confirmations", zap.Error(err))
			} else if confirmed {
				return receipt, nil
			}
		} else if !errors.Is(err, ethereum.NotFound) {
			c.logger.Warn("Failed to fetch receipt",
				zap.String("tx_hash", txHash.Hex()),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) hasConfirmations(ctx context.Context, receipt *types.Receipt) (bool, error) {
	if c.config.ConfirmationBlocks <= 1 {
		return true, nil
	}
	latest, err := c.GetLatestBlockNumber(ctx)
	if err != nil {
		return false, err
	}
	confirmations := latest - receipt.BlockNumber.Uint64() + 1
	return confirmations >= uint64(c.config.ConfirmationBlocks), nil
}

// WatchCreditsPurchased polls for CreditsPurchased events on the
// payments contract (uses polling for HTTP RPC compatibility)
func (c *Client) WatchCreditsPurchased(
	ctx context.Context,
	payments *contracts.Payments,
	fromBlock uint64,
	handler func(*contracts.CreditsPurchasedEvent) error,
) error {
	c.logger.Info("Starting credits purchase event poller",
		zap.Uint64("from_block", fromBlock),
		zap.String("contract", payments.Address().Hex()))

	currentBlock := fromBlock
	interval := c.config.PollingInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			latestBlock, err := c.GetLatestBlockNumber(ctx)
			if err != nil {
				c.logger.Warn("Failed to get latest block", zap.Error(err))
				continue
			}

			if latestBlock <= currentBlock {
				continue
			}

			logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(currentBlock + 1),
				ToBlock:   new(big.Int).SetUint64(latestBlock),
				Addresses: []common.Address{payments.Address()},
				Topics:    [][]common.Hash{{payments.CreditsPurchasedTopic()}},
			})
			if err != nil {
				c.logger.Warn("Failed to filter purchase events", zap.Error(err))
				continue
			}

			for _, log := range logs {
				event, err := payments.ParseCreditsPurchased(log)
				if err != nil {
					c.logger.Warn("Failed to decode purchase event",
						zap.String("tx_hash", log.TxHash.Hex()),
						zap.Error(err))
					continue
				}
				if err := handler(event); err != nil {
					c.logger.Error("Failed to handle purchase event",
						zap.Error(err),
						zap.String("tx_hash", log.TxHash.Hex()))
				}
			}

			currentBlock = latestBlock
		}
	}
}
