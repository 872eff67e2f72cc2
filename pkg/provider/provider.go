// Package provider bridges EIP-1193 style wallet requests to a wallet
// provider endpoint over JSON-RPC. Signing happens in the user's wallet;
// this middleware never holds private keys.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Provider is the EIP-1193 request surface used by the connection and
// payment services.
type Provider interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// ChainDescriptor is the wallet_addEthereumChain parameter shape.
type ChainDescriptor struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls"`
}

// NativeCurrency describes a chain's gas token.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// TxParams is the eth_sendTransaction parameter shape. Values are hex
// encoded per the provider RPC convention.
type TxParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Data  string `json:"data,omitempty"`
	Value string `json:"value,omitempty"`
	Gas   string `json:"gas,omitempty"`
}

var _ Provider = (*Client)(nil)

// Client talks to a wallet bridge endpoint over JSON-RPC.
type Client struct {
	rpc     *rpc.Client
	timeout time.Duration
	logger  *zap.Logger
}

// Dial connects to the wallet provider endpoint. Requests without a
// deadline get timeout applied; wallet prompts wait on a human, so this
// should be generous.
func Dial(ctx context.Context, rawurl string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("dial wallet provider %s: %w", rawurl, err)
	}
	return &Client{rpc: c, timeout: timeout, logger: logger}, nil
}

// NewClient wraps an existing JSON-RPC client.
func NewClient(c *rpc.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{rpc: c, logger: logger}
}

// Request issues a raw provider request.
func (c *Client) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if c.timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
	}

	var result json.RawMessage
	if err := c.rpc.CallContext(ctx, &result, method, params...); err != nil {
		c.logger.Debug("provider request failed",
			zap.String("method", method),
			zap.Error(err),
		)
		return nil, err
	}
	return result, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// RequestAccounts runs eth_requestAccounts and returns the exposed
// account addresses.
func RequestAccounts(ctx context.Context, p Provider) ([]string, error) {
	raw, err := p.Request(ctx, "eth_requestAccounts")
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

// PersonalSign signs message with the wallet key for address.
func PersonalSign(ctx context.Context, p Provider, message, address string) (string, error) {
	raw, err := p.Request(ctx, "personal_sign", message, address)
	if err != nil {
		return "", err
	}
	var signature string
	if err := json.Unmarshal(raw, &signature); err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	return signature, nil
}

// ChainID returns the wallet's currently active chain id.
func ChainID(ctx context.Context, p Provider) (int64, error) {
	raw, err := p.Request(ctx, "eth_chainId")
	if err != nil {
		return 0, err
	}
	var hexID string
	if err := json.Unmarshal(raw, &hexID); err != nil {
		return 0, fmt.Errorf("decode chain id: %w", err)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(hexID, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chain id %q: %w", hexID, err)
	}
	return id, nil
}

// SwitchChain asks the wallet to change its active chain.
func SwitchChain(ctx context.Context, p Provider, chainIDHex string) error {
	_, err := p.Request(ctx, "wallet_switchEthereumChain",
		map[string]string{"chainId": chainIDHex})
	return err
}

// AddChain registers a chain descriptor with the wallet.
func AddChain(ctx context.Context, p Provider, chain ChainDescriptor) error {
	_, err := p.Request(ctx, "wallet_addEthereumChain", chain)
	return err
}

// SendTransaction submits a transaction through the wallet and returns
// the transaction hash.
func SendTransaction(ctx context.Context, p Provider, tx TxParams) (string, error) {
	raw, err := p.Request(ctx, "eth_sendTransaction", tx)
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", fmt.Errorf("decode tx hash: %w", err)
	}
	return hash, nil
}

// ChainIDHex formats a numeric chain id as the 0x-prefixed hex string
// used by wallet RPC methods.
func ChainIDHex(id int64) string {
	return "0x" + strconv.FormatInt(id, 16)
}
