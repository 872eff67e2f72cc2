package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// SignInInput is the signInWithEthereum capability request: the wallet
// builds and signs the sign-in message itself.
type SignInInput struct {
	Nonce   string `json:"nonce"`
	ChainID string `json:"chainId"`
}

// SignInOutput is the wallet-produced sign-in message and signature.
type SignInOutput struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// ConnectParams is the wallet_connect parameter shape.
type ConnectParams struct {
	Version      string              `json:"version"`
	Capabilities ConnectCapabilities `json:"capabilities,omitempty"`
}

// ConnectCapabilities lists the optional capabilities requested during
// wallet_connect.
type ConnectCapabilities struct {
	SignInWithEthereum *SignInInput `json:"signInWithEthereum,omitempty"`
}

// ConnectedAccount is one account returned by wallet_connect.
type ConnectedAccount struct {
	Address      string              `json:"address"`
	Capabilities AccountCapabilities `json:"capabilities"`
}

// AccountCapabilities holds the per-account capability results.
type AccountCapabilities struct {
	SignInWithEthereum *SignInOutput `json:"signInWithEthereum,omitempty"`
}

// ConnectResult is the wallet_connect response shape.
type ConnectResult struct {
	Accounts []ConnectedAccount `json:"accounts"`
}

// WalletConnect probes the wallet_connect capability. Wallets without it
// return a method-not-found error and callers fall back to
// eth_requestAccounts plus personal_sign.
func WalletConnect(ctx context.Context, p Provider, params ConnectParams) (*ConnectResult, error) {
	raw, err := p.Request(ctx, "wallet_connect", params)
	if err != nil {
		return nil, err
	}
	var result ConnectResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode wallet_connect result: %w", err)
	}
	if len(result.Accounts) == 0 {
		return nil, fmt.Errorf("wallet_connect returned no accounts")
	}
	return &result, nil
}
