package payments

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ghiblify/wallet-middleware/pkg/autoconnect"
	"github.com/ghiblify/wallet-middleware/pkg/backend"
	"github.com/ghiblify/wallet-middleware/pkg/pricing"
	"github.com/ghiblify/wallet-middleware/pkg/provider"
)

// payToken purchases credits with $GHIBLIFY on Base. The on-chain
// package price is authoritative; an approve transaction runs first when
// the contract's allowance does not cover it.
func (s *paymentService) payToken(ctx context.Context, address, tier string) (*outcome, error) {
	if !s.deps.Oracle.IsPriceStable(ctx) {
		return nil, paymentErr(string(pricing.MethodToken), CodePriceUnstable,
			fmt.Errorf("token price moved too much in the last 24h"))
	}
	if err := s.ensureNetwork(ctx, address, autoconnect.NetworkBase); err != nil {
		return nil, err
	}

	contractTier := pricing.ContractTier(tier)
	price, err := s.deps.TokenPayments.GetTokenPackagePrice(ctx, contractTier)
	if err != nil {
		return nil, fmt.Errorf("read package price: %w", err)
	}

	owner := common.HexToAddress(address)
	spender := s.deps.TokenPayments.Address()

	balance, err := s.deps.Token.BalanceOf(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("read token balance: %w", err)
	}
	if balance.Cmp(price) < 0 {
		return nil, paymentErr(string(pricing.MethodToken), CodeInsufficientFunds,
			fmt.Errorf("balance %s below package price %s", balance, price))
	}

	allowance, err := s.deps.Token.Allowance(ctx, owner, spender)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Cmp(price) < 0 {
		if err := s.approve(ctx, address, spender, price); err != nil {
			return nil, err
		}
	}

	calldata, err := s.deps.TokenPayments.PurchaseWithGhiblifyCalldata(contractTier)
	if err != nil {
		return nil, fmt.Errorf("pack purchase calldata: %w", err)
	}
	txHash, err := provider.SendTransaction(ctx, s.deps.Provider, provider.TxParams{
		From: address,
		To:   spender.Hex(),
		Data: hexutil.Encode(calldata),
	})
	if err != nil {
		return nil, err
	}
	out := &outcome{txHash: txHash}

	if err := s.guardFreshTx(ctx, txHash); err != nil {
		return out, err
	}
	if _, err := s.deps.BaseClient.WaitForReceipt(ctx, common.HexToHash(txHash)); err != nil {
		return out, err
	}

	if _, err := s.deps.Backend.ProcessTokenPayment(ctx, txHash, address, tier); err != nil {
		return out, fmt.Errorf("submit token payment: %w", err)
	}

	result, err := s.poller.poll(ctx, func(ctx context.Context) (*backend.PaymentResult, error) {
		return s.deps.Backend.CheckTokenPayment(ctx, txHash, address)
	})
	if err != nil {
		return out, err
	}
	out.result = result

	if result.Status == backend.StatusProcessed {
		s.markProcessedTx(ctx, txHash)
	}
	return out, nil
}

// approve grants the payments contract a token allowance covering the
// package price and waits for it to confirm.
func (s *paymentService) approve(ctx context.Context, address string, spender common.Address, amount *big.Int) error {
	calldata, err := s.deps.Token.ApproveCalldata(spender, amount)
	if err != nil {
		return fmt.Errorf("pack approve calldata: %w", err)
	}
	txHash, err := provider.SendTransaction(ctx, s.deps.Provider, provider.TxParams{
		From: address,
		To:   s.deps.Token.Address().Hex(),
		Data: hexutil.Encode(calldata),
	})
	if err != nil {
		return err
	}
	if _, err := s.deps.BaseClient.WaitForReceipt(ctx, common.HexToHash(txHash)); err != nil {
		return fmt.Errorf("approve transaction: %w", err)
	}
	return nil
}
