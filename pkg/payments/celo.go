package payments

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/ghiblify/wallet-middleware/pkg/autoconnect"
	"github.com/ghiblify/wallet-middleware/pkg/backend"
	"github.com/ghiblify/wallet-middleware/pkg/pricing"
	"github.com/ghiblify/wallet-middleware/pkg/provider"
)

// payCelo purchases credits with cUSD on Celo. The wallet must be on the
// Celo chain; the contract pulls the cUSD and the backend watches for
// the purchase event.
func (s *paymentService) payCelo(ctx context.Context, address, tier string) (*outcome, error) {
	if err := s.ensureNetwork(ctx, address, autoconnect.NetworkCelo); err != nil {
		return nil, err
	}

	calldata, err := s.deps.CeloPayments.PurchaseCalldata(pricing.ContractTier(tier))
	if err != nil {
		return nil, fmt.Errorf("pack purchase calldata: %w", err)
	}

	txHash, err := provider.SendTransaction(ctx, s.deps.Provider, provider.TxParams{
		From: address,
		To:   s.deps.CeloPayments.Address().Hex(),
		Data: hexutil.Encode(calldata),
	})
	if err != nil {
		return nil, err
	}
	out := &outcome{txHash: txHash}

	if err := s.guardFreshTx(ctx, txHash); err != nil {
		return out, err
	}
	if _, err := s.deps.CeloClient.WaitForReceipt(ctx, common.HexToHash(txHash)); err != nil {
		return out, err
	}

	result, err := s.poller.poll(ctx, func(ctx context.Context) (*backend.PaymentResult, error) {
		return s.deps.Backend.CheckCeloPayment(ctx, txHash, address)
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

// ensureNetwork validates the wallet's active chain, switching it when
// it is on the wrong one.
func (s *paymentService) ensureNetwork(ctx context.Context, address string, network autoconnect.Network) error {
	ok, err := s.deps.Networks.ValidateNetwork(ctx, network)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if !s.deps.Networks.SwitchNetwork(ctx, address, network) {
		return paymentErr("", CodeWrongNetwork,
			fmt.Errorf("wallet is not on %s and switching failed", network))
	}
	return nil
}

// guardFreshTx rejects a transaction hash that already granted credits.
func (s *paymentService) guardFreshTx(ctx context.Context, txHash string) error {
	seen, err := s.dedup.seen(ctx, txHash)
	if err != nil {
		s.logger.Warn("processed-tx lookup failed", zap.Error(err))
		return nil
	}
	if seen {
		return paymentErr("", CodeAlreadyProcessed,
			fmt.Errorf("transaction %s already processed", txHash))
	}
	return nil
}

func (s *paymentService) markProcessedTx(ctx context.Context, txHash string) {
	if err := s.dedup.mark(ctx, txHash); err != nil {
		s.logger.Warn("failed to mark transaction processed", zap.Error(err))
	}
}
