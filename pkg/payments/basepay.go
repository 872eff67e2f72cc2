package payments

import (
	"context"
	"fmt"

	"github.com/ghiblify/wallet-middleware/pkg/backend"
)

// payBasePay initiates a Base Pay payment on the backend and polls its
// status by our payment id. The Base Pay rail settles off this service;
// the backend reports the terminal state.
func (s *paymentService) payBasePay(ctx context.Context, id, address, tier string) (*outcome, error) {
	initial, err := s.deps.Backend.ProcessBasePayment(ctx, id, tier, address)
	if err != nil {
		return nil, fmt.Errorf("initiate base pay: %w", err)
	}

	out := &outcome{txHash: initial.TxHash}
	if initial.Terminal() {
		out.result = initial
		return out, nil
	}

	result, err := s.poller.poll(ctx, func(ctx context.Context) (*backend.PaymentResult, error) {
		return s.deps.Backend.GetBasePaymentStatus(ctx, id)
	})
	if err != nil {
		return out, err
	}
	out.result = result
	if result.TxHash != "" {
		out.txHash = result.TxHash
	}
	return out, nil
}
