package payments

import (
	"context"
	"fmt"

	"github.com/ghiblify/wallet-middleware/pkg/backend"
)

// payStripe creates a Stripe checkout session and polls it until the
// user completes or abandons the checkout. Credits are granted by the
// backend's Stripe webhook; this handler only confirms.
func (s *paymentService) payStripe(ctx context.Context, address, tier string) (*outcome, error) {
	session, err := s.deps.Backend.CreateCheckoutSession(ctx, tier, address)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	out := &outcome{checkoutURL: session.URL}
	result, err := s.poller.poll(ctx, func(ctx context.Context) (*backend.PaymentResult, error) {
		status, err := s.deps.Backend.GetCheckoutSession(ctx, session.SessionID)
		if err != nil {
			return nil, err
		}
		return checkoutToResult(status), nil
	})
	if err != nil {
		return out, err
	}
	out.result = result
	return out, nil
}

// checkoutToResult maps Stripe session states onto the common payment
// status vocabulary.
func checkoutToResult(status *backend.CheckoutSessionStatus) *backend.PaymentResult {
	switch {
	case status.Status == "complete" && status.PaymentStatus == "paid":
		return &backend.PaymentResult{Status: backend.StatusProcessed, Credits: status.Credits}
	case status.Status == "expired":
		return &backend.PaymentResult{Status: backend.StatusFailed, Message: "checkout session expired"}
	}
	return &backend.PaymentResult{Status: backend.StatusPending}
}
