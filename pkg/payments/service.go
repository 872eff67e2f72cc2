// Package payments orchestrates credit purchases across Stripe, Celo
// cUSD, Base Pay and the $GHIBLIFY token. Every method runs the same
// pipeline: validate preconditions, invoke the payment primitive, poll
// the backend to a terminal status, reconcile credits and record history.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ghiblify/wallet-middleware/internal/metrics"
	apperrors "github.com/ghiblify/wallet-middleware/pkg/app/errors"
	"github.com/ghiblify/wallet-middleware/pkg/auth"
	"github.com/ghiblify/wallet-middleware/pkg/backend"
	"github.com/ghiblify/wallet-middleware/pkg/config"
	"github.com/ghiblify/wallet-middleware/pkg/paymentstore"
	"github.com/ghiblify/wallet-middleware/pkg/pricing"
	"github.com/ghiblify/wallet-middleware/pkg/provider"
	"github.com/ghiblify/wallet-middleware/pkg/sessionstore"
)

// Service defines the payment orchestration business logic.
//
//go:generate mockery --name Service --output mocks --outpkg mocks --filename mock_service.go --with-expecter
type Service interface {
	Purchase(ctx context.Context, req *PurchaseRequest) (*Receipt, error)
	GetPayment(ctx context.Context, id string) (*paymentstore.Payment, error)
	History(ctx context.Context, address string, limit int) ([]*paymentstore.Payment, error)
	Cancel(id string) bool
	CancelAll()
}

// Deps bundles the collaborators of the payment service.
type Deps struct {
	Backend       Backend
	Provider      provider.Provider
	Networks      Networks
	Oracle        PriceOracle
	BaseClient    ChainClient
	CeloClient    ChainClient
	Token         TokenContract
	TokenPayments PaymentsContract
	CeloPayments  PaymentsContract
	Credits       CreditSync
	Store         paymentstore.Store
	Sessions      sessionstore.Store
}

type paymentService struct {
	deps   Deps
	poller *poller
	reg    *registry
	dedup  *dedupGuard
	logger *zap.Logger
}

// NewService creates the payment service.
func NewService(cfg *config.PaymentsConfig, deps Deps, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &paymentService{
		deps:   deps,
		poller: newPoller(cfg.PollInterval, cfg.PollTimeout, cfg.MaxPollAttempts, logger),
		reg:    newRegistry(),
		dedup:  newDedupGuard(deps.Sessions, cfg.DedupTTL),
		logger: logger,
	}
}

// Purchase runs the full payment pipeline for one credit purchase and
// blocks until the payment is terminal or cancelled.
func (s *paymentService) Purchase(ctx context.Context, req *PurchaseRequest) (*Receipt, error) {
	if !auth.ValidateEVMAddress(req.Address) {
		return nil, apperrors.BadRequestError(nil, "invalid EVM address")
	}
	if !req.Method.Valid() {
		return nil, apperrors.BadRequestError(nil, fmt.Sprintf("unknown payment method %q", req.Method))
	}
	tier, err := pricing.GetTier(req.Tier)
	if err != nil {
		return nil, apperrors.BadRequestError(err, "unknown pricing tier")
	}
	address := auth.NormalizeAddress(req.Address)

	usdAmount, err := pricing.TierPricing(req.Tier, req.Method)
	if err != nil {
		return nil, apperrors.BadRequestError(err, "no price for tier and method")
	}

	id := uuid.NewString()
	record := &paymentstore.Payment{
		ID:        id,
		Address:   address,
		Method:    string(req.Method),
		Tier:      req.Tier,
		USDAmount: fmt.Sprintf("%.2f", usdAmount),
		Status:    backend.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deps.Store.CreatePayment(ctx, record); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	ctx, release := s.reg.register(ctx, id)
	defer release()

	s.logger.Info("payment started",
		zap.String("payment_id", id),
		zap.String("method", string(req.Method)),
		zap.String("tier", req.Tier),
		zap.String("address", address),
	)

	start := time.Now()
	out, err := s.dispatch(ctx, id, address, req.Method, req.Tier)
	if err != nil {
		pe := classify(string(req.Method), err)
		s.finishFailed(id, pe, out)
		return nil, pe
	}
	if out.result.Status != backend.StatusProcessed {
		pe := paymentErr(string(req.Method), CodeFailed,
			fmt.Errorf("terminal status %s: %s", out.result.Status, out.result.Message))
		s.finishFailed(id, pe, out)
		return nil, pe
	}

	credits := out.result.Credits
	if credits == 0 {
		credits = tier.Credits
	}
	s.finishProcessed(id, out, credits)

	metrics.PaymentsTotal.WithLabelValues(string(req.Method), backend.StatusProcessed).Inc()
	metrics.PaymentDuration.WithLabelValues(string(req.Method)).Observe(time.Since(start).Seconds())
	metrics.CreditsGranted.WithLabelValues(string(req.Method)).Add(float64(credits))

	return &Receipt{
		PaymentID:   id,
		Method:      string(req.Method),
		Tier:        req.Tier,
		Status:      backend.StatusProcessed,
		Credits:     credits,
		TxHash:      out.txHash,
		CheckoutURL: out.checkoutURL,
	}, nil
}

func (s *paymentService) dispatch(
	ctx context.Context,
	id, address string,
	method pricing.Method,
	tier string,
) (*outcome, error) {
	switch method {
	case pricing.MethodStripe:
		return s.payStripe(ctx, address, tier)
	case pricing.MethodCelo:
		return s.payCelo(ctx, address, tier)
	case pricing.MethodBasePay:
		return s.payBasePay(ctx, id, address, tier)
	case pricing.MethodToken:
		return s.payToken(ctx, address, tier)
	}
	return nil, apperrors.NotSupportedError(nil, fmt.Sprintf("payment method %q", method))
}

// finishProcessed records the terminal success and reconciles the
// wallet's balance. Reconciliation failure is logged, never surfaced:
// the backend already granted the credits.
func (s *paymentService) finishProcessed(id string, out *outcome, credits int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.deps.Store.UpdateStatus(ctx, id, backend.StatusProcessed, out.txHash, credits); err != nil {
		s.logger.Error("failed to record processed payment",
			zap.String("payment_id", id),
			zap.Error(err),
		)
	}
	if s.deps.Credits != nil {
		if _, err := s.deps.Credits.RefreshCredits(ctx); err != nil {
			s.logger.Warn("credit refresh after payment failed", zap.Error(err))
		}
	}
	s.logger.Info("payment processed",
		zap.String("payment_id", id),
		zap.Int("credits", credits),
		zap.String("tx_hash", out.txHash),
	)
}

func (s *paymentService) finishFailed(id string, pe *PaymentError, out *outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	txHash := ""
	if out != nil {
		txHash = out.txHash
	}
	if err := s.deps.Store.UpdateStatus(ctx, id, backend.StatusFailed, txHash, 0); err != nil {
		s.logger.Error("failed to record failed payment",
			zap.String("payment_id", id),
			zap.Error(err),
		)
	}
	metrics.PaymentsTotal.WithLabelValues(pe.Method, backend.StatusFailed).Inc()
	s.logger.Warn("payment failed",
		zap.String("payment_id", id),
		zap.String("code", pe.Code),
		zap.Error(pe),
	)
}

func (s *paymentService) GetPayment(ctx context.Context, id string) (*paymentstore.Payment, error) {
	payment, err := s.deps.Store.GetPayment(ctx, paymentstore.WithID(id))
	if err != nil {
		if errors.Is(err, paymentstore.ErrPaymentNotFound) {
			return nil, apperrors.ResourceNotFoundError(err, "payment not found")
		}
		return nil, err
	}
	return payment, nil
}

func (s *paymentService) History(ctx context.Context, address string, limit int) ([]*paymentstore.Payment, error) {
	if !auth.ValidateEVMAddress(address) {
		return nil, apperrors.BadRequestError(nil, "invalid EVM address")
	}
	return s.deps.Store.ListPayments(ctx,
		paymentstore.WithAddress(auth.NormalizeAddress(address)),
		paymentstore.WithLimit(limit),
	)
}

// Cancel aborts an in-flight payment. It reports whether a payment with
// that id was running.
func (s *paymentService) Cancel(id string) bool {
	return s.reg.cancel(id)
}

// CancelAll aborts every in-flight payment. Called on shutdown.
func (s *paymentService) CancelAll() {
	s.reg.cancelAll()
}
