package payments

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ghiblify/wallet-middleware/pkg/paymentstore"
)

const serviceName = "PaymentService"

// logService wraps Service with automatic logging of all method calls
type logService struct {
	svc    Service
	logger *zap.Logger
}

// NewLog creates a logging decorator for the payment Service.
func NewLog(svc Service, logger *zap.Logger) Service {
	return &logService{
		svc:    svc,
		logger: logger,
	}
}

func (ls *logService) Purchase(ctx context.Context, req *PurchaseRequest) (receipt *Receipt, err error) {
	start := time.Now()

	ls.logger.Info("Purchase started",
		zap.String("service", serviceName),
		zap.String("method", "Purchase"),
		zap.String("address", req.Address),
		zap.String("paymentMethod", string(req.Method)),
		zap.String("tier", req.Tier),
	)

	defer func() {
		duration := time.Since(start)
		if err != nil {
			ls.logger.Error("Purchase failed",
				zap.String("service", serviceName),
				zap.String("method", "Purchase"),
				zap.String("address", req.Address),
				zap.String("paymentMethod", string(req.Method)),
				zap.String("errorCode", string(ErrorCode(err))),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		} else {
			ls.logger.Info("Purchase completed",
				zap.String("service", serviceName),
				zap.String("method", "Purchase"),
				zap.String("address", req.Address),
				zap.String("paymentMethod", string(req.Method)),
				zap.String("status", receipt.Status),
				zap.Int("credits", receipt.Credits),
				zap.Duration("duration", duration),
			)
		}
	}()

	return ls.svc.Purchase(ctx, req)
}

func (ls *logService) GetPayment(ctx context.Context, id string) (*paymentstore.Payment, error) {
	return ls.svc.GetPayment(ctx, id)
}

func (ls *logService) History(ctx context.Context, address string, limit int) ([]*paymentstore.Payment, error) {
	return ls.svc.History(ctx, address, limit)
}

func (ls *logService) Cancel(id string) bool {
	cancelled := ls.svc.Cancel(id)
	ls.logger.Info("Cancel requested",
		zap.String("service", serviceName),
		zap.String("method", "Cancel"),
		zap.String("paymentID", id),
		zap.Bool("cancelled", cancelled),
	)
	return cancelled
}

func (ls *logService) CancelAll() {
	ls.logger.Info("CancelAll requested",
		zap.String("service", serviceName),
		zap.String("method", "CancelAll"),
	)
	ls.svc.CancelAll()
}
