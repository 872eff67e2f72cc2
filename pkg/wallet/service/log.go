package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ghiblify/wallet-middleware/pkg/wallet"
)

const serviceName = "WalletService"

// logService wraps Service with automatic logging of all method calls
type logService struct {
	svc    Service
	logger *zap.Logger
}

// NewLog creates a logging decorator for the wallet Service.
func NewLog(svc Service, logger *zap.Logger) Service {
	return &logService{
		svc:    svc,
		logger: logger,
	}
}

func (ls *logService) Connect(
	ctx context.Context,
	address string,
	provider wallet.Provider,
) (conn wallet.Connection, err error) {
	start := time.Now()

	ls.logger.Info("Connect started",
		zap.String("service", serviceName),
		zap.String("method", "Connect"),
		zap.String("address", address),
		zap.String("provider", string(provider)),
	)

	defer func() {
		duration := time.Since(start)
		if err != nil {
			ls.logger.Error("Connect failed",
				zap.String("service", serviceName),
				zap.String("method", "Connect"),
				zap.String("address", address),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		} else {
			credits := 0
			if conn.User != nil {
				credits = conn.User.Credits
			}
			ls.logger.Info("Connect completed",
				zap.String("service", serviceName),
				zap.String("method", "Connect"),
				zap.String("address", address),
				zap.Int("credits", credits),
				zap.Duration("duration", duration),
			)
		}
	}()

	return ls.svc.Connect(ctx, address, provider)
}

func (ls *logService) Disconnect(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			ls.logger.Error("Disconnect failed",
				zap.String("service", serviceName),
				zap.Error(err),
			)
		}
	}()
	return ls.svc.Disconnect(ctx)
}

func (ls *logService) RefreshCredits(ctx context.Context) (int, error) {
	return ls.logCredits(ctx, "RefreshCredits", 0, ls.svc.RefreshCredits)
}

func (ls *logService) UseCredits(ctx context.Context, amount int) (int, error) {
	return ls.logCredits(ctx, "UseCredits", amount, func(ctx context.Context) (int, error) {
		return ls.svc.UseCredits(ctx, amount)
	})
}

func (ls *logService) AddCredits(ctx context.Context, amount int) (int, error) {
	return ls.logCredits(ctx, "AddCredits", amount, func(ctx context.Context) (int, error) {
		return ls.svc.AddCredits(ctx, amount)
	})
}

func (ls *logService) RefundCredits(ctx context.Context, amount int) (int, error) {
	return ls.logCredits(ctx, "RefundCredits", amount, func(ctx context.Context) (int, error) {
		return ls.svc.RefundCredits(ctx, amount)
	})
}

func (ls *logService) MarkAuthenticated(ctx context.Context, address string) {
	ls.svc.MarkAuthenticated(ctx, address)
	ls.logger.Info("MarkAuthenticated completed",
		zap.String("service", serviceName),
		zap.String("method", "MarkAuthenticated"),
		zap.String("address", address),
	)
}

func (ls *logService) GetState() wallet.Connection {
	return ls.svc.GetState()
}

func (ls *logService) Subscribe(fn func(wallet.Connection)) func() {
	return ls.svc.Subscribe(fn)
}

// logCredits wraps the credit mutation methods, which share one shape.
func (ls *logService) logCredits(
	ctx context.Context,
	method string,
	amount int,
	call func(ctx context.Context) (int, error),
) (balance int, err error) {
	start := time.Now()

	defer func() {
		duration := time.Since(start)
		if err != nil {
			ls.logger.Error(method+" failed",
				zap.String("service", serviceName),
				zap.String("method", method),
				zap.Int("amount", amount),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		} else {
			ls.logger.Info(method+" completed",
				zap.String("service", serviceName),
				zap.String("method", method),
				zap.Int("amount", amount),
				zap.Int("balance", balance),
				zap.Duration("duration", duration),
			)
		}
	}()

	return call(ctx)
}
