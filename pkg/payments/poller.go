package payments

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ghiblify/wallet-middleware/pkg/backend"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultPollTimeout  = 5 * time.Minute
	// transportBackoff stretches the interval after a transport error so
	// a flapping backend is not hammered at full poll rate.
	transportBackoff = 3
)

// checkFunc asks the backend for the current payment status.
type checkFunc func(ctx context.Context) (*backend.PaymentResult, error)

// poller drives a status check to a terminal result.
type poller struct {
	interval    time.Duration
	timeout     time.Duration
	maxAttempts int
	logger      *zap.Logger
}

func newPoller(interval, timeout time.Duration, maxAttempts int, logger *zap.Logger) *poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if timeout <= 0 || timeout > defaultPollTimeout {
		timeout = defaultPollTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &poller{
		interval:    interval,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// poll invokes check until it reports a terminal status. Pending and
// unknown statuses keep polling; transport errors retry on a stretched
// interval; a failed status is returned as the terminal result, not an
// error. Cancellation of ctx stops the loop.
func (p *poller) poll(ctx context.Context, check checkFunc) (*backend.PaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		result, err := check(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Debug("payment status check failed, backing off", zap.Error(err))
			ticker.Reset(p.interval * transportBackoff)
		case result.Terminal():
			return result, nil
		default:
			p.logger.Debug("payment not terminal yet",
				zap.String("status", result.Status),
				zap.Int("attempt", attempts),
			)
			ticker.Reset(p.interval)
		}

		if p.maxAttempts > 0 && attempts >= p.maxAttempts {
			return nil, fmt.Errorf("payment status not terminal after %d attempts", attempts)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
