package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ghiblify/wallet-middleware/pkg/backend"
)

func TestPollReturnsTerminalResult(t *testing.T) {
	p := newPoller(time.Millisecond, time.Second, 0, nil)

	calls := 0
	result, err := p.poll(context.Background(), func(ctx context.Context) (*backend.PaymentResult, error) {
		calls++
		if calls < 3 {
			return &backend.PaymentResult{Status: backend.StatusPending}, nil
		}
		return &backend.PaymentResult{Status: backend.StatusProcessed, Credits: 12}, nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result.Status != backend.StatusProcessed {
		t.Fatalf("expected processed, got %s", result.Status)
	}
	if calls != 3 {
		t.Fatalf("expected 3 checks, got %d", calls)
	}
}

func TestPollFailedStatusIsResultNotError(t *testing.T) {
	p := newPoller(time.Millisecond, time.Second, 0, nil)

	result, err := p.poll(context.Background(), func(ctx context.Context) (*backend.PaymentResult, error) {
		return &backend.PaymentResult{Status: backend.StatusFailed, Message: "no matching event"}, nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result.Status != backend.StatusFailed {
		t.Fatalf("expected failed status, got %s", result.Status)
	}
}

func TestPollRetriesTransportErrors(t *testing.T) {
	p := newPoller(time.Millisecond, time.Second, 0, nil)

	calls := 0
	result, err := p.poll(context.Background(), func(ctx context.Context) (*backend.PaymentResult, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return &backend.PaymentResult{Status: backend.StatusProcessed}, nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result.Status != backend.StatusProcessed {
		t.Fatalf("expected processed after retry, got %s", result.Status)
	}
}

func TestPollStopsAtMaxAttempts(t *testing.T) {
	p := newPoller(time.Millisecond, time.Second, 3, nil)

	calls := 0
	_, err := p.poll(context.Background(), func(ctx context.Context) (*backend.PaymentResult, error) {
		calls++
		return &backend.PaymentResult{Status: backend.StatusPending}, nil
	})
	if err == nil {
		t.Fatal("expected max attempts error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 checks, got %d", calls)
	}
}

func TestPollStopsOnCancellation(t *testing.T) {
	p := newPoller(10*time.Millisecond, time.Minute, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.poll(ctx, func(ctx context.Context) (*backend.PaymentResult, error) {
		return &backend.PaymentResult{Status: backend.StatusPending}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPollTimeout(t *testing.T) {
	p := newPoller(time.Millisecond, 20*time.Millisecond, 0, nil)

	_, err := p.poll(context.Background(), func(ctx context.Context) (*backend.PaymentResult, error) {
		return &backend.PaymentResult{Status: backend.StatusPending}, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
