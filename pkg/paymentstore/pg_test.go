package paymentstore

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/ghiblify/wallet-middleware/pkg/pgutil"
	mghelper "github.com/ghiblify/wallet-middleware/pkg/pgutil/migrations"
)

func setupStore(t *testing.T) (context.Context, *pgStore) {
	t.Helper()
	requireDockerAccess(t)

	ctx := context.Background()
	db, cleanup := pgutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	if err := mghelper.CreateSchema(ctx, db, &PaymentDao{}); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	if err := mghelper.CreateModelIndexes(ctx, db, &PaymentDao{}, "address", "tx_hash"); err != nil {
		t.Fatalf("failed to create indexes: %v", err)
	}

	return ctx, NewStore(db)
}

func requireDockerAccess(t *testing.T) {
	t.Helper()

	candidates := []string{
		"/var/run/docker.sock",
		filepath.Join(os.Getenv("HOME"), ".docker/run/docker.sock"),
	}

	for _, sock := range candidates {
		if sock == "" {
			continue
		}
		if _, err := os.Stat(sock); err != nil {
			continue
		}
		conn, err := (&net.Dialer{}).DialContext(context.Background(), "unix", sock)
		if err == nil {
			_ = conn.Close()
			return
		}
	}

	t.Skip("docker daemon socket is not accessible; skipping testcontainer-backed paymentstore tests")
}

func newTestPayment(address, method, status string) *Payment {
	return &Payment{
		ID:        uuid.NewString(),
		Address:   address,
		Method:    method,
		Tier:      "pro",
		USDAmount: "4.99",
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

func TestPaymentPGStore_CreateAndGet(t *testing.T) {
	ctx, s := setupStore(t)

	p := newTestPayment("0x1111111111111111111111111111111111111111", "celo", "pending")
	p.TxHash = "0xdeadbeef"
	if err := s.CreatePayment(ctx, p); err != nil {
		t.Fatalf("CreatePayment() failed: %v", err)
	}

	got, err := s.GetPayment(ctx, WithID(p.ID))
	if err != nil {
		t.Fatalf("GetPayment() failed: %v", err)
	}
	if got.Address != p.Address || got.Method != "celo" || got.Status != "pending" {
		t.Fatalf("unexpected payment: %+v", got)
	}
	if got.USDAmount == "" {
		t.Fatal("usd amount not persisted")
	}

	byHash, err := s.GetPayment(ctx, WithTxHash("0xdeadbeef"))
	if err != nil {
		t.Fatalf("GetPayment() by tx hash failed: %v", err)
	}
	if byHash.ID != p.ID {
		t.Fatalf("tx hash lookup returned %s, want %s", byHash.ID, p.ID)
	}

	if _, err := s.GetPayment(ctx, WithID(uuid.NewString())); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestPaymentPGStore_CreateRejectsBadRows(t *testing.T) {
	ctx, s := setupStore(t)

	p := newTestPayment("0x1111111111111111111111111111111111111111", "stripe", "pending")
	p.ID = "not-a-uuid"
	err := s.CreatePayment(ctx, p)
	if err == nil {
		t.Fatal("expected invalid uuid to fail")
	}
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected postgres error type, got: %v", err)
	}
}

func TestPaymentPGStore_UpdateStatus(t *testing.T) {
	ctx, s := setupStore(t)

	p := newTestPayment("0x1111111111111111111111111111111111111111", "token", "pending")
	if err := s.CreatePayment(ctx, p); err != nil {
		t.Fatalf("CreatePayment() failed: %v", err)
	}

	if err := s.UpdateStatus(ctx, p.ID, "processed", "0xfeed", 12); err != nil {
		t.Fatalf("UpdateStatus() failed: %v", err)
	}

	got, err := s.GetPayment(ctx, WithID(p.ID))
	if err != nil {
		t.Fatalf("GetPayment() failed: %v", err)
	}
	if got.Status != "processed" || got.TxHash != "0xfeed" || got.Credits != 12 {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("updated_at not set")
	}

	if err := s.UpdateStatus(ctx, uuid.NewString(), "failed", "", 0); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound for unknown id, got %v", err)
	}
}

func TestPaymentPGStore_ListPayments(t *testing.T) {
	ctx, s := setupStore(t)

	const addr = "0x2222222222222222222222222222222222222222"
	for i, status := range []string{"processed", "failed", "processed"} {
		p := newTestPayment(addr, "celo", status)
		p.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := s.CreatePayment(ctx, p); err != nil {
			t.Fatalf("CreatePayment() %d failed: %v", i, err)
		}
	}
	other := newTestPayment("0x3333333333333333333333333333333333333333", "stripe", "processed")
	if err := s.CreatePayment(ctx, other); err != nil {
		t.Fatalf("CreatePayment() failed: %v", err)
	}

	list, err := s.ListPayments(ctx, WithAddress(addr))
	if err != nil {
		t.Fatalf("ListPayments() failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 payments, got %d", len(list))
	}
	// Newest first.
	if list[0].CreatedAt.Before(list[2].CreatedAt) {
		t.Fatal("list not ordered newest first")
	}

	processed, err := s.ListPayments(ctx, WithAddress(addr), WithStatus("processed"), WithLimit(1))
	if err != nil {
		t.Fatalf("ListPayments() with filters failed: %v", err)
	}
	if len(processed) != 1 || processed[0].Status != "processed" {
		t.Fatalf("unexpected filtered result: %+v", processed)
	}
}
