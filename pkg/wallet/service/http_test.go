package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/ghiblify/wallet-middleware/pkg/app/errors"
	"github.com/ghiblify/wallet-middleware/pkg/wallet"
)

type mockService struct {
	ConnectFn        func(ctx context.Context, address string, provider wallet.Provider) (wallet.Connection, error)
	DisconnectFn     func(ctx context.Context) error
	RefreshCreditsFn func(ctx context.Context) (int, error)
	UseCreditsFn     func(ctx context.Context, amount int) (int, error)
	AddCreditsFn     func(ctx context.Context, amount int) (int, error)
	GetStateFn       func() wallet.Connection
}

func (m *mockService) Connect(ctx context.Context, address string, provider wallet.Provider) (wallet.Connection, error) {
	return m.ConnectFn(ctx, address, provider)
}

func (m *mockService) Disconnect(ctx context.Context) error {
	return m.DisconnectFn(ctx)
}

func (m *mockService) RefreshCredits(ctx context.Context) (int, error) {
	return m.RefreshCreditsFn(ctx)
}

func (m *mockService) UseCredits(ctx context.Context, amount int) (int, error) {
	return m.UseCreditsFn(ctx, amount)
}

func (m *mockService) AddCredits(ctx context.Context, amount int) (int, error) {
	return m.AddCreditsFn(ctx, amount)
}

func (m *mockService) RefundCredits(ctx context.Context, amount int) (int, error) {
	return m.AddCreditsFn(ctx, amount)
}

func (m *mockService) MarkAuthenticated(ctx context.Context, address string) {}

func (m *mockService) GetState() wallet.Connection {
	return m.GetStateFn()
}

func (m *mockService) Subscribe(fn func(wallet.Connection)) func() {
	return func() {}
}

func newRouter(svc Service) *chi.Mux {
	r := chi.NewRouter()
	RegisterRoutes(r, svc, nil, zap.NewNop())
	return r
}

func TestHTTPConnect(t *testing.T) {
	svc := &mockService{
		ConnectFn: func(ctx context.Context, address string, provider wallet.Provider) (wallet.Connection, error) {
			return wallet.Connection{
				IsConnected: true,
				User: &wallet.User{
					Address:  address,
					Provider: provider,
					Credits:  4,
				},
			}, nil
		},
	}

	body := bytes.NewBufferString(`{"address":"0xabc0000000000000000000000000000000000001","provider":"rainbowkit"}`)
	req := httptest.NewRequest(http.MethodPost, "/wallet/connect", body)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var conn wallet.Connection
	if err := json.Unmarshal(rec.Body.Bytes(), &conn); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !conn.IsConnected || conn.User == nil || conn.User.Credits != 4 {
		t.Errorf("unexpected response: %s", rec.Body.String())
	}
}

func TestHTTPConnectBadProvider(t *testing.T) {
	svc := &mockService{}

	body := bytes.NewBufferString(`{"address":"0xabc","provider":"ledger"}`)
	req := httptest.NewRequest(http.MethodPost, "/wallet/connect", body)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHTTPConnectDebounced(t *testing.T) {
	svc := &mockService{
		ConnectFn: func(ctx context.Context, address string, provider wallet.Provider) (wallet.Connection, error) {
			return wallet.Connection{}, apperrors.TooManyRequestsError(ErrConnectTooSoon, "connection attempt too soon")
		},
	}

	body := bytes.NewBufferString(`{"address":"0xabc0000000000000000000000000000000000001","provider":"base"}`)
	req := httptest.NewRequest(http.MethodPost, "/wallet/connect", body)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestHTTPCredits(t *testing.T) {
	const address = "0xabc0000000000000000000000000000000000001"
	svc := &mockService{
		GetStateFn: func() wallet.Connection {
			return wallet.Connection{
				IsConnected: true,
				User:        &wallet.User{Address: address, Credits: 3},
			}
		},
		RefreshCreditsFn: func(ctx context.Context) (int, error) {
			return 3, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/wallet/credits/"+address, nil)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Credits int `json:"credits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Credits != 3 {
		t.Errorf("credits = %d, want 3", resp.Credits)
	}
}

func TestHTTPCreditsUnknownAddress(t *testing.T) {
	svc := &mockService{
		GetStateFn: func() wallet.Connection {
			return wallet.Connection{}
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/wallet/credits/0xabc0000000000000000000000000000000000001", nil)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHTTPUseCreditsInsufficient(t *testing.T) {
	svc := &mockService{
		UseCreditsFn: func(ctx context.Context, amount int) (int, error) {
			return 0, apperrors.PaymentRequiredError(nil, "insufficient credits")
		},
	}

	body := bytes.NewBufferString(`{"amount":5}`)
	req := httptest.NewRequest(http.MethodPost, "/wallet/credits/use", body)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", rec.Code)
	}
}

func TestHTTPGuardApplied(t *testing.T) {
	svc := &mockService{
		UseCreditsFn: func(ctx context.Context, amount int) (int, error) {
			t.Error("guarded handler must not run")
			return 0, nil
		},
	}

	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}

	r := chi.NewRouter()
	RegisterRoutes(r, svc, guard, zap.NewNop())

	body := bytes.NewBufferString(`{"amount":5}`)
	req := httptest.NewRequest(http.MethodPost, "/wallet/credits/use", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
