package autoconnect

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ghiblify/wallet-middleware/pkg/provider"
	"github.com/ghiblify/wallet-middleware/pkg/sessionstore"
)

type mockProvider struct {
	RequestFn func(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

func (m *mockProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return m.RequestFn(ctx, method, params...)
}

type walletError struct {
	code int
	msg  string
}

func (e *walletError) Error() string  { return e.msg }
func (e *walletError) ErrorCode() int { return e.code }

func newService(t *testing.T, p provider.Provider, connector Connector) *Service {
	t.Helper()
	return New(context.Background(), p, sessionstore.NewMemory(), connector, nil)
}

func TestAttemptAutoConnectionPreferredFirst(t *testing.T) {
	var attempts []Network
	connector := ConnectorFunc(func(ctx context.Context, address string, network Network) error {
		attempts = append(attempts, network)
		return nil
	})

	svc := newService(t, &mockProvider{}, connector)
	svc.SetConfig(context.Background(), Config{PreferredNetwork: NetworkCelo, EnableFallback: true})

	got, err := svc.AttemptAutoConnection(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("AttemptAutoConnection failed: %v", err)
	}
	if got != NetworkCelo {
		t.Errorf("expected celo, got %q", got)
	}
	if len(attempts) != 1 || attempts[0] != NetworkCelo {
		t.Errorf("expected single celo attempt, got %v", attempts)
	}
}

func TestAttemptAutoConnectionFallbackSkipsTried(t *testing.T) {
	var attempts []Network
	connector := ConnectorFunc(func(ctx context.Context, address string, network Network) error {
		attempts = append(attempts, network)
		if network == NetworkCelo {
			return errors.New("wallet not on celo")
		}
		return nil
	})

	svc := newService(t, &mockProvider{}, connector)
	svc.SetConfig(context.Background(), Config{PreferredNetwork: NetworkCelo, EnableFallback: true})

	got, err := svc.AttemptAutoConnection(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("AttemptAutoConnection failed: %v", err)
	}
	if got != NetworkBase {
		t.Errorf("expected base from fallback, got %q", got)
	}
	// Celo must be tried once as the preference, not again in fallback.
	if len(attempts) != 2 || attempts[0] != NetworkCelo || attempts[1] != NetworkBase {
		t.Errorf("unexpected attempt order: %v", attempts)
	}
}

func TestAttemptAutoConnectionNoFallback(t *testing.T) {
	var attempts int
	connector := ConnectorFunc(func(ctx context.Context, address string, network Network) error {
		attempts++
		return errors.New("connection refused")
	})

	svc := newService(t, &mockProvider{}, connector)
	svc.SetConfig(context.Background(), Config{PreferredNetwork: NetworkCelo, EnableFallback: false})

	got, err := svc.AttemptAutoConnection(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("AttemptAutoConnection failed: %v", err)
	}
	if got != "" {
		t.Errorf("expected no network, got %q", got)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestAttemptAutoConnectionSkipConfigured(t *testing.T) {
	connector := ConnectorFunc(func(ctx context.Context, address string, network Network) error {
		t.Error("connector should not be called when auto-connect is skipped")
		return nil
	})

	svc := newService(t, &mockProvider{}, connector)
	svc.SetConfig(context.Background(), Config{SkipAutoConnect: true})

	got, err := svc.AttemptAutoConnection(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("AttemptAutoConnection failed: %v", err)
	}
	if got != "" {
		t.Errorf("expected no network, got %q", got)
	}
}

func TestAttemptAutoConnectionInflightSuppressed(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	connector := ConnectorFunc(func(ctx context.Context, address string, network Network) error {
		close(started)
		<-release
		return nil
	})

	svc := newService(t, &mockProvider{}, connector)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := svc.AttemptAutoConnection(context.Background(), "0xabc"); err != nil {
			t.Errorf("first attempt failed: %v", err)
		}
	}()

	<-started
	if _, err := svc.AttemptAutoConnection(context.Background(), "0xabc"); err == nil {
		t.Error("expected second concurrent attempt to be rejected")
	}
	close(release)
	wg.Wait()

	// The guard is released once the first attempt finishes.
	if _, err := svc.AttemptAutoConnection(context.Background(), "0xabc"); err != nil {
		t.Errorf("attempt after completion failed: %v", err)
	}
}

func TestSwitchNetworkSuccess(t *testing.T) {
	var methods []string
	p := &mockProvider{
		RequestFn: func(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
			methods = append(methods, method)
			return json.RawMessage("null"), nil
		},
	}

	store := sessionstore.NewMemory()
	svc := New(context.Background(), p, store, nil, nil)

	if !svc.SwitchNetwork(context.Background(), "0xabc", NetworkCelo) {
		t.Fatal("expected switch to succeed")
	}
	if len(methods) != 1 || methods[0] != "wallet_switchEthereumChain" {
		t.Errorf("unexpected provider calls: %v", methods)
	}
	if svc.Config().PreferredNetwork != NetworkCelo {
		t.Errorf("expected preference to track switch, got %q", svc.Config().PreferredNetwork)
	}

	raw, err := store.Get(context.Background(), sessionstore.KeyNetworkPreference)
	if err != nil {
		t.Fatalf("expected persisted preference: %v", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("decode persisted preference: %v", err)
	}
	if cfg.PreferredNetwork != NetworkCelo {
		t.Errorf("persisted preference = %q, want celo", cfg.PreferredNetwork)
	}
}

func TestSwitchNetworkAddsUnknownChain(t *testing.T) {
	var methods []string
	switches := 0
	p := &mockProvider{
		RequestFn: func(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
			methods = append(methods, method)
			if method == "wallet_switchEthereumChain" {
				switches++
				if switches == 1 {
					return nil, &walletError{code: provider.CodeUnrecognizedChain, msg: "unrecognized chain"}
				}
			}
			return json.RawMessage("null"), nil
		},
	}

	svc := newService(t, p, nil)

	if !svc.SwitchNetwork(context.Background(), "0xabc", NetworkCelo) {
		t.Fatal("expected switch to succeed after adding chain")
	}
	want := []string{"wallet_switchEthereumChain", "wallet_addEthereumChain", "wallet_switchEthereumChain"}
	if len(methods) != len(want) {
		t.Fatalf("unexpected provider calls: %v", methods)
	}
	for i := range want {
		if methods[i] != want[i] {
			t.Fatalf("call %d = %q, want %q", i, methods[i], want[i])
		}
	}
}

func TestSwitchNetworkRetryFails(t *testing.T) {
	p := &mockProvider{
		RequestFn: func(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
			if method == "wallet_switchEthereumChain" {
				return nil, &walletError{code: provider.CodeUnrecognizedChain, msg: "unrecognized chain"}
			}
			return json.RawMessage("null"), nil
		},
	}

	store := sessionstore.NewMemory()
	svc := New(context.Background(), p, store, nil, nil)

	if svc.SwitchNetwork(context.Background(), "0xabc", NetworkCelo) {
		t.Fatal("expected switch to fail when retry after add fails")
	}
	if svc.Config().PreferredNetwork != NetworkAuto {
		t.Errorf("preference changed on failed switch: %q", svc.Config().PreferredNetwork)
	}
	if _, err := store.Get(context.Background(), sessionstore.KeyNetworkPreference); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Errorf("expected no persisted preference on failure, got %v", err)
	}
}

func TestSwitchNetworkUserRejected(t *testing.T) {
	p := &mockProvider{
		RequestFn: func(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
			return nil, &walletError{code: provider.CodeUserRejected, msg: "user rejected the request"}
		},
	}

	svc := newService(t, p, nil)
	if svc.SwitchNetwork(context.Background(), "0xabc", NetworkBase) {
		t.Fatal("expected switch to fail on user rejection")
	}
}

func TestSwitchNetworkUnknownTarget(t *testing.T) {
	svc := newService(t, &mockProvider{}, nil)
	if svc.SwitchNetwork(context.Background(), "0xabc", Network("solana")) {
		t.Fatal("expected switch to an unsupported network to fail")
	}
}

func TestValidateNetwork(t *testing.T) {
	p := &mockProvider{
		RequestFn: func(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
			return json.RawMessage(`"0x2105"`), nil
		},
	}

	svc := newService(t, p, nil)

	ok, err := svc.ValidateNetwork(context.Background(), NetworkBase)
	if err != nil {
		t.Fatalf("ValidateNetwork failed: %v", err)
	}
	if !ok {
		t.Error("expected base chain id to validate")
	}

	ok, err = svc.ValidateNetwork(context.Background(), NetworkCelo)
	if err != nil {
		t.Fatalf("ValidateNetwork failed: %v", err)
	}
	if ok {
		t.Error("expected celo validation to fail on base chain")
	}
}

func TestRestorePreference(t *testing.T) {
	store := sessionstore.NewMemory()
	raw, _ := json.Marshal(Config{PreferredNetwork: NetworkCelo, EnableFallback: true})
	if err := store.Set(context.Background(), sessionstore.KeyNetworkPreference, raw, 0); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	svc := New(context.Background(), &mockProvider{}, store, nil, nil)
	if svc.Config().PreferredNetwork != NetworkCelo {
		t.Errorf("expected restored celo preference, got %q", svc.Config().PreferredNetwork)
	}
}

func TestRestoreCorruptPreferenceDiscarded(t *testing.T) {
	store := sessionstore.NewMemory()
	if err := store.Set(context.Background(), sessionstore.KeyNetworkPreference, []byte("{not json"), 0); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	svc := New(context.Background(), &mockProvider{}, store, nil, nil)
	if svc.Config().PreferredNetwork != NetworkAuto {
		t.Errorf("expected default preference, got %q", svc.Config().PreferredNetwork)
	}
	if _, err := store.Get(context.Background(), sessionstore.KeyNetworkPreference); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Errorf("expected corrupt entry deleted, got %v", err)
	}
}
