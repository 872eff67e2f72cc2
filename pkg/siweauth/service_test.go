package siweauth

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ghiblify/wallet-middleware/pkg/auth"
	"github.com/ghiblify/wallet-middleware/pkg/backend"
	"github.com/ghiblify/wallet-middleware/pkg/provider"
	"github.com/ghiblify/wallet-middleware/pkg/sessionstore"
)

type mockProvider struct {
	RequestFn func(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

func (m *mockProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return m.RequestFn(ctx, method, params...)
}

type mockBackend struct {
	GetAuthNonceFn func(ctx context.Context, address string) (string, error)
	VerifyAuthFn   func(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error)
}

func (m *mockBackend) GetAuthNonce(ctx context.Context, address string) (string, error) {
	return m.GetAuthNonceFn(ctx, address)
}

func (m *mockBackend) VerifyAuth(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error) {
	return m.VerifyAuthFn(ctx, req)
}

type walletError struct {
	code int
	msg  string
}

func (e *walletError) Error() string  { return e.msg }
func (e *walletError) ErrorCode() int { return e.code }

// signer holds a throwaway key so the wallet mocks can produce real
// EIP-191 signatures that survive local pre-verification.
type signer struct {
	key     *ecdsa.PrivateKey
	address string
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return &signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (s *signer) sign(t *testing.T, message string) string {
	t.Helper()
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	sig, err := crypto.Sign(crypto.Keccak256Hash([]byte(prefixed)).Bytes(), s.key)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	sig[64] += 27
	return "0x" + fmt.Sprintf("%x", sig)
}

func newIssuer(t *testing.T) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("test-secret", "walletd-test", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer failed: %v", err)
	}
	return issuer
}

// legacyProvider is a wallet without wallet_connect support.
func legacyProvider(t *testing.T, s *signer) *mockProvider {
	t.Helper()
	return &mockProvider{
		RequestFn: func(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
			switch method {
			case "wallet_connect":
				return nil, errors.New("the method wallet_connect does not exist")
			case "eth_requestAccounts":
				return json.Marshal([]string{s.address})
			case "personal_sign":
				message, ok := params[0].(string)
				if !ok {
					t.Fatalf("personal_sign message param is %T", params[0])
				}
				return json.Marshal(s.sign(t, message))
			}
			t.Fatalf("unexpected provider method %q", method)
			return nil, nil
		},
	}
}

func TestAuthenticateLegacyFlow(t *testing.T) {
	s := newSigner(t)
	store := sessionstore.NewMemory()

	var verified *backend.VerifyRequest
	b := &mockBackend{
		GetAuthNonceFn: func(ctx context.Context, address string) (string, error) {
			return "a1b2c3d4", nil
		},
		VerifyAuthFn: func(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error) {
			verified = req
			return &backend.VerifyResponse{Verified: true, Address: req.Address, Credits: 12}, nil
		},
	}

	svc := New(context.Background(), legacyProvider(t, s), b, store, newIssuer(t),
		Config{Domain: "ghiblify.example", URI: "https://ghiblify.example"}, nil)

	session, err := svc.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if session.Address != strings.ToLower(s.address) {
		t.Errorf("session address = %q, want %q", session.Address, strings.ToLower(s.address))
	}
	if session.Credits != 12 {
		t.Errorf("session credits = %d, want 12", session.Credits)
	}
	if session.Token == "" {
		t.Error("expected a session token")
	}

	if verified == nil {
		t.Fatal("backend verification never called")
	}
	if !strings.Contains(verified.Message, "Nonce: a1b2c3d4") {
		t.Errorf("message missing backend nonce: %q", verified.Message)
	}
	if !strings.Contains(verified.Message, "ghiblify.example wants you to sign in") {
		t.Errorf("message missing domain line: %q", verified.Message)
	}
	if !strings.Contains(verified.Message, "Chain ID: 8453") {
		t.Errorf("message missing chain id: %q", verified.Message)
	}

	if state, _ := svc.State(); state != StateAuthenticated {
		t.Errorf("state = %q, want authenticated", state)
	}
	if _, err := store.Get(context.Background(), sessionstore.KeyAuthSession); err != nil {
		t.Errorf("expected persisted session: %v", err)
	}
}

func TestAuthenticateWalletConnect(t *testing.T) {
	s := newSigner(t)
	message := "ghiblify.example wants you to sign in with your Ethereum account:\n" + s.address
	signature := s.sign(t, message)

	p := &mockProvider{
		RequestFn: func(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
			if method != "wallet_connect" {
				t.Fatalf("unexpected provider method %q", method)
			}
			return json.Marshal(provider.ConnectResult{
				Accounts: []provider.ConnectedAccount{{
					Address: s.address,
					Capabilities: provider.AccountCapabilities{
						SignInWithEthereum: &provider.SignInOutput{
							Message:   message,
							Signature: signature,
						},
					},
				}},
			})
		},
	}
	b := &mockBackend{
		GetAuthNonceFn: func(ctx context.Context, address string) (string, error) {
			return "a1b2c3d4", nil
		},
		VerifyAuthFn: func(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error) {
			if req.Message != message {
				t.Errorf("verify message = %q, want wallet-built message", req.Message)
			}
			return &backend.VerifyResponse{Verified: true, Address: req.Address, Credits: 1}, nil
		},
	}

	svc := New(context.Background(), p, b, sessionstore.NewMemory(), newIssuer(t),
		Config{Domain: "ghiblify.example", URI: "https://ghiblify.example"}, nil)

	session, err := svc.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if session.Address != strings.ToLower(s.address) {
		t.Errorf("session address = %q, want %q", session.Address, strings.ToLower(s.address))
	}
}

func TestAuthenticateNotifiesOnAuthenticated(t *testing.T) {
	s := newSigner(t)
	b := &mockBackend{
		GetAuthNonceFn: func(ctx context.Context, address string) (string, error) {
			return "a1b2c3d4", nil
		},
		VerifyAuthFn: func(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error) {
			return &backend.VerifyResponse{Verified: true, Address: req.Address}, nil
		},
	}

	var notified string
	svc := New(context.Background(), legacyProvider(t, s), b, sessionstore.NewMemory(), newIssuer(t),
		Config{
			Domain: "d",
			URI:    "u",
			OnAuthenticated: func(ctx context.Context, address string) {
				notified = address
			},
		}, nil)

	session, err := svc.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if notified != session.Address {
		t.Errorf("callback got %q, want %q", notified, session.Address)
	}
}

func TestRestoreSessionNotifiesOnAuthenticated(t *testing.T) {
	issuer := newIssuer(t)
	store := sessionstore.NewMemory()

	const address = "0xabc0000000000000000000000000000000000001"
	token, err := issuer.Issue(address)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	raw, _ := json.Marshal(Session{
		Address:   address,
		Token:     token,
		Timestamp: time.Now().UnixMilli(),
	})
	if err := store.Set(context.Background(), sessionstore.KeyAuthSession, raw, 0); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	var notified string
	New(context.Background(), &mockProvider{}, &mockBackend{}, store, issuer,
		Config{
			Domain: "d",
			URI:    "u",
			OnAuthenticated: func(ctx context.Context, addr string) {
				notified = addr
			},
		}, nil)

	if notified != address {
		t.Errorf("callback got %q, want %q", notified, address)
	}
}

func TestAuthenticateUserRejected(t *testing.T) {
	s := newSigner(t)
	store := sessionstore.NewMemory()

	p := &mockProvider{
		RequestFn: func(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
			switch method {
			case "wallet_connect":
				return nil, errors.New("the method wallet_connect does not exist")
			case "eth_requestAccounts":
				return json.Marshal([]string{s.address})
			case "personal_sign":
				return nil, &walletError{code: provider.CodeUserRejected, msg: "user rejected the request"}
			}
			t.Fatalf("unexpected provider method %q", method)
			return nil, nil
		},
	}
	b := &mockBackend{
		GetAuthNonceFn: func(ctx context.Context, address string) (string, error) {
			return "a1b2c3d4", nil
		},
		VerifyAuthFn: func(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error) {
			t.Error("verification must not run after rejection")
			return nil, nil
		},
	}

	svc := New(context.Background(), p, b, store, newIssuer(t), Config{Domain: "d", URI: "u"}, nil)

	if _, err := svc.Authenticate(context.Background()); err == nil {
		t.Fatal("expected error after user rejection")
	}
	if state, msg := svc.State(); state != StateError || msg == "" {
		t.Errorf("state = %q (%q), want error state with message", state, msg)
	}
	if _, err := store.Get(context.Background(), sessionstore.KeyAuthSession); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Errorf("no session should be persisted, got %v", err)
	}
}

func TestAuthenticateBackendRejects(t *testing.T) {
	s := newSigner(t)
	b := &mockBackend{
		GetAuthNonceFn: func(ctx context.Context, address string) (string, error) {
			return "a1b2c3d4", nil
		},
		VerifyAuthFn: func(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error) {
			return &backend.VerifyResponse{Verified: false}, nil
		},
	}

	svc := New(context.Background(), legacyProvider(t, s), b, sessionstore.NewMemory(), newIssuer(t),
		Config{Domain: "d", URI: "u"}, nil)

	if _, err := svc.Authenticate(context.Background()); err == nil {
		t.Fatal("expected error when backend rejects the signature")
	}
	if svc.Session() != nil {
		t.Error("no session should exist after rejection")
	}
}

func TestAuthenticateBadSignatureCaughtLocally(t *testing.T) {
	s := newSigner(t)
	// The wallet signs a different message than it reports.
	p := &mockProvider{
		RequestFn: func(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
			switch method {
			case "wallet_connect":
				return nil, errors.New("the method wallet_connect does not exist")
			case "eth_requestAccounts":
				return json.Marshal([]string{s.address})
			case "personal_sign":
				return json.Marshal(s.sign(t, "some other message"))
			}
			t.Fatalf("unexpected provider method %q", method)
			return nil, nil
		},
	}
	b := &mockBackend{
		GetAuthNonceFn: func(ctx context.Context, address string) (string, error) {
			return "a1b2c3d4", nil
		},
		VerifyAuthFn: func(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error) {
			t.Error("backend must not be called with a locally invalid signature")
			return nil, nil
		},
	}

	svc := New(context.Background(), p, b, sessionstore.NewMemory(), newIssuer(t),
		Config{Domain: "d", URI: "u"}, nil)

	if _, err := svc.Authenticate(context.Background()); err == nil {
		t.Fatal("expected local verification failure")
	}
}

func TestAuthenticateConcurrentRejected(t *testing.T) {
	s := newSigner(t)
	started := make(chan struct{})
	release := make(chan struct{})

	p := &mockProvider{
		RequestFn: func(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
			switch method {
			case "wallet_connect":
				return nil, errors.New("the method wallet_connect does not exist")
			case "eth_requestAccounts":
				close(started)
				<-release
				return json.Marshal([]string{s.address})
			case "personal_sign":
				message := params[0].(string)
				return json.Marshal(s.sign(t, message))
			}
			return nil, fmt.Errorf("unexpected method %q", method)
		},
	}
	b := &mockBackend{
		GetAuthNonceFn: func(ctx context.Context, address string) (string, error) {
			return "a1b2c3d4", nil
		},
		VerifyAuthFn: func(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error) {
			return &backend.VerifyResponse{Verified: true, Address: req.Address}, nil
		},
	}

	svc := New(context.Background(), p, b, sessionstore.NewMemory(), newIssuer(t),
		Config{Domain: "d", URI: "u"}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := svc.Authenticate(context.Background()); err != nil {
			t.Errorf("first Authenticate failed: %v", err)
		}
	}()

	<-started
	if _, err := svc.Authenticate(context.Background()); !errors.Is(err, ErrAuthInProgress) {
		t.Errorf("expected ErrAuthInProgress, got %v", err)
	}
	close(release)
	wg.Wait()
}

func TestAuthenticateLocalNonceFallback(t *testing.T) {
	s := newSigner(t)
	b := &mockBackend{
		GetAuthNonceFn: func(ctx context.Context, address string) (string, error) {
			return "", errors.New("backend unavailable")
		},
		VerifyAuthFn: func(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error) {
			for _, line := range strings.Split(req.Message, "\n") {
				nonce, found := strings.CutPrefix(line, "Nonce: ")
				if !found {
					continue
				}
				if len(nonce) != 32 {
					t.Errorf("local nonce %q is not 32 hex chars", nonce)
				}
				return &backend.VerifyResponse{Verified: true, Address: req.Address}, nil
			}
			t.Error("message has no nonce line")
			return &backend.VerifyResponse{Verified: true, Address: req.Address}, nil
		},
	}

	svc := New(context.Background(), legacyProvider(t, s), b, sessionstore.NewMemory(), newIssuer(t),
		Config{Domain: "d", URI: "u"}, nil)

	if _, err := svc.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
}

func TestAuthenticateReusesRecentNonce(t *testing.T) {
	s := newSigner(t)
	backendUp := true
	b := &mockBackend{
		GetAuthNonceFn: func(ctx context.Context, address string) (string, error) {
			if !backendUp {
				return "", errors.New("backend unavailable")
			}
			return "a1b2c3d4", nil
		},
		VerifyAuthFn: func(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error) {
			return &backend.VerifyResponse{Verified: true, Address: req.Address}, nil
		},
	}

	svc := New(context.Background(), legacyProvider(t, s), b, sessionstore.NewMemory(), newIssuer(t),
		Config{Domain: "d", URI: "u", NonceTTL: 15 * time.Minute}, nil)

	now := time.Now()
	svc.now = func() time.Time { return now }

	if _, err := svc.Authenticate(context.Background()); err != nil {
		t.Fatalf("first Authenticate failed: %v", err)
	}

	// Inside the nonce window the cached backend nonce is reused.
	backendUp = false
	var message string
	b.VerifyAuthFn = func(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error) {
		message = req.Message
		return &backend.VerifyResponse{Verified: true, Address: req.Address}, nil
	}
	if _, err := svc.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate with backend down failed: %v", err)
	}
	if !strings.Contains(message, "Nonce: a1b2c3d4") {
		t.Errorf("expected cached backend nonce in message, got %q", message)
	}

	// Past the window the flow falls back to a local nonce.
	svc.now = func() time.Time { return now.Add(16 * time.Minute) }
	if _, err := svc.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate past nonce window failed: %v", err)
	}
	if strings.Contains(message, "Nonce: a1b2c3d4") {
		t.Error("expired backend nonce must not be reused")
	}
}

func TestRestoreSession(t *testing.T) {
	issuer := newIssuer(t)
	store := sessionstore.NewMemory()

	token, err := issuer.Issue("0xabc0000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	raw, _ := json.Marshal(Session{
		Address:   "0xabc0000000000000000000000000000000000001",
		Token:     token,
		Credits:   3,
		Timestamp: time.Now().UnixMilli(),
	})
	if err := store.Set(context.Background(), sessionstore.KeyAuthSession, raw, 0); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	svc := New(context.Background(), &mockProvider{}, &mockBackend{}, store, issuer,
		Config{Domain: "d", URI: "u"}, nil)

	session := svc.Session()
	if session == nil {
		t.Fatal("expected restored session")
	}
	if session.Credits != 3 {
		t.Errorf("restored credits = %d, want 3", session.Credits)
	}
	if state, _ := svc.State(); state != StateAuthenticated {
		t.Errorf("state = %q, want authenticated", state)
	}
}

func TestRestoreStaleSessionDiscarded(t *testing.T) {
	issuer := newIssuer(t)
	store := sessionstore.NewMemory()

	token, err := issuer.Issue("0xabc0000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	raw, _ := json.Marshal(Session{
		Address:   "0xabc0000000000000000000000000000000000001",
		Token:     token,
		Timestamp: time.Now().Add(-25 * time.Hour).UnixMilli(),
	})
	if err := store.Set(context.Background(), sessionstore.KeyAuthSession, raw, 0); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	svc := New(context.Background(), &mockProvider{}, &mockBackend{}, store, issuer,
		Config{Domain: "d", URI: "u", SessionTTL: 24 * time.Hour}, nil)

	if svc.Session() != nil {
		t.Error("stale session must not be restored")
	}
	if _, err := store.Get(context.Background(), sessionstore.KeyAuthSession); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Errorf("stale session entry should be deleted, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	s := newSigner(t)
	store := sessionstore.NewMemory()
	b := &mockBackend{
		GetAuthNonceFn: func(ctx context.Context, address string) (string, error) {
			return "a1b2c3d4", nil
		},
		VerifyAuthFn: func(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error) {
			return &backend.VerifyResponse{Verified: true, Address: req.Address}, nil
		},
	}

	svc := New(context.Background(), legacyProvider(t, s), b, store, newIssuer(t),
		Config{Domain: "d", URI: "u"}, nil)

	if _, err := svc.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	svc.Logout(context.Background())

	if svc.Session() != nil {
		t.Error("session should be cleared after logout")
	}
	if state, _ := svc.State(); state != StateIdle {
		t.Errorf("state = %q, want idle", state)
	}
	if _, err := store.Get(context.Background(), sessionstore.KeyAuthSession); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Errorf("persisted session should be deleted, got %v", err)
	}
}
