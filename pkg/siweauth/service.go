// Package siweauth implements Sign-In with Ethereum against the Ghiblify
// backend. The wallet signs; this service never holds keys. Wallets that
// expose the wallet_connect signInWithEthereum capability authenticate in
// one round trip, everything else falls back to eth_requestAccounts plus
// personal_sign.
package siweauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ghiblify/wallet-middleware/internal/metrics"
	"github.com/ghiblify/wallet-middleware/pkg/auth"
	"github.com/ghiblify/wallet-middleware/pkg/backend"
	"github.com/ghiblify/wallet-middleware/pkg/provider"
	"github.com/ghiblify/wallet-middleware/pkg/sessionstore"
)

// State is the authentication flow state.
type State string

const (
	StateIdle          State = "idle"
	StateConnecting    State = "connecting"
	StateSigning       State = "signing"
	StateVerifying     State = "verifying"
	StateAuthenticated State = "authenticated"
	StateError         State = "error"
)

// siweChainID is the chain the sign-in message is bound to.
const siweChainID = 8453

// ErrAuthInProgress is returned when Authenticate is called while a
// previous call has not finished.
var ErrAuthInProgress = errors.New("siweauth: authentication already in progress")

// Backend is the subset of the backend client the auth flow needs.
type Backend interface {
	GetAuthNonce(ctx context.Context, address string) (string, error)
	VerifyAuth(ctx context.Context, req *backend.VerifyRequest) (*backend.VerifyResponse, error)
}

// Session is an authenticated SIWE session.
type Session struct {
	Address   string `json:"address"`
	Token     string `json:"token"`
	Credits   int    `json:"credits"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Config carries the sign-in message identity and session lifetime.
type Config struct {
	Domain     string
	URI        string
	SessionTTL time.Duration

	// NonceTTL matches the backend's nonce expiry. A nonce issued inside
	// this window is reused when a fresh fetch fails.
	NonceTTL time.Duration

	// OnAuthenticated is invoked with the signed-in address once a
	// session is established or restored. Optional.
	OnAuthenticated func(ctx context.Context, address string)
}

// Service drives the SIWE authentication flow.
type Service struct {
	provider provider.Provider
	backend  Backend
	store    sessionstore.Store
	issuer   *auth.TokenIssuer
	cfg      Config
	logger   *zap.Logger

	mu          sync.Mutex
	state       State
	lastErr     string
	session     *Session
	inflight    bool
	lastNonce   string
	lastNonceAt time.Time

	now func() time.Time
}

// New creates the auth service and restores any persisted session.
func New(
	ctx context.Context,
	p provider.Provider,
	b Backend,
	store sessionstore.Store,
	issuer *auth.TokenIssuer,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 15 * time.Minute
	}

	s := &Service{
		provider: p,
		backend:  b,
		store:    store,
		issuer:   issuer,
		cfg:      cfg,
		logger:   logger,
		state:    StateIdle,
		now:      time.Now,
	}
	s.restoreSession(ctx)
	return s
}

// State returns the current flow state and the last error message, which
// is empty unless the state is StateError.
func (s *Service) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

// Session returns the active session, or nil when not authenticated.
func (s *Service) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	out := *s.session
	return &out
}

// Authenticate runs the full sign-in flow and returns the established
// session. A concurrent call while one is in flight is rejected.
func (s *Service) Authenticate(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	if s.inflight {
		s.mu.Unlock()
		return nil, ErrAuthInProgress
	}
	s.inflight = true
	s.state = StateConnecting
	s.lastErr = ""
	s.mu.Unlock()

	session, err := s.authenticate(ctx)

	s.mu.Lock()
	s.inflight = false
	if err != nil {
		s.state = StateError
		s.lastErr = err.Error()
		s.mu.Unlock()
		metrics.AuthAttemptsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	s.state = StateAuthenticated
	s.session = session
	s.mu.Unlock()

	metrics.AuthAttemptsTotal.WithLabelValues("authenticated").Inc()

	s.persistSession(ctx, session)
	if s.cfg.OnAuthenticated != nil {
		s.cfg.OnAuthenticated(ctx, session.Address)
	}
	return session, nil
}

func (s *Service) authenticate(ctx context.Context) (*Session, error) {
	nonce, err := s.backend.GetAuthNonce(ctx, "")
	switch {
	case err == nil:
		s.rememberNonce(nonce)
	default:
		// A nonce issued inside its validity window still verifies, so
		// prefer the cached one over a local nonce the backend never saw.
		if nonce = s.recentNonce(); nonce != "" {
			s.logger.Warn("reusing recent backend nonce", zap.Error(err))
			break
		}
		nonce = strings.ReplaceAll(uuid.NewString(), "-", "")
		s.logger.Warn("using local auth nonce", zap.Error(err))
	}

	address, message, signature, err := s.signIn(ctx, nonce)
	if err != nil {
		if provider.IsUserRejected(err) {
			return nil, fmt.Errorf("sign-in rejected in wallet: %w", err)
		}
		return nil, err
	}
	address = auth.NormalizeAddress(address)

	s.setState(StateVerifying)

	// Reject bad signatures locally before burning a backend round trip.
	recovered, err := auth.VerifyEIP191Signature(message, signature)
	if err != nil {
		return nil, fmt.Errorf("verify signature: %w", err)
	}
	if auth.NormalizeAddress(recovered.Hex()) != address {
		return nil, fmt.Errorf("signature recovered %s, expected %s", recovered.Hex(), address)
	}

	resp, err := s.backend.VerifyAuth(ctx, &backend.VerifyRequest{
		Address:   address,
		Message:   message,
		Signature: signature,
	})
	if err != nil {
		return nil, fmt.Errorf("backend verification: %w", err)
	}
	if !resp.Verified {
		return nil, errors.New("backend rejected sign-in")
	}

	token, err := s.issuer.Issue(address)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	s.logger.Info("wallet authenticated",
		zap.String("address", address),
		zap.Int("credits", resp.Credits),
	)
	return &Session{
		Address:   address,
		Token:     token,
		Credits:   resp.Credits,
		Timestamp: s.now().UnixMilli(),
	}, nil
}

// signIn obtains (address, message, signature), preferring the one round
// trip wallet_connect capability.
func (s *Service) signIn(ctx context.Context, nonce string) (string, string, string, error) {
	result, err := provider.WalletConnect(ctx, s.provider, provider.ConnectParams{
		Version: "1",
		Capabilities: provider.ConnectCapabilities{
			SignInWithEthereum: &provider.SignInInput{
				Nonce:   nonce,
				ChainID: provider.ChainIDHex(siweChainID),
			},
		},
	})
	if err == nil {
		account := result.Accounts[0]
		siwe := account.Capabilities.SignInWithEthereum
		if siwe == nil {
			return "", "", "", errors.New("wallet_connect result missing sign-in capability")
		}
		return account.Address, siwe.Message, siwe.Signature, nil
	}
	if provider.IsUserRejected(err) {
		return "", "", "", err
	}
	s.logger.Debug("wallet_connect unavailable, using legacy flow", zap.Error(err))

	accounts, err := provider.RequestAccounts(ctx, s.provider)
	if err != nil {
		return "", "", "", fmt.Errorf("request accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", "", "", errors.New("wallet exposed no accounts")
	}
	address := accounts[0]

	s.setState(StateSigning)

	message := s.buildMessage(address, nonce)
	signature, err := provider.PersonalSign(ctx, s.provider, message, address)
	if err != nil {
		return "", "", "", err
	}
	return address, message, signature, nil
}

// buildMessage renders the EIP-4361 sign-in message.
func (s *Service) buildMessage(address, nonce string) string {
	return fmt.Sprintf(
		"%s wants you to sign in with your Ethereum account:\n%s\n\nSign in to Ghiblify\n\nURI: %s\nVersion: 1\nChain ID: %d\nNonce: %s\nIssued At: %s",
		s.cfg.Domain,
		address,
		s.cfg.URI,
		siweChainID,
		nonce,
		s.now().UTC().Format(time.RFC3339),
	)
}

// Logout clears the session and returns the flow to idle.
func (s *Service) Logout(ctx context.Context) {
	s.mu.Lock()
	s.state = StateIdle
	s.lastErr = ""
	s.session = nil
	s.mu.Unlock()

	if err := s.store.Delete(ctx, sessionstore.KeyAuthSession); err != nil {
		s.logger.Warn("failed to clear auth session", zap.Error(err))
	}
}

func (s *Service) rememberNonce(nonce string) {
	s.mu.Lock()
	s.lastNonce = nonce
	s.lastNonceAt = s.now()
	s.mu.Unlock()
}

// recentNonce returns the last backend-issued nonce if it is still
// inside the expiry window, otherwise empty.
func (s *Service) recentNonce() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastNonce == "" || s.now().Sub(s.lastNonceAt) > s.cfg.NonceTTL {
		return ""
	}
	return s.lastNonce
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Service) restoreSession(ctx context.Context) {
	raw, err := s.store.Get(ctx, sessionstore.KeyAuthSession)
	if err != nil {
		if !errors.Is(err, sessionstore.ErrNotFound) {
			s.logger.Warn("failed to load auth session", zap.Error(err))
		}
		return
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		s.logger.Warn("discarding corrupt auth session", zap.Error(err))
		_ = s.store.Delete(ctx, sessionstore.KeyAuthSession)
		return
	}
	age := s.now().Sub(time.UnixMilli(session.Timestamp))
	if age > s.cfg.SessionTTL {
		_ = s.store.Delete(ctx, sessionstore.KeyAuthSession)
		return
	}
	if _, err := s.issuer.Validate(session.Token); err != nil {
		s.logger.Debug("persisted session token no longer valid", zap.Error(err))
		_ = s.store.Delete(ctx, sessionstore.KeyAuthSession)
		return
	}

	s.mu.Lock()
	s.session = &session
	s.state = StateAuthenticated
	s.mu.Unlock()
	if s.cfg.OnAuthenticated != nil {
		s.cfg.OnAuthenticated(ctx, session.Address)
	}
	s.logger.Info("auth session restored", zap.String("address", session.Address))
}

func (s *Service) persistSession(ctx context.Context, session *Session) {
	raw, err := json.Marshal(session)
	if err != nil {
		s.logger.Warn("failed to marshal auth session", zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, sessionstore.KeyAuthSession, raw, s.cfg.SessionTTL); err != nil {
		s.logger.Warn("failed to persist auth session", zap.Error(err))
	}
}
