// Package service implements the unified wallet connection service: one
// connection snapshot shared by every consumer, with the backend as the
// single authority for credit balances.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ghiblify/wallet-middleware/internal/metrics"
	apperrors "github.com/ghiblify/wallet-middleware/pkg/app/errors"
	"github.com/ghiblify/wallet-middleware/pkg/auth"
	"github.com/ghiblify/wallet-middleware/pkg/sessionstore"
	"github.com/ghiblify/wallet-middleware/pkg/wallet"
)

const (
	defaultStateTTL        = time.Hour
	defaultConnectDebounce = 2 * time.Second
)

var (
	ErrNotConnected   = errors.New("no wallet connected")
	ErrConnectTooSoon = errors.New("connection attempt too soon")
)

// Backend is the subset of the backend client the wallet service needs.
//
//go:generate mockery --name Backend --output mocks --outpkg mocks --filename mock_backend.go --with-expecter
type Backend interface {
	RegisterWallet(ctx context.Context, address, provider string) error
	GetCredits(ctx context.Context, address string) (int, error)
	UseCredits(ctx context.Context, address string, amount int) (int, error)
	AddCredits(ctx context.Context, address string, amount int) (int, error)
}

// Service defines the wallet connection business logic.
//
//go:generate mockery --name Service --output mocks --outpkg mocks --filename mock_service.go --with-expecter
type Service interface {
	Connect(ctx context.Context, address string, provider wallet.Provider) (wallet.Connection, error)
	Disconnect(ctx context.Context) error
	RefreshCredits(ctx context.Context) (int, error)
	UseCredits(ctx context.Context, amount int) (int, error)
	AddCredits(ctx context.Context, amount int) (int, error)
	RefundCredits(ctx context.Context, amount int) (int, error)
	MarkAuthenticated(ctx context.Context, address string)
	GetState() wallet.Connection
	Subscribe(fn func(wallet.Connection)) func()
}

// Config carries the session lifecycle settings.
type Config struct {
	StateTTL        time.Duration
	ConnectDebounce time.Duration
}

type walletService struct {
	backend Backend
	store   sessionstore.Store
	cfg     Config
	logger  *zap.Logger

	mu          sync.Mutex
	conn        wallet.Connection
	subscribers map[int]func(wallet.Connection)
	nextSubID   int
	lastAttempt map[string]time.Time
	connecting  map[string]bool

	now func() time.Time
}

// NewService creates the wallet service, restoring a persisted connection
// if one exists and is still fresh.
func NewService(
	ctx context.Context,
	backend Backend,
	store sessionstore.Store,
	cfg Config,
	logger *zap.Logger,
) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = defaultStateTTL
	}
	if cfg.ConnectDebounce <= 0 {
		cfg.ConnectDebounce = defaultConnectDebounce
	}

	s := &walletService{
		backend:     backend,
		store:       store,
		cfg:         cfg,
		logger:      logger,
		subscribers: make(map[int]func(wallet.Connection)),
		lastAttempt: make(map[string]time.Time),
		connecting:  make(map[string]bool),
		now:         time.Now,
	}
	s.restoreState(ctx)
	return s
}

// Connect establishes the wallet connection for address. Connecting a
// second wallet replaces the first. Repeat attempts for the same address
// inside the debounce window are rejected.
func (s *walletService) Connect(
	ctx context.Context,
	address string,
	provider wallet.Provider,
) (wallet.Connection, error) {
	if !auth.ValidateEVMAddress(address) {
		return wallet.Connection{}, apperrors.BadRequestError(nil, "invalid EVM address")
	}
	if !provider.Valid() {
		return wallet.Connection{}, apperrors.BadRequestError(nil, fmt.Sprintf("unknown wallet provider %q", provider))
	}
	address = auth.NormalizeAddress(address)

	s.mu.Lock()
	if s.connecting[address] {
		s.mu.Unlock()
		return wallet.Connection{}, apperrors.TooManyRequestsError(ErrConnectTooSoon, "connection already in progress")
	}
	now := s.now()
	s.pruneAttempts(now)
	if last, ok := s.lastAttempt[address]; ok && now.Sub(last) < s.cfg.ConnectDebounce {
		s.mu.Unlock()
		return wallet.Connection{}, apperrors.TooManyRequestsError(ErrConnectTooSoon, "connection attempt too soon")
	}
	s.connecting[address] = true
	s.lastAttempt[address] = now
	cached := s.cachedCredits(address)
	s.conn.IsLoading = true
	s.conn.Error = ""
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.connecting, address)
		s.mu.Unlock()
	}()

	s.notify()

	// Registration is idempotent on the backend and never blocks the
	// connection.
	go func() {
		regCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.backend.RegisterWallet(regCtx, address, string(provider)); err != nil {
			s.logger.Warn("wallet registration failed",
				zap.String("address", address),
				zap.Error(err),
			)
		}
	}()

	credits, err := s.backend.GetCredits(ctx, address)
	if err != nil {
		s.logger.Warn("credits fetch failed on connect, using cached balance",
			zap.String("address", address),
			zap.Int("cached", cached),
			zap.Error(err),
		)
		credits = cached
	}

	s.mu.Lock()
	s.conn = wallet.Connection{
		IsConnected: true,
		User: &wallet.User{
			Address:   address,
			Provider:  provider,
			Credits:   credits,
			Timestamp: s.now().UnixMilli(),
		},
	}
	snapshot := s.conn.Clone()
	s.mu.Unlock()

	s.persistState(ctx)
	s.notify()

	metrics.WalletConnectsTotal.WithLabelValues(string(provider), "connected").Inc()
	s.logger.Info("wallet connected",
		zap.String("address", address),
		zap.String("provider", string(provider)),
		zap.Int("credits", credits),
	)
	return snapshot, nil
}

// Disconnect clears the connection and the persisted snapshot.
func (s *walletService) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	address := ""
	if s.conn.User != nil {
		address = s.conn.User.Address
	}
	s.conn = wallet.Connection{}
	s.mu.Unlock()

	if err := s.store.Delete(ctx, sessionstore.KeyWalletState); err != nil {
		s.logger.Warn("failed to clear wallet state", zap.Error(err))
	}
	s.notify()

	if address != "" {
		s.logger.Info("wallet disconnected", zap.String("address", address))
	}
	return nil
}

// RefreshCredits re-reads the balance from the backend.
func (s *walletService) RefreshCredits(ctx context.Context) (int, error) {
	address, err := s.connectedAddress()
	if err != nil {
		return 0, err
	}
	credits, err := s.backend.GetCredits(ctx, address)
	if err != nil {
		return 0, err
	}
	s.setCredits(ctx, credits)
	return credits, nil
}

// UseCredits spends credits. The backend decides whether the balance
// covers the spend and returns the new balance.
func (s *walletService) UseCredits(ctx context.Context, amount int) (int, error) {
	address, err := s.connectedAddress()
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, apperrors.BadRequestError(nil, "credit amount must be positive")
	}
	balance, err := s.backend.UseCredits(ctx, address, amount)
	if err != nil {
		return 0, err
	}
	s.setCredits(ctx, balance)
	return balance, nil
}

// AddCredits grants credits after a completed payment.
func (s *walletService) AddCredits(ctx context.Context, amount int) (int, error) {
	address, err := s.connectedAddress()
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, apperrors.BadRequestError(nil, "credit amount must be positive")
	}
	balance, err := s.backend.AddCredits(ctx, address, amount)
	if err != nil {
		return 0, err
	}
	s.setCredits(ctx, balance)
	return balance, nil
}

// RefundCredits returns credits after a failed generation. The backend
// treats it as a grant; the distinction only matters for logging.
func (s *walletService) RefundCredits(ctx context.Context, amount int) (int, error) {
	balance, err := s.AddCredits(ctx, amount)
	if err != nil {
		return 0, err
	}
	s.logger.Info("credits refunded", zap.Int("amount", amount), zap.Int("balance", balance))
	return balance, nil
}

// MarkAuthenticated flags the connected user as having completed the
// sign-in flow. A mismatched or missing connection is a no-op.
func (s *walletService) MarkAuthenticated(ctx context.Context, address string) {
	address = auth.NormalizeAddress(address)
	s.mu.Lock()
	if s.conn.User == nil || s.conn.User.Address != address {
		s.mu.Unlock()
		return
	}
	if s.conn.User.Authenticated {
		s.mu.Unlock()
		return
	}
	s.conn.User.Authenticated = true
	s.mu.Unlock()

	s.persistState(ctx)
	s.notify()
	s.logger.Info("wallet marked authenticated", zap.String("address", address))
}

// GetState returns the current connection snapshot.
func (s *walletService) GetState() wallet.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Clone()
}

// Subscribe registers fn for state changes. It is invoked immediately
// with the current snapshot and synchronously on every change. The
// returned function removes the subscription.
func (s *walletService) Subscribe(fn func(wallet.Connection)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	snapshot := s.conn.Clone()
	s.mu.Unlock()

	fn(snapshot)

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *walletService) connectedAddress() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.conn.IsConnected || s.conn.User == nil {
		return "", apperrors.UnAuthorizedError(ErrNotConnected, "no wallet connected")
	}
	return s.conn.User.Address, nil
}

func (s *walletService) setCredits(ctx context.Context, credits int) {
	s.mu.Lock()
	if s.conn.User != nil {
		s.conn.User.Credits = credits
	}
	s.mu.Unlock()
	s.persistState(ctx)
	s.notify()
}

// pruneAttempts drops debounce entries whose window has passed, keeping
// the map bounded by the number of concurrently active addresses.
// Callers hold s.mu.
func (s *walletService) pruneAttempts(now time.Time) {
	for addr, last := range s.lastAttempt {
		if now.Sub(last) >= s.cfg.ConnectDebounce {
			delete(s.lastAttempt, addr)
		}
	}
}

// cachedCredits returns the last known balance for address. The restored
// persisted snapshot is already in s.conn. Callers hold s.mu.
func (s *walletService) cachedCredits(address string) int {
	if s.conn.User != nil && s.conn.User.Address == address {
		return s.conn.User.Credits
	}
	return 0
}

func (s *walletService) notify() {
	s.mu.Lock()
	snapshot := s.conn.Clone()
	fns := make([]func(wallet.Connection), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

func (s *walletService) restoreState(ctx context.Context) {
	raw, err := s.store.Get(ctx, sessionstore.KeyWalletState)
	if err != nil {
		if !errors.Is(err, sessionstore.ErrNotFound) {
			s.logger.Warn("failed to load wallet state", zap.Error(err))
		}
		return
	}

	var conn wallet.Connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		s.logger.Warn("discarding corrupt wallet state", zap.Error(err))
		_ = s.store.Delete(ctx, sessionstore.KeyWalletState)
		return
	}
	if conn.User == nil {
		return
	}
	if s.now().Sub(time.UnixMilli(conn.User.Timestamp)) > s.cfg.StateTTL {
		_ = s.store.Delete(ctx, sessionstore.KeyWalletState)
		return
	}

	conn.IsLoading = false
	conn.Error = ""
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.logger.Info("wallet state restored", zap.String("address", conn.User.Address))
}

func (s *walletService) persistState(ctx context.Context) {
	s.mu.Lock()
	snapshot := s.conn.Clone()
	s.mu.Unlock()

	if !snapshot.IsConnected || snapshot.User == nil {
		return
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Warn("failed to marshal wallet state", zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, sessionstore.KeyWalletState, raw, s.cfg.StateTTL); err != nil {
		s.logger.Warn("failed to persist wallet state", zap.Error(err))
	}
}
