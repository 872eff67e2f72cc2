// Package autoconnect implements connection policy: which network to
// attempt first, fallback ordering, and explicit network switching in
// the user's wallet.
package autoconnect

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ghiblify/wallet-middleware/pkg/provider"
	"github.com/ghiblify/wallet-middleware/pkg/sessionstore"
)

// Config is the persisted auto-connection preference.
type Config struct {
	PreferredNetwork Network `json:"preferredNetwork"`
	EnableFallback   bool    `json:"enableFallback"`
	SkipAutoConnect  bool    `json:"skipAutoConnect"`
}

// Connector attempts a wallet connection on a specific network. The
// unified wallet service implements this.
type Connector interface {
	ConnectOnNetwork(ctx context.Context, address string, network Network) error
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, address string, network Network) error

func (f ConnectorFunc) ConnectOnNetwork(ctx context.Context, address string, network Network) error {
	return f(ctx, address, network)
}

// Service drives auto-connection attempts and network switching.
type Service struct {
	provider  provider.Provider
	store     sessionstore.Store
	connector Connector
	logger    *zap.Logger

	mu       sync.Mutex
	cfg      Config
	inflight map[string]bool
}

// New creates the service, restoring any persisted network preference.
func New(
	ctx context.Context,
	p provider.Provider,
	store sessionstore.Store,
	connector Connector,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		provider:  p,
		store:     store,
		connector: connector,
		logger:    logger,
		cfg: Config{
			PreferredNetwork: NetworkAuto,
			EnableFallback:   true,
		},
		inflight: make(map[string]bool),
	}
	s.restorePreference(ctx)
	return s
}

// Config returns the current preference snapshot.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig replaces the preference and persists it.
func (s *Service) SetConfig(ctx context.Context, cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.persistPreference(ctx)
}

// AttemptAutoConnection tries the preferred network first, then the
// fallback priority order, returning the network that connected or ""
// if all fail. Concurrent attempts for the same address are suppressed.
func (s *Service) AttemptAutoConnection(ctx context.Context, address string) (Network, error) {
	s.mu.Lock()
	if s.cfg.SkipAutoConnect {
		s.mu.Unlock()
		return "", nil
	}
	if s.inflight[address] {
		s.mu.Unlock()
		return "", errors.New("auto-connection already in progress for address")
	}
	s.inflight[address] = true
	preferred := s.cfg.PreferredNetwork
	fallback := s.cfg.EnableFallback
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, address)
		s.mu.Unlock()
	}()

	var tried Network
	if preferred != NetworkAuto && preferred != "" {
		err := s.connector.ConnectOnNetwork(ctx, address, preferred)
		if err == nil {
			return preferred, nil
		}
		s.logger.Debug("preferred network connection failed",
			zap.String("network", string(preferred)),
			zap.Error(err),
		)
		tried = preferred
		if !fallback {
			return "", nil
		}
	}

	for _, network := range fallbackOrder {
		if network == tried {
			continue
		}
		err := s.connector.ConnectOnNetwork(ctx, address, network)
		if err == nil {
			return network, nil
		}
		s.logger.Debug("fallback network connection failed",
			zap.String("network", string(network)),
			zap.Error(err),
		)
	}
	return "", nil
}

// SwitchNetwork asks the wallet to change its active chain. If the
// wallet does not know the chain, the chain descriptor is added and the
// switch retried once. The preference is persisted only on success.
func (s *Service) SwitchNetwork(ctx context.Context, address string, target Network) bool {
	chainID, err := ChainID(target)
	if err != nil {
		s.logger.Warn("switch requested for unknown network", zap.String("network", string(target)))
		return false
	}
	hexID := provider.ChainIDHex(chainID)

	err = provider.SwitchChain(ctx, s.provider, hexID)
	if err != nil && provider.IsUnrecognizedChain(err) {
		descriptor := chainDescriptors[target]
		if addErr := provider.AddChain(ctx, s.provider, descriptor); addErr != nil {
			s.logger.Warn("failed to add chain to wallet",
				zap.String("network", string(target)),
				zap.Error(addErr),
			)
			return false
		}
		err = provider.SwitchChain(ctx, s.provider, hexID)
	}
	if err != nil {
		s.logger.Warn("network switch failed",
			zap.String("network", string(target)),
			zap.String("address", address),
			zap.Error(err),
		)
		return false
	}

	s.mu.Lock()
	s.cfg.PreferredNetwork = target
	s.mu.Unlock()
	s.persistPreference(ctx)

	s.logger.Info("network switched",
		zap.String("network", string(target)),
		zap.String("address", address),
	)
	return true
}

// ValidateNetwork reports whether the wallet's active chain matches the
// chain the given network requires.
func (s *Service) ValidateNetwork(ctx context.Context, network Network) (bool, error) {
	required, err := ChainID(network)
	if err != nil {
		return false, err
	}
	active, err := provider.ChainID(ctx, s.provider)
	if err != nil {
		return false, err
	}
	return active == required, nil
}

// Persistence is best-effort: failures are logged, never fatal.

func (s *Service) restorePreference(ctx context.Context) {
	raw, err := s.store.Get(ctx, sessionstore.KeyNetworkPreference)
	if err != nil {
		if !errors.Is(err, sessionstore.ErrNotFound) {
			s.logger.Warn("failed to load network preference", zap.Error(err))
		}
		return
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		s.logger.Warn("discarding corrupt network preference", zap.Error(err))
		_ = s.store.Delete(ctx, sessionstore.KeyNetworkPreference)
		return
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) persistPreference(ctx context.Context) {
	s.mu.Lock()
	raw, err := json.Marshal(s.cfg)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("failed to marshal network preference", zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, sessionstore.KeyNetworkPreference, raw, 0); err != nil {
		s.logger.Warn("failed to persist network preference", zap.Error(err))
	}
}
