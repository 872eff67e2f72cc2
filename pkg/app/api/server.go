// Package api implements app.Runner for the walletd server process.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apphttp "github.com/ghiblify/wallet-middleware/pkg/app/http"
	"github.com/ghiblify/wallet-middleware/pkg/auth"
	"github.com/ghiblify/wallet-middleware/pkg/autoconnect"
	"github.com/ghiblify/wallet-middleware/pkg/backend"
	"github.com/ghiblify/wallet-middleware/pkg/config"
	"github.com/ghiblify/wallet-middleware/pkg/ethereum"
	"github.com/ghiblify/wallet-middleware/pkg/ethereum/contracts"
	"github.com/ghiblify/wallet-middleware/pkg/oracle"
	"github.com/ghiblify/wallet-middleware/pkg/payments"
	"github.com/ghiblify/wallet-middleware/pkg/paymentstore"
	"github.com/ghiblify/wallet-middleware/pkg/pgutil"
	"github.com/ghiblify/wallet-middleware/pkg/provider"
	"github.com/ghiblify/wallet-middleware/pkg/sessionstore"
	"github.com/ghiblify/wallet-middleware/pkg/siweauth"
	"github.com/ghiblify/wallet-middleware/pkg/wallet"
	walletservice "github.com/ghiblify/wallet-middleware/pkg/wallet/service"
)

const defaultRequestTimeout = 120 * time.Second

// Server holds cfg to init the walletd server.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new walletd server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("walletd config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting walletd",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	sessions, err := s.openSessionStore(ctx, logger)
	if err != nil {
		return err
	}

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() { _ = db.Close() }()
	logger.Info("Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database),
	)

	backendClient, err := backend.New(&cfg.Backend, backend.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create backend client: %w", err)
	}

	walletProvider, err := provider.Dial(ctx, cfg.Provider.URL, cfg.Provider.RequestTimeout, logger)
	if err != nil {
		return fmt.Errorf("connect wallet provider bridge: %w", err)
	}
	defer walletProvider.Close()

	baseClient, err := ethereum.NewClient(&cfg.Chains.Base, logger)
	if err != nil {
		return fmt.Errorf("connect base: %w", err)
	}
	defer baseClient.Close()

	celoClient, err := ethereum.NewClient(&cfg.Chains.Celo, logger)
	if err != nil {
		return fmt.Errorf("connect celo: %w", err)
	}
	defer celoClient.Close()

	token, tokenPayments, celoPayments, err := s.bindContracts(baseClient, celoClient)
	if err != nil {
		return err
	}

	issuer, err := auth.NewTokenIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("create token issuer: %w", err)
	}

	priceOracle := oracle.NewWithDefaultSources(&cfg.Oracle, logger)

	walletSvc := walletservice.NewService(ctx, backendClient, sessions, walletservice.Config{
		StateTTL:        cfg.Session.WalletTTL,
		ConnectDebounce: cfg.Session.ConnectDebounce,
	}, logger)

	authSvc := siweauth.New(ctx, walletProvider, backendClient, sessions, issuer, siweauth.Config{
		Domain:          cfg.Auth.Domain,
		URI:             cfg.Auth.URI,
		SessionTTL:      cfg.Session.AuthTTL,
		NonceTTL:        cfg.Session.NonceTTL,
		OnAuthenticated: walletSvc.MarkAuthenticated,
	}, logger)

	connector := autoconnect.ConnectorFunc(
		func(ctx context.Context, address string, _ autoconnect.Network) error {
			_, err := walletSvc.Connect(ctx, address, wallet.ProviderRainbowKit)
			return err
		})
	networks := autoconnect.New(ctx, walletProvider, sessions, connector, logger)

	paySvc := payments.NewService(&cfg.Payments, payments.Deps{
		Backend:       backendClient,
		Provider:      walletProvider,
		Networks:      networks,
		Oracle:        priceOracle,
		BaseClient:    baseClient,
		CeloClient:    celoClient,
		Token:         token,
		TokenPayments: tokenPayments,
		CeloPayments:  celoPayments,
		Credits:       walletSvc,
		Store:         paymentstore.NewStore(db),
		Sessions:      sessions,
	}, logger)

	s.startPurchaseWatcher(ctx, baseClient, tokenPayments, "base", logger)
	s.startPurchaseWatcher(ctx, celoClient, celoPayments, "celo", logger)

	router := s.newRouter(
		walletservice.NewLog(walletSvc, logger),
		payments.NewLog(paySvc, logger),
		authSvc,
		networks,
		priceOracle,
		issuer,
		logger,
	)

	err = apphttp.ServeAndWait(ctx, router, logger, &cfg.Server)

	// Abort in-flight payment polling before deferred client closes.
	paySvc.CancelAll()

	return err
}

// openSessionStore picks Redis when configured, otherwise the in-memory
// store. Memory is fine for a single instance; Redis is required when
// walletd runs replicated.
func (s *Server) openSessionStore(ctx context.Context, logger *zap.Logger) (sessionstore.Store, error) {
	if s.cfg.Redis.Addr == "" {
		logger.Info("Using in-memory session store")
		return sessionstore.NewMemory(), nil
	}

	store, err := sessionstore.NewRedis(ctx, &s.cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("Connected to Redis session store", zap.String("addr", s.cfg.Redis.Addr))
	return store, nil
}

func (s *Server) bindContracts(
	baseClient, celoClient *ethereum.Client,
) (*contracts.ERC20, *contracts.Payments, *contracts.Payments, error) {
	tokenAddr := s.cfg.Chains.Base.TokenContract
	if tokenAddr == "" {
		tokenAddr = oracle.GhiblifyTokenAddress
	}
	tokenPaymentsAddr := s.cfg.Chains.Base.PaymentsContract
	if tokenPaymentsAddr == "" {
		tokenPaymentsAddr = contracts.GhiblifyTokenPaymentsAddress
	}
	celoPaymentsAddr := s.cfg.Chains.Celo.PaymentsContract
	if celoPaymentsAddr == "" {
		celoPaymentsAddr = contracts.CeloPaymentsAddress
	}

	token, err := contracts.NewERC20(common.HexToAddress(tokenAddr), baseClient.Backend())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bind token contract: %w", err)
	}
	tokenPayments, err := contracts.NewPayments(common.HexToAddress(tokenPaymentsAddr), baseClient.Backend())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bind token payments contract: %w", err)
	}
	celoPayments, err := contracts.NewPayments(common.HexToAddress(celoPaymentsAddr), celoClient.Backend())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bind celo payments contract: %w", err)
	}
	return token, tokenPayments, celoPayments, nil
}

// startPurchaseWatcher tails CreditsPurchased events from the chain
// head as an audit trail alongside the backend's own event processing.
func (s *Server) startPurchaseWatcher(
	ctx context.Context,
	client *ethereum.Client,
	paymentsContract *contracts.Payments,
	chain string,
	logger *zap.Logger,
) {
	go func() {
		head, err := client.GetLatestBlockNumber(ctx)
		if err != nil {
			logger.Warn("Purchase watcher disabled, cannot read chain head",
				zap.String("chain", chain),
				zap.Error(err),
			)
			return
		}

		err = client.WatchCreditsPurchased(ctx, paymentsContract, client.WatchStartBlock(head),
			func(event *contracts.CreditsPurchasedEvent) error {
				logger.Info("Credits purchase observed on chain",
					zap.String("chain", chain),
					zap.String("buyer", event.Buyer.Hex()),
					zap.String("tier", event.PackageTier),
					zap.String("credits", event.Credits.String()),
					zap.String("tx_hash", event.Raw.TxHash.Hex()),
				)
				return nil
			})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Purchase watcher stopped",
				zap.String("chain", chain),
				zap.Error(err),
			)
		}
	}()
}

func (s *Server) newRouter(
	walletSvc walletservice.Service,
	paySvc payments.Service,
	authSvc *siweauth.Service,
	networks *autoconnect.Service,
	priceOracle *oracle.Oracle,
	issuer *auth.TokenIssuer,
	logger *zap.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if s.cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled", zap.String("path", "/metrics"))
	}

	guard := issuer.Middleware

	walletservice.RegisterRoutes(r, walletSvc, guard, logger)
	payments.RegisterRoutes(r, paySvc, guard, logger)
	siweauth.RegisterRoutes(r, authSvc, logger)
	autoconnect.RegisterRoutes(r, networks, logger)
	oracle.RegisterRoutes(r, priceOracle, logger)

	return r
}
