// Package oracle produces a trustworthy USD price for the payment token,
// tolerant of any single data source failing or lying, and derives
// token-denominated purchase amounts.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ghiblify/wallet-middleware/internal/metrics"
	"github.com/ghiblify/wallet-middleware/pkg/config"
)

const (
	defaultCacheTTL        = 5 * time.Minute
	defaultMaxDeviation    = 0.5
	defaultMaxPriceUSD     = 1.0
	defaultStabilityWindow = 0.3
	historyWindow          = 24 * time.Hour
)

type pricePoint struct {
	price     float64
	timestamp time.Time
}

type inflightFetch struct {
	done   chan struct{}
	result *TokenPriceData
}

// Oracle caches the current token price with a TTL, refreshes it from an
// ordered list of sources behind a circuit breaker, and keeps a bounded
// rolling history for trend classification.
type Oracle struct {
	fetchers        []Fetcher
	fallbackPrice   float64
	cacheTTL        time.Duration
	maxDeviation    float64
	maxPriceUSD     float64
	stabilityWindow float64
	logger          *zap.Logger
	now             func() time.Time

	mu           sync.Mutex
	cached       *TokenPriceData
	lastAccepted float64
	history      []pricePoint
	inflight     *inflightFetch
}

// New creates an oracle over the given fetchers, tried in order.
func New(cfg *config.OracleConfig, fetchers []Fetcher, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Oracle{
		fetchers:        fetchers,
		fallbackPrice:   cfg.FallbackPriceUSD,
		cacheTTL:        cfg.CacheTTL,
		maxDeviation:    cfg.MaxDeviation,
		maxPriceUSD:     cfg.MaxPriceUSD,
		stabilityWindow: cfg.StabilityWindow,
		logger:          logger,
		now:             time.Now,
	}
	if o.cacheTTL <= 0 {
		o.cacheTTL = defaultCacheTTL
	}
	if o.maxDeviation <= 0 {
		o.maxDeviation = defaultMaxDeviation
	}
	if o.maxPriceUSD <= 0 {
		o.maxPriceUSD = defaultMaxPriceUSD
	}
	if o.stabilityWindow <= 0 {
		o.stabilityWindow = defaultStabilityWindow
	}
	return o
}

// NewWithDefaultSources creates an oracle wired to the standard feed
// order: DexScreener, GeckoTerminal, CoinGecko.
func NewWithDefaultSources(cfg *config.OracleConfig, logger *zap.Logger) *Oracle {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	fetchers := []Fetcher{
		NewDexScreenerFetcher(cfg.DexScreenerURL, GhiblifyTokenAddress, timeout),
		NewGeckoTerminalFetcher(cfg.GeckoTerminalURL, GhiblifyTokenAddress, timeout),
		NewCoinGeckoFetcher("https://api.coingecko.com/api/v3/simple/token_price/base",
			GhiblifyTokenAddress, timeout),
	}
	return New(cfg, fetchers, logger)
}

// GetTokenPrice returns the current price. A cached value younger than
// the TTL is served directly; otherwise the sources are consulted in
// order and concurrent callers share one in-flight refresh. This method
// never returns an error: if every source fails the previous cached
// value is kept, or the hardcoded fallback is served.
func (o *Oracle) GetTokenPrice(ctx context.Context) *TokenPriceData {
	o.mu.Lock()

	if o.cached != nil && o.now().Sub(o.cached.Timestamp) < o.cacheTTL {
		price := *o.cached
		o.mu.Unlock()
		return &price
	}

	if o.inflight != nil {
		flight := o.inflight
		o.mu.Unlock()
		select {
		case <-flight.done:
			price := *flight.result
			return &price
		case <-ctx.Done():
			return o.currentOrFallback()
		}
	}

	flight := &inflightFetch{done: make(chan struct{})}
	o.inflight = flight
	o.mu.Unlock()

	result := o.refresh(ctx)

	o.mu.Lock()
	flight.result = result
	o.inflight = nil
	o.mu.Unlock()
	close(flight.done)

	price := *result
	return &price
}

// refresh tries each source in order and runs the winner through the
// circuit breaker. The returned value is always non-nil.
func (o *Oracle) refresh(ctx context.Context) *TokenPriceData {
	for i, fetcher := range o.fetchers {
		fetched, err := fetcher.Fetch(ctx)
		if err != nil {
			metrics.PriceFetchesTotal.WithLabelValues(fmt.Sprintf("source_%d", i), "error").Inc()
			o.logger.Warn("price source failed",
				zap.Int("source_index", i),
				zap.Error(err),
			)
			continue
		}

		if err := o.accept(fetched); err != nil {
			metrics.PriceFetchesTotal.WithLabelValues(string(fetched.Source), "rejected").Inc()
			o.logger.Warn("price rejected by circuit breaker",
				zap.Float64("price_usd", fetched.PriceUSD),
				zap.String("source", string(fetched.Source)),
				zap.Error(err),
			)
			continue
		}

		metrics.PriceFetchesTotal.WithLabelValues(string(fetched.Source), "accepted").Inc()
		metrics.TokenPriceUSD.Set(fetched.PriceUSD)
		o.logger.Debug("token price refreshed",
			zap.Float64("price_usd", fetched.PriceUSD),
			zap.String("source", string(fetched.Source)),
		)
		return fetched
	}

	return o.currentOrFallback()
}

// accept validates a fresh reading and, if it passes, installs it as the
// current cached price.
func (o *Oracle) accept(fetched *TokenPriceData) error {
	if fetched.PriceUSD <= 0 {
		return fmt.Errorf("non-positive price: %g", fetched.PriceUSD)
	}
	if fetched.PriceUSD > o.maxPriceUSD {
		return fmt.Errorf("implausible price: %g > %g", fetched.PriceUSD, o.maxPriceUSD)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lastAccepted > 0 {
		deviation := (fetched.PriceUSD - o.lastAccepted) / o.lastAccepted
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > o.maxDeviation {
			return fmt.Errorf("deviation %.0f%% from last accepted price %g exceeds limit",
				deviation*100, o.lastAccepted)
		}
	}

	o.cached = fetched
	o.lastAccepted = fetched.PriceUSD
	o.recordLocked(fetched)
	return nil
}

// currentOrFallback returns the previous cached value if one exists,
// without refreshing its timestamp, so the next call retries the
// sources. With no cache at all, the fallback price is installed.
func (o *Oracle) currentOrFallback() *TokenPriceData {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cached != nil && o.cached.Source != SourceFallback {
		price := *o.cached
		return &price
	}

	fallback := &TokenPriceData{
		PriceUSD:  o.fallbackPrice,
		Timestamp: o.now(),
		Source:    SourceFallback,
	}
	o.cached = fallback
	o.logger.Warn("all price sources failed, using fallback",
		zap.Float64("price_usd", o.fallbackPrice),
	)
	price := *fallback
	return &price
}

// recordLocked appends to the rolling history and prunes entries older
// than the window. Caller holds o.mu.
func (o *Oracle) recordLocked(fetched *TokenPriceData) {
	o.history = append(o.history, pricePoint{price: fetched.PriceUSD, timestamp: fetched.Timestamp})

	cutoff := o.now().Add(-historyWindow)
	firstValid := 0
	for firstValid < len(o.history) && o.history[firstValid].timestamp.Before(cutoff) {
		firstValid++
	}
	if firstValid > 0 {
		o.history = o.history[firstValid:]
	}
}

// IsPriceStable reports whether the 24h change is inside the stability
// window. Token-denominated payments are gated on this.
func (o *Oracle) IsPriceStable(ctx context.Context) bool {
	price := o.GetTokenPrice(ctx)
	if price.Source == SourceFallback {
		return false
	}

	change := price.Change24h
	if change == 0 {
		change = o.historyChange(price.PriceUSD)
	}
	if change < 0 {
		change = -change
	}
	return change < o.stabilityWindow*100
}

// historyChange derives a 24h change percentage from the rolling history
// when the source did not report one.
func (o *Oracle) historyChange(current float64) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.history) == 0 || o.history[0].price <= 0 {
		return 0
	}
	oldest := o.history[0].price
	return (current - oldest) / oldest * 100
}
