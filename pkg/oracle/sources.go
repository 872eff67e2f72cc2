package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// GhiblifyTokenAddress is the $GHIBLIFY ERC-20 contract on Base.
const GhiblifyTokenAddress = "0xc2B2EA7f6218CC37debBAFE71361C088329AE090"

// Fetcher retrieves a price reading from one feed.
type Fetcher interface {
	Fetch(ctx context.Context) (*TokenPriceData, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (*TokenPriceData, error)

func (f FetcherFunc) Fetch(ctx context.Context) (*TokenPriceData, error) {
	return f(ctx)
}

// DexScreenerFetcher reads the token's most liquid pair from the
// DexScreener token endpoint.
type DexScreenerFetcher struct {
	baseURL      string
	tokenAddress string
	httpClient   *http.Client
}

// NewDexScreenerFetcher creates the primary price fetcher.
func NewDexScreenerFetcher(baseURL, tokenAddress string, timeout time.Duration) *DexScreenerFetcher {
	return &DexScreenerFetcher{
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokenAddress: tokenAddress,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (f *DexScreenerFetcher) Fetch(ctx context.Context) (*TokenPriceData, error) {
	var resp struct {
		Pairs []struct {
			PriceUSD    string `json:"priceUsd"`
			MarketCap   float64 `json:"marketCap"`
			PriceChange struct {
				H24 float64 `json:"h24"`
			} `json:"priceChange"`
		} `json:"pairs"`
	}
	url := f.baseURL + "/" + f.tokenAddress
	if err := fetchJSON(ctx, f.httpClient, url, &resp); err != nil {
		return nil, err
	}
	if len(resp.Pairs) == 0 {
		return nil, fmt.Errorf("dexscreener: no pairs for token %s", f.tokenAddress)
	}

	price, err := strconv.ParseFloat(resp.Pairs[0].PriceUSD, 64)
	if err != nil {
		return nil, fmt.Errorf("dexscreener: parse price %q: %w", resp.Pairs[0].PriceUSD, err)
	}

	return &TokenPriceData{
		PriceUSD:  price,
		Timestamp: time.Now(),
		Source:    SourcePrimary,
		MarketCap: resp.Pairs[0].MarketCap,
		Change24h: resp.Pairs[0].PriceChange.H24,
	}, nil
}

// GeckoTerminalFetcher reads the token attributes from the GeckoTerminal
// network token endpoint.
type GeckoTerminalFetcher struct {
	baseURL      string
	tokenAddress string
	httpClient   *http.Client
}

// NewGeckoTerminalFetcher creates the secondary price fetcher.
func NewGeckoTerminalFetcher(baseURL, tokenAddress string, timeout time.Duration) *GeckoTerminalFetcher {
	return &GeckoTerminalFetcher{
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokenAddress: tokenAddress,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (f *GeckoTerminalFetcher) Fetch(ctx context.Context) (*TokenPriceData, error) {
	var resp struct {
		Data struct {
			Attributes struct {
				PriceUSD     string `json:"price_usd"`
				MarketCapUSD string `json:"market_cap_usd"`
			} `json:"attributes"`
		} `json:"data"`
	}
	url := f.baseURL + "/" + f.tokenAddress
	if err := fetchJSON(ctx, f.httpClient, url, &resp); err != nil {
		return nil, err
	}

	price, err := strconv.ParseFloat(resp.Data.Attributes.PriceUSD, 64)
	if err != nil {
		return nil, fmt.Errorf("geckoterminal: parse price %q: %w", resp.Data.Attributes.PriceUSD, err)
	}

	marketCap := 0.0
	if resp.Data.Attributes.MarketCapUSD != "" {
		marketCap, _ = strconv.ParseFloat(resp.Data.Attributes.MarketCapUSD, 64)
	}

	return &TokenPriceData{
		PriceUSD:  price,
		Timestamp: time.Now(),
		Source:    SourceSecondary,
		MarketCap: marketCap,
	}, nil
}

// CoinGeckoFetcher reads the simple token price endpoint keyed by
// contract address.
type CoinGeckoFetcher struct {
	baseURL      string
	tokenAddress string
	httpClient   *http.Client
}

// NewCoinGeckoFetcher creates the tertiary price fetcher.
func NewCoinGeckoFetcher(baseURL, tokenAddress string, timeout time.Duration) *CoinGeckoFetcher {
	return &CoinGeckoFetcher{
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokenAddress: tokenAddress,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (f *CoinGeckoFetcher) Fetch(ctx context.Context) (*TokenPriceData, error) {
	var resp map[string]struct {
		USD          float64 `json:"usd"`
		USD24hChange float64 `json:"usd_24h_change"`
		USDMarketCap float64 `json:"usd_market_cap"`
	}
	url := fmt.Sprintf(
		"%s?contract_addresses=%s&vs_currencies=usd&include_24hr_change=true&include_market_cap=true",
		f.baseURL, f.tokenAddress,
	)
	if err := fetchJSON(ctx, f.httpClient, url, &resp); err != nil {
		return nil, err
	}

	entry, ok := resp[strings.ToLower(f.tokenAddress)]
	if !ok {
		return nil, fmt.Errorf("coingecko: token %s not in response", f.tokenAddress)
	}

	return &TokenPriceData{
		PriceUSD:  entry.USD,
		Timestamp: time.Now(),
		Source:    SourceTertiary,
		MarketCap: entry.USDMarketCap,
		Change24h: entry.USD24hChange,
	}, nil
}

func fetchJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
