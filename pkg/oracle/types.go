package oracle

import (
	"math/big"
	"time"
)

// Source identifies which feed produced a price reading.
type Source string

const (
	SourcePrimary   Source = "primary"
	SourceSecondary Source = "secondary"
	SourceTertiary  Source = "tertiary"
	SourceFallback  Source = "fallback"
)

// TokenPriceData is a normalized price reading for the payment token.
type TokenPriceData struct {
	PriceUSD  float64   `json:"price_usd"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	MarketCap float64   `json:"market_cap"`
	Change24h float64   `json:"change_24h"`
}

// PricingCalculation is the derived cost of a purchase tier in tokens.
// TokenAmount is in the token's smallest unit (18 decimals).
type PricingCalculation struct {
	Tier                 string   `json:"tier"`
	USDAmount            float64  `json:"usd_amount"`
	TokenAmount          *big.Int `json:"token_amount"`
	TokenAmountFormatted string   `json:"token_amount_formatted"`
	PricePerToken        float64  `json:"price_per_token"`
	Discount             float64  `json:"discount"`
	Savings              float64  `json:"savings"`
}
