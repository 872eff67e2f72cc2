package oracle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "github.com/ghiblify/wallet-middleware/pkg/app/errors"
)

const (
	// TokenDecimals is the $GHIBLIFY ERC-20 decimal count.
	TokenDecimals = 18

	// tokenDiscount is the token-payment discount applied to the tier's
	// USD price before conversion.
	tokenDiscount = 0.5

	// safetyBuffer over-provisions the token amount to tolerate price
	// drift between calculation and on-chain confirmation.
	safetyBuffer = 1.05
)

// CalculateTokenAmount converts a tier's USD price into a token amount
// in the smallest unit: 50% discount, then a 5% buffer, rounded up.
func (o *Oracle) CalculateTokenAmount(ctx context.Context, usdAmount float64, tier string) (*PricingCalculation, error) {
	if usdAmount <= 0 {
		return nil, apperrors.BadRequestError(
			fmt.Errorf("usd amount must be positive, got %g", usdAmount),
			"invalid amount",
		)
	}

	price := o.GetTokenPrice(ctx)
	if price.PriceUSD <= 0 {
		return nil, apperrors.DependencyFailureError(
			fmt.Errorf("no usable token price (source=%s)", price.Source),
			"token price unavailable",
		)
	}

	usd := decimal.NewFromFloat(usdAmount)
	priceDec := decimal.NewFromFloat(price.PriceUSD)

	discounted := usd.Mul(decimal.NewFromFloat(1 - tokenDiscount))
	tokens := discounted.
		DivRound(priceDec, TokenDecimals+2).
		Mul(decimal.NewFromFloat(safetyBuffer))

	smallestUnit := tokens.Shift(TokenDecimals).Ceil()

	savings, _ := usd.Sub(discounted).Float64()

	return &PricingCalculation{
		Tier:                 tier,
		USDAmount:            usdAmount,
		TokenAmount:          smallestUnit.BigInt(),
		TokenAmountFormatted: tokens.Round(4).String(),
		PricePerToken:        price.PriceUSD,
		Discount:             tokenDiscount,
		Savings:              savings,
	}, nil
}
