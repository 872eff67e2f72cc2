// Package pricing holds the purchase tier table and per-method discounts.
package pricing

import (
	"fmt"
	"math"
	"strings"
)

// Method identifies a payment rail.
type Method string

const (
	MethodStripe  Method = "stripe"
	MethodCelo    Method = "celo"
	MethodBasePay Method = "base_pay"
	MethodToken   Method = "ghiblify_token"
)

// Valid reports whether m is a known payment method.
func (m Method) Valid() bool {
	switch m {
	case MethodStripe, MethodCelo, MethodBasePay, MethodToken:
		return true
	}
	return false
}

// ParseMethod converts a string into a Method, rejecting unknown values.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(s))
	if !m.Valid() {
		return "", fmt.Errorf("unknown payment method: %q", s)
	}
	return m, nil
}

// Tier is a named purchase package.
type Tier struct {
	Name     string  `json:"name"`
	PriceUSD float64 `json:"price_usd"`
	Credits  int     `json:"credits"`
}

var tiers = map[string]Tier{
	"starter":   {Name: "starter", PriceUSD: 0.50, Credits: 1},
	"pro":       {Name: "pro", PriceUSD: 4.99, Credits: 12},
	"unlimited": {Name: "unlimited", PriceUSD: 9.99, Credits: 30},
}

// Discounts by payment method, as a fraction of the base USD price.
// The token payment discount is applied by the price oracle during
// token amount calculation.
var discounts = map[Method]float64{
	MethodStripe:  0,
	MethodCelo:    0.30,
	MethodBasePay: 0.30,
	MethodToken:   0.50,
}

// GetTier looks up a purchase tier by name.
func GetTier(name string) (Tier, error) {
	tier, ok := tiers[strings.ToLower(name)]
	if !ok {
		return Tier{}, fmt.Errorf("unknown tier: %q", name)
	}
	return tier, nil
}

// Tiers returns all tiers keyed by name.
func Tiers() map[string]Tier {
	out := make(map[string]Tier, len(tiers))
	for k, v := range tiers {
		out[k] = v
	}
	return out
}

// Discount returns the discount fraction for a payment method.
func Discount(method Method) float64 {
	return discounts[method]
}

// TierPricing returns the effective USD price of a tier under a payment
// method's discount.
func TierPricing(name string, method Method) (float64, error) {
	tier, err := GetTier(name)
	if err != nil {
		return 0, err
	}
	price := tier.PriceUSD * (1 - discounts[method])
	return math.Round(price*100) / 100, nil
}

// ValidatePaymentAmount checks a received USD amount against a tier,
// accepting either the base or the discounted price within a one-cent
// tolerance.
func ValidatePaymentAmount(name string, method Method, amountUSD float64) error {
	tier, err := GetTier(name)
	if err != nil {
		return err
	}
	discounted, _ := TierPricing(name, method)

	const tolerance = 0.01
	if math.Abs(amountUSD-tier.PriceUSD) <= tolerance ||
		math.Abs(amountUSD-discounted) <= tolerance {
		return nil
	}
	return fmt.Errorf("amount %.2f does not match tier %q (expected %.2f or %.2f)",
		amountUSD, name, tier.PriceUSD, discounted)
}

// ContractTier maps a tier name to the string expected by the payments
// contract. The contract predates the "unlimited" rename and still uses
// "don" for the top tier.
func ContractTier(name string) string {
	if strings.ToLower(name) == "unlimited" {
		return "don"
	}
	return strings.ToLower(name)
}
