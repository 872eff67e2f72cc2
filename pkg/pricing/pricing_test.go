package pricing

import (
	"math"
	"testing"
)

func TestGetTier(t *testing.T) {
	tier, err := GetTier("pro")
	if err != nil {
		t.Fatalf("GetTier failed: %v", err)
	}
	if tier.PriceUSD != 4.99 || tier.Credits != 12 {
		t.Errorf("unexpected pro tier: %+v", tier)
	}

	if _, err := GetTier("mega"); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestGetTierCaseInsensitive(t *testing.T) {
	tier, err := GetTier("STARTER")
	if err != nil {
		t.Fatalf("GetTier failed: %v", err)
	}
	if tier.Name != "starter" {
		t.Errorf("unexpected tier: %+v", tier)
	}
}

func TestTierPricing(t *testing.T) {
	tests := []struct {
		tier   string
		method Method
		want   float64
	}{
		{"starter", MethodStripe, 0.50},
		{"pro", MethodStripe, 4.99},
		{"pro", MethodCelo, 3.49},
		{"pro", MethodBasePay, 3.49},
		{"unlimited", MethodCelo, 6.99},
	}
	for _, tt := range tests {
		got, err := TierPricing(tt.tier, tt.method)
		if err != nil {
			t.Fatalf("TierPricing(%s, %s) failed: %v", tt.tier, tt.method, err)
		}
		if math.Abs(got-tt.want) > 0.001 {
			t.Errorf("TierPricing(%s, %s) = %.2f, want %.2f", tt.tier, tt.method, got, tt.want)
		}
	}
}

func TestValidatePaymentAmount(t *testing.T) {
	// Base price accepted.
	if err := ValidatePaymentAmount("pro", MethodCelo, 4.99); err != nil {
		t.Errorf("base price should validate: %v", err)
	}
	// Discounted price accepted.
	if err := ValidatePaymentAmount("pro", MethodCelo, 3.49); err != nil {
		t.Errorf("discounted price should validate: %v", err)
	}
	// Within cent tolerance.
	if err := ValidatePaymentAmount("pro", MethodCelo, 3.495); err != nil {
		t.Errorf("amount within tolerance should validate: %v", err)
	}
	// Wrong amount rejected.
	if err := ValidatePaymentAmount("pro", MethodCelo, 2.00); err == nil {
		t.Error("expected rejection of wrong amount")
	}
}

func TestContractTier(t *testing.T) {
	if got := ContractTier("unlimited"); got != "don" {
		t.Errorf("expected don, got %s", got)
	}
	if got := ContractTier("starter"); got != "starter" {
		t.Errorf("expected starter, got %s", got)
	}
	if got := ContractTier("Pro"); got != "pro" {
		t.Errorf("expected pro, got %s", got)
	}
}

func TestParseMethod(t *testing.T) {
	if _, err := ParseMethod("celo"); err != nil {
		t.Errorf("celo should parse: %v", err)
	}
	if _, err := ParseMethod("venmo"); err == nil {
		t.Error("expected error for unknown method")
	}
}
