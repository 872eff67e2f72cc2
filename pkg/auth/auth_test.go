package auth

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// signEIP191Message signs a message the way personal_sign does.
func signEIP191Message(t *testing.T, message string) (address, signature string) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := crypto.Keccak256Hash([]byte(prefixed))

	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	sig[64] += 27

	addr := crypto.PubkeyToAddress(key.PublicKey)
	return addr.Hex(), "0x" + fmt.Sprintf("%x", sig)
}

func TestVerifyEIP191Signature(t *testing.T) {
	message := "Sign in to Ghiblify"
	address, signature := signEIP191Message(t, message)

	recovered, err := VerifyEIP191Signature(message, signature)
	if err != nil {
		t.Fatalf("verification failed: %v", err)
	}
	if recovered.Hex() != address {
		t.Errorf("recovered %s, want %s", recovered.Hex(), address)
	}
}

func TestVerifyEIP191SignatureWrongMessage(t *testing.T) {
	address, signature := signEIP191Message(t, "original message")

	recovered, err := VerifyEIP191Signature("tampered message", signature)
	if err == nil && recovered.Hex() == address {
		t.Error("signature over different message must not recover the same address")
	}
}

func TestVerifyEIP191SignatureBadInput(t *testing.T) {
	if _, err := VerifyEIP191Signature("msg", "not-hex"); err == nil {
		t.Error("expected error for non-hex signature")
	}
	if _, err := VerifyEIP191Signature("msg", "0xdeadbeef"); err == nil {
		t.Error("expected error for short signature")
	}
}

func TestNormalizeAddress(t *testing.T) {
	got := NormalizeAddress("0xC2B2EA7f6218CC37debBAFE71361C088329AE090")
	if got != strings.ToLower(got) {
		t.Errorf("normalized address must be lowercase: %s", got)
	}
	if !strings.HasPrefix(got, "0x") || len(got) != 42 {
		t.Errorf("unexpected normalized form: %s", got)
	}
}

func TestTokenIssueAndValidate(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret", "ghiblify-wallet", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer failed: %v", err)
	}

	token, err := issuer.Issue("0xC2B2EA7f6218CC37debBAFE71361C088329AE090")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.Address != "0xc2b2ea7f6218cc37debbafe71361c088329ae090" {
		t.Errorf("unexpected address claim: %s", claims.Address)
	}
}

func TestTokenRejectedWithWrongSecret(t *testing.T) {
	a, _ := NewTokenIssuer("secret-a", "ghiblify-wallet", time.Hour)
	b, _ := NewTokenIssuer("secret-b", "ghiblify-wallet", time.Hour)

	token, err := a.Issue("0xabc0000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := b.Validate(token); err == nil {
		t.Error("token signed with a different secret must not validate")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	issuer, _ := NewTokenIssuer("test-secret", "ghiblify-wallet", time.Hour)
	issuer.tokenTTL = -time.Minute

	token, err := issuer.Issue("0xabc0000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := issuer.Validate(token); err == nil {
		t.Error("expired token must not validate")
	}
}
