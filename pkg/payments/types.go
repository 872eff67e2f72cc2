package payments

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ghiblify/wallet-middleware/pkg/autoconnect"
	"github.com/ghiblify/wallet-middleware/pkg/backend"
	"github.com/ghiblify/wallet-middleware/pkg/pricing"
)

// Backend is the subset of the backend client the payment handlers need.
type Backend interface {
	CreateCheckoutSession(ctx context.Context, tier, address string) (*backend.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*backend.CheckoutSessionStatus, error)
	CheckCeloPayment(ctx context.Context, txHash, address string) (*backend.PaymentResult, error)
	ProcessBasePayment(ctx context.Context, paymentID, tier, address string) (*backend.PaymentResult, error)
	GetBasePaymentStatus(ctx context.Context, paymentID string) (*backend.PaymentResult, error)
	ProcessTokenPayment(ctx context.Context, txHash, address, tier string) (*backend.PaymentResult, error)
	CheckTokenPayment(ctx context.Context, txHash, address string) (*backend.PaymentResult, error)
}

// Networks validates and switches the wallet's active chain.
type Networks interface {
	ValidateNetwork(ctx context.Context, network autoconnect.Network) (bool, error)
	SwitchNetwork(ctx context.Context, address string, target autoconnect.Network) bool
}

// PriceOracle gates token payments on price stability.
type PriceOracle interface {
	IsPriceStable(ctx context.Context) bool
}

// ChainClient confirms transactions on one chain.
type ChainClient interface {
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TokenContract is the $GHIBLIFY ERC-20 surface the token handler uses.
type TokenContract interface {
	Address() common.Address
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	ApproveCalldata(spender common.Address, amount *big.Int) ([]byte, error)
}

// PaymentsContract is the on-chain credits purchase contract surface.
type PaymentsContract interface {
	Address() common.Address
	GetTokenPackagePrice(ctx context.Context, tier string) (*big.Int, error)
	PurchaseCalldata(tier string) ([]byte, error)
	PurchaseWithGhiblifyCalldata(tier string) ([]byte, error)
}

// CreditSync refreshes the wallet service's balance after a payment.
type CreditSync interface {
	RefreshCredits(ctx context.Context) (int, error)
}

// PurchaseRequest describes one credit purchase.
type PurchaseRequest struct {
	Address string         `json:"address"`
	Method  pricing.Method `json:"method"`
	Tier    string         `json:"tier"`
}

// Receipt is the terminal outcome of a purchase.
type Receipt struct {
	PaymentID   string `json:"paymentId"`
	Method      string `json:"method"`
	Tier        string `json:"tier"`
	Status      string `json:"status"`
	Credits     int    `json:"credits"`
	TxHash      string `json:"txHash,omitempty"`
	CheckoutURL string `json:"checkoutUrl,omitempty"`
}

// outcome is what a method handler reports back to the pipeline.
type outcome struct {
	result      *backend.PaymentResult
	txHash      string
	checkoutURL string
}
