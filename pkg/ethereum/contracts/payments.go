package contracts

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Deployed payment contract addresses.
const (
	// GhiblifyTokenPaymentsAddress is the $GHIBLIFY payments contract on Base.
	GhiblifyTokenPaymentsAddress = "0x41f2fA6E60A34c26BD2C467d21EcB0a2f9087B03"
	// CeloPaymentsAddress is the cUSD payments contract on Celo.
	CeloPaymentsAddress = "0x0972CAe87506900051BC728f10338ffe35C891Ba"
)

const paymentsABIJSON = `[
	{"type":"function","name":"purchaseCredits","stateMutability":"nonpayable","inputs":[{"name":"packageTier","type":"string"}],"outputs":[]},
	{"type":"function","name":"purchaseCreditsWithGhiblify","stateMutability":"nonpayable","inputs":[{"name":"packageTier","type":"string"}],"outputs":[]},
	{"type":"function","name":"getTokenPackagePrice","stateMutability":"view","inputs":[{"name":"packageTier","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"CreditsPurchased","anonymous":false,"inputs":[{"name":"buyer","type":"address","indexed":true},{"name":"packageTier","type":"string","indexed":false},{"name":"tokenAmount","type":"uint256","indexed":false},{"name":"credits","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]}
]`

// CreditsPurchasedEvent is the decoded CreditsPurchased log.
type CreditsPurchasedEvent struct {
	Buyer       common.Address
	PackageTier string
	TokenAmount *big.Int
	Credits     *big.Int
	Timestamp   *big.Int
	Raw         types.Log
}

// Payments wraps the Ghiblify payments contract: tier price reads,
// purchase calldata packing, and CreditsPurchased event decoding.
type Payments struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
}

// NewPayments binds a payments contract for reads against the backend.
func NewPayments(address common.Address, backend bind.ContractBackend) (*Payments, error) {
	parsed, err := abi.JSON(strings.NewReader(paymentsABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse payments abi: %w", err)
	}
	return &Payments{
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// Address returns the payments contract address.
func (p *Payments) Address() common.Address {
	return p.address
}

// GetTokenPackagePrice reads the on-chain token price for a tier, in
// the token's smallest unit.
func (p *Payments) GetTokenPackagePrice(ctx context.Context, tier string) (*big.Int, error) {
	var out []any
	err := p.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getTokenPackagePrice", tier)
	if err != nil {
		return nil, fmt.Errorf("getTokenPackagePrice(%s): %w", tier, err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// PurchaseCalldata packs purchaseCredits(tier) for submission through
// the wallet provider.
func (p *Payments) PurchaseCalldata(tier string) ([]byte, error) {
	data, err := p.abi.Pack("purchaseCredits", tier)
	if err != nil {
		return nil, fmt.Errorf("pack purchaseCredits: %w", err)
	}
	return data, nil
}

// PurchaseWithGhiblifyCalldata packs purchaseCreditsWithGhiblify(tier).
func (p *Payments) PurchaseWithGhiblifyCalldata(tier string) ([]byte, error) {
	data, err := p.abi.Pack("purchaseCreditsWithGhiblify", tier)
	if err != nil {
		return nil, fmt.Errorf("pack purchaseCreditsWithGhiblify: %w", err)
	}
	return data, nil
}

// CreditsPurchasedTopic returns the event signature topic for log filters.
func (p *Payments) CreditsPurchasedTopic() common.Hash {
	return p.abi.Events["CreditsPurchased"].ID
}

// ParseCreditsPurchased decodes a CreditsPurchased log.
func (p *Payments) ParseCreditsPurchased(log types.Log) (*CreditsPurchasedEvent, error) {
	event := new(CreditsPurchasedEvent)
	if err := p.contract.UnpackLog(event, "CreditsPurchased", log); err != nil {
		return nil, fmt.Errorf("unpack CreditsPurchased: %w", err)
	}
	event.Raw = log
	return event, nil
}
