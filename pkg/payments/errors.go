package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ghiblify/wallet-middleware/pkg/provider"
)

// Error codes assigned to failed payments. Codes are stable strings the
// frontend maps to user-facing copy.
const (
	CodeUserRejected          = "user_rejected"
	CodeInsufficientFunds     = "insufficient_funds"
	CodeInsufficientGas       = "insufficient_gas"
	CodeInsufficientAllowance = "insufficient_allowance"
	CodeWrongNetwork          = "wrong_network"
	CodePriceUnstable         = "price_unstable"
	CodeAlreadyProcessed      = "already_processed"
	CodeCancelled             = "cancelled"
	CodeTimeout               = "timeout"
	CodeFailed                = "payment_failed"
)

// PaymentError is a payment failure tagged with a stable code.
type PaymentError struct {
	Code   string
	Method string
	Err    error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s payment %s: %v", e.Method, e.Code, e.Err)
	}
	return fmt.Sprintf("%s payment %s", e.Method, e.Code)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the payment error code, or CodeFailed for untagged
// errors.
func ErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeFailed
}

func paymentErr(method, code string, err error) *PaymentError {
	return &PaymentError{Code: code, Method: method, Err: err}
}

// classify tags a raw wallet or chain error. Structured EIP-1193 codes
// win; raw node message substrings are the fallback.
func classify(method string, err error) *PaymentError {
	if err == nil {
		return nil
	}
	var pe *PaymentError
	if errors.As(err, &pe) {
		if pe.Method == "" {
			pe.Method = method
		}
		return pe
	}
	if provider.IsUserRejected(err) {
		return paymentErr(method, CodeUserRejected, err)
	}
	if errors.Is(err, errCancelled) || errors.Is(err, context.Canceled) {
		return paymentErr(method, CodeCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return paymentErr(method, CodeTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient allowance") || strings.Contains(msg, "transfer amount exceeds allowance"):
		return paymentErr(method, CodeInsufficientAllowance, err)
	case strings.Contains(msg, "insufficient funds for gas") || strings.Contains(msg, "out of gas") || strings.Contains(msg, "gas required exceeds"):
		return paymentErr(method, CodeInsufficientGas, err)
	case strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "insufficient balance") || strings.Contains(msg, "exceeds balance"):
		return paymentErr(method, CodeInsufficientFunds, err)
	}
	return paymentErr(method, CodeFailed, err)
}

var errCancelled = errors.New("payment cancelled")
