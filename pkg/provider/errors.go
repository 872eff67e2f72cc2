package provider

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnrecognizedChain = 4902
)

// errorCode extracts a JSON-RPC error code if the wallet returned one.
func errorCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

// IsUserRejected reports whether the user dismissed the wallet prompt.
// This is a normal outcome, not a failure needing escalation.
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := errorCode(err); ok && code == CodeUserRejected {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied")
}

// IsUnrecognizedChain reports whether the wallet does not know the
// requested chain. Callers fall back to wallet_addEthereumChain.
func IsUnrecognizedChain(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := errorCode(err); ok && code == CodeUnrecognizedChain {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unrecognized chain") || strings.Contains(msg, "unknown chain")
}
