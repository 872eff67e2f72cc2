package auth

import (
	"context"
)

// Context keys for authentication data
type contextKey string

// ContextKeyEVMAddress is the context key for the authenticated EVM address
const ContextKeyEVMAddress contextKey = "evm_address"

// WithEVMAddress adds the EVM address to the context
func WithEVMAddress(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, ContextKeyEVMAddress, address)
}

// EVMAddressFromContext retrieves the EVM address from the context
func EVMAddressFromContext(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(ContextKeyEVMAddress).(string)
	return addr, ok
}
