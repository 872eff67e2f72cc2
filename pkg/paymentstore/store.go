// Package paymentstore persists payment history records in PostgreSQL.
package paymentstore

import (
	"context"
	"errors"
)

// ErrPaymentNotFound is returned when a payment lookup finds no matching record.
var ErrPaymentNotFound = errors.New("payment not found")

// Store defines the interface for payment history persistence
//
//go:generate mockery --name Store --output mocks --outpkg mocks --filename mock_store.go --with-expecter
type Store interface {
	CreatePayment(ctx context.Context, payment *Payment) error
	GetPayment(ctx context.Context, opts ...QueryOption) (*Payment, error)
	ListPayments(ctx context.Context, opts ...QueryOption) ([]*Payment, error)
	UpdateStatus(ctx context.Context, id, status, txHash string, credits int) error
}

// QueryOptions defines options for querying payments
type QueryOptions struct {
	ID      *string
	Address *string
	TxHash  *string
	Status  *string
	Limit   int
}

// QueryOption is a functional option for querying payments
type QueryOption func(*QueryOptions)

// WithID sets the payment id filter
func WithID(id string) QueryOption {
	return func(opts *QueryOptions) {
		opts.ID = &id
	}
}

// WithAddress sets the wallet address filter
func WithAddress(address string) QueryOption {
	return func(opts *QueryOptions) {
		opts.Address = &address
	}
}

// WithTxHash sets the transaction hash filter
func WithTxHash(txHash string) QueryOption {
	return func(opts *QueryOptions) {
		opts.TxHash = &txHash
	}
}

// WithStatus sets the status filter
func WithStatus(status string) QueryOption {
	return func(opts *QueryOptions) {
		opts.Status = &status
	}
}

// WithLimit caps the number of rows returned by list queries
func WithLimit(limit int) QueryOption {
	return func(opts *QueryOptions) {
		opts.Limit = limit
	}
}
