package paymentstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the payment store
func NewStore(db *bun.DB) *pgStore {
	return &pgStore{db: db}
}

func (s *pgStore) CreatePayment(ctx context.Context, payment *Payment) error {
	dao := toPaymentDao(payment)

	_, err := s.db.NewInsert().
		Model(dao).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *pgStore) GetPayment(ctx context.Context, opts ...QueryOption) (*Payment, error) {
	options := &QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}

	dao := new(PaymentDao)
	query := applyFilters(s.db.NewSelect().Model(dao), options)

	err := query.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return toPayment(dao), nil
}

func (s *pgStore) ListPayments(ctx context.Context, opts ...QueryOption) ([]*Payment, error) {
	options := &QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var daos []PaymentDao
	query := applyFilters(s.db.NewSelect().Model(&daos), options).
		Order("created_at DESC")
	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	payments := make([]*Payment, len(daos))
	for i := range daos {
		payments[i] = toPayment(&daos[i])
	}
	return payments, nil
}

func (s *pgStore) UpdateStatus(ctx context.Context, id, status, txHash string, credits int) error {
	q := s.db.NewUpdate().
		Model((*PaymentDao)(nil)).
		Set("status = ?", status).
		Set("updated_at = NOW()").
		Where("id = ?", id)
	if txHash != "" {
		q = q.Set("tx_hash = ?", txHash)
	}
	if credits > 0 {
		q = q.Set("credits = ?", credits)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func applyFilters(query *bun.SelectQuery, options *QueryOptions) *bun.SelectQuery {
	if options.ID != nil {
		query = query.Where("id = ?", *options.ID)
	}
	if options.Address != nil {
		query = query.Where("address = ?", *options.Address)
	}
	if options.TxHash != nil {
		query = query.Where("tx_hash = ?", *options.TxHash)
	}
	if options.Status != nil {
		query = query.Where("status = ?", *options.Status)
	}
	return query
}
