package walletdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/ghiblify/wallet-middleware/pkg/paymentstore"
	mghelper "github.com/ghiblify/wallet-middleware/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			log.Println("creating payments table...")
			if err := mghelper.CreateSchema(ctx, db, &paymentstore.PaymentDao{}); err != nil {
				return err
			}
			return mghelper.CreateModelIndexes(ctx, db, &paymentstore.PaymentDao{}, "address", "tx_hash", "status")
		},
		func(ctx context.Context, db *bun.DB) error {
			log.Println("dropping payments table...")
			return mghelper.DropTables(ctx, db, &paymentstore.PaymentDao{})
		},
	)
}
