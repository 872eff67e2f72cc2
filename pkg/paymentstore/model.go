package paymentstore

import (
	"time"

	"github.com/uptrace/bun"
)

// Payment is one payment attempt and its outcome. Amounts are decimal
// strings: USDAmount in dollars, TokenAmount in whole tokens.
type Payment struct {
	ID          string
	Address     string
	Method      string
	Tier        string
	USDAmount   string
	TokenAmount string
	TxHash      string
	Status      string
	Credits     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentDao is a data access object that maps directly to the 'payments' table in PostgreSQL.
type PaymentDao struct {
	bun.BaseModel `bun:"table:payments,alias:p"`
	ID            string     `bun:"id,pk,type:uuid"`
	Address       string     `bun:"address,notnull,type:varchar(42)"`
	Method        string     `bun:"method,notnull,type:varchar(32)"`
	Tier          string     `bun:"tier,notnull,type:varchar(32)"`
	USDAmount     *string    `bun:"usd_amount,nullzero,type:numeric(12,2)"`
	TokenAmount   *string    `bun:"token_amount,nullzero,type:numeric(38,18)"`
	TxHash        *string    `bun:"tx_hash,type:varchar(66)"`
	Status        string     `bun:"status,notnull,type:varchar(32)"`
	Credits       int        `bun:"credits,notnull,default:0"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt     *time.Time `bun:"updated_at"`
}

// toPaymentDao converts a Payment to PaymentDao.
func toPaymentDao(p *Payment) *PaymentDao {
	dao := &PaymentDao{
		ID:        p.ID,
		Address:   p.Address,
		Method:    p.Method,
		Tier:      p.Tier,
		Status:    p.Status,
		Credits:   p.Credits,
		CreatedAt: p.CreatedAt,
	}
	if p.USDAmount != "" {
		dao.USDAmount = &p.USDAmount
	}
	if p.TokenAmount != "" {
		dao.TokenAmount = &p.TokenAmount
	}
	if p.TxHash != "" {
		dao.TxHash = &p.TxHash
	}
	if !p.UpdatedAt.IsZero() {
		dao.UpdatedAt = &p.UpdatedAt
	}
	return dao
}

// toPayment converts a PaymentDao to Payment.
func toPayment(dao *PaymentDao) *Payment {
	p := &Payment{
		ID:        dao.ID,
		Address:   dao.Address,
		Method:    dao.Method,
		Tier:      dao.Tier,
		Status:    dao.Status,
		Credits:   dao.Credits,
		CreatedAt: dao.CreatedAt,
	}
	if dao.USDAmount != nil {
		p.USDAmount = *dao.USDAmount
	}
	if dao.TokenAmount != nil {
		p.TokenAmount = *dao.TokenAmount
	}
	if dao.TxHash != nil {
		p.TxHash = *dao.TxHash
	}
	if dao.UpdatedAt != nil {
		p.UpdatedAt = *dao.UpdatedAt
	}
	return p
}
