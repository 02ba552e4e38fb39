package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repository holds the SQL statements behind the gorm ledger store.
type Repository interface {
	FindPayment(ctx context.Context, db *gorm.DB, externalPaymentID uint64) (*PaymentRecord, error)
	InsertPayment(ctx context.Context, db *gorm.DB, record *PaymentRecord) error
	UpdatePaymentFields(ctx context.Context, db *gorm.DB, record *PaymentRecord) error
	MarkCredited(ctx context.Context, db *gorm.DB, externalPaymentID uint64, creditedAt time.Time, duplicated bool) (bool, error)

	FindUser(ctx context.Context, db *gorm.DB, userID string) (*UserBalance, error)
	UpdateBalance(ctx context.Context, db *gorm.DB, userID string, balance decimal.Decimal, refs datatypes.JSON, expectedVersion int64, now time.Time) (bool, error)
	InsertHistory(ctx context.Context, db *gorm.DB, entry *TransactionHistoryEntry) error
	ListHistory(ctx context.Context, db *gorm.DB, userID string) ([]TransactionHistoryEntry, error)
}
