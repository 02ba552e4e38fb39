package domain

import (
	"context"
	"time"
)

// Service is the ledger store contract used by reconciliation.
type Service interface {
	FindPayment(ctx context.Context, externalPaymentID uint64) (*PaymentRecord, error)
	// UpsertPayment creates the record or merges the observation into it
	// following PaymentMergePolicy. Credit fields are never touched.
	UpsertPayment(ctx context.Context, observed PaymentRecord) (*PaymentRecord, error)
	// MarkCredited sets credited once; later calls are no-ops.
	MarkCredited(ctx context.Context, externalPaymentID uint64, creditedAt time.Time, duplicated bool) error
	// Credit adjusts the balance at most once per reference.
	Credit(ctx context.Context, req CreditRequest) (CreditResult, error)
	GetUserBalance(ctx context.Context, userID string) (*UserBalance, error)
	ListHistory(ctx context.Context, userID string) ([]TransactionHistoryEntry, error)
}
