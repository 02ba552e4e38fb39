package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paynotify/internal/ledger/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, externalPaymentID uint64) (*domain.PaymentRecord, error) {
	var item domain.PaymentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT external_payment_id, status, status_detail, user_id, amount, method,
			external_reference, credited, credited_at, credit_duplicated, created_at, updated_at
		 FROM payments
		 WHERE external_payment_id = ?
		 LIMIT 1`,
		externalPaymentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ExternalPaymentID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, record *domain.PaymentRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			external_payment_id, status, status_detail, user_id, amount, method,
			external_reference, credited, credited_at, credit_duplicated, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ExternalPaymentID,
		record.Status,
		record.StatusDetail,
		record.UserID,
		record.Amount,
		record.Method,
		record.ExternalReference,
		record.Credited,
		record.CreditedAt,
		record.CreditDuplicated,
		record.CreatedAt,
		record.UpdatedAt,
	).Error
}

// UpdatePaymentFields writes only the merge-policy fields; credit state has its own statement.
func (r *repo) UpdatePaymentFields(ctx context.Context, db *gorm.DB, record *domain.PaymentRecord) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, status_detail = ?, user_id = ?, amount = ?, method = ?,
			external_reference = ?, updated_at = ?
		 WHERE external_payment_id = ?`,
		record.Status,
		record.StatusDetail,
		record.UserID,
		record.Amount,
		record.Method,
		record.ExternalReference,
		record.UpdatedAt,
		record.ExternalPaymentID,
	).Error
}

func (r *repo) MarkCredited(ctx context.Context, db *gorm.DB, externalPaymentID uint64, creditedAt time.Time, duplicated bool) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET credited = ?, credited_at = ?, credit_duplicated = ?, updated_at = ?
		 WHERE external_payment_id = ? AND credited = ?`,
		true,
		creditedAt,
		duplicated,
		creditedAt,
		externalPaymentID,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

type userRow struct {
	ID                string
	Name              sql.NullString
	Email             sql.NullString
	Balance           sql.NullString
	AppliedReferences sql.NullString
	Version           int64
}

func (r *repo) FindUser(ctx context.Context, db *gorm.DB, userID string) (*domain.UserBalance, error) {
	var row userRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, email, balance, applied_references, version
		 FROM users
		 WHERE id = ?
		 LIMIT 1`,
		userID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == "" {
		return nil, nil
	}
	return &domain.UserBalance{
		UserID:            row.ID,
		Name:              row.Name.String,
		Email:             row.Email.String,
		Balance:           domain.DecodeBalance(row.Balance.String),
		AppliedReferences: domain.DecodeReferences([]byte(row.AppliedReferences.String)),
		Version:           row.Version,
	}, nil
}

// UpdateBalance writes balance and references in one statement guarded by the
// version read earlier. false means another writer got there first.
func (r *repo) UpdateBalance(ctx context.Context, db *gorm.DB, userID string, balance decimal.Decimal, refs datatypes.JSON, expectedVersion int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE users
		 SET balance = ?, applied_references = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		balance,
		refs,
		now,
		userID,
		expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) InsertHistory(ctx context.Context, db *gorm.DB, entry *domain.TransactionHistoryEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO balance_history (
			id, user_id, name, email, amount, kind, description, reference, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.Name,
		entry.Email,
		entry.Amount,
		entry.Kind,
		entry.Description,
		entry.Reference,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, userID string) ([]domain.TransactionHistoryEntry, error) {
	var items []domain.TransactionHistoryEntry
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, name, email, amount, kind, description, reference, created_at
		 FROM balance_history
		 WHERE user_id = ?
		 ORDER BY created_at ASC, id ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
