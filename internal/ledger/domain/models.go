package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusApproved  PaymentStatus = "approved"
	PaymentStatusRejected  PaymentStatus = "rejected"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusUnknown   PaymentStatus = "unknown"
)

// IsTerminal reports statuses after which no further transition is expected.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusApproved, PaymentStatusRejected, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

type PaymentMethod string

const (
	PaymentMethodPix     PaymentMethod = "pix"
	PaymentMethodCard    PaymentMethod = "card"
	PaymentMethodBoleto  PaymentMethod = "boleto"
	PaymentMethodUnknown PaymentMethod = "unknown"
)

// PaymentRecord mirrors one processor-side payment.
type PaymentRecord struct {
	ExternalPaymentID uint64          `gorm:"primaryKey;autoIncrement:false"`
	Status            PaymentStatus   `gorm:"type:text;not null"`
	StatusDetail      string          `gorm:"type:text;not null;default:''"`
	UserID            *string         `gorm:"type:text"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"`
	Method            PaymentMethod   `gorm:"type:text;not null;default:'unknown'"`
	ExternalReference string          `gorm:"type:text;not null;default:''"`
	Credited          bool            `gorm:"not null;default:false"`
	CreditedAt        *time.Time
	CreditDuplicated  bool      `gorm:"not null;default:false"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (PaymentRecord) TableName() string { return "payments" }

// ResolvedUserID returns the user id or "" when unresolved.
func (p PaymentRecord) ResolvedUserID() string {
	if p.UserID == nil {
		return ""
	}
	return *p.UserID
}

// User is the slice of the user entity this service reads and mutates.
// Users are created elsewhere; only Balance, AppliedReferences and Version are written here.
type User struct {
	ID                string          `gorm:"primaryKey;type:varchar(64)"`
	Name              string          `gorm:"type:text"`
	Email             string          `gorm:"type:text"`
	Balance           decimal.Decimal `gorm:"type:decimal(20,2)"`
	AppliedReferences datatypes.JSON
	Version           int64     `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// UserBalance is the decoded balance state of a user.
type UserBalance struct {
	UserID            string
	Name              string
	Email             string
	Balance           decimal.Decimal
	AppliedReferences []string
	Version           int64
}

type HistoryKind string

const HistoryKindDeposit HistoryKind = "deposit"

// TransactionHistoryEntry is append-only.
type TransactionHistoryEntry struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	UserID      string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_balance_history_user_reference,priority:1"`
	Name        string          `gorm:"type:text;not null"`
	Email       string          `gorm:"type:text;not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Kind        HistoryKind     `gorm:"type:text;not null"`
	Description string          `gorm:"type:text;not null"`
	Reference   string          `gorm:"type:varchar(128);not null;uniqueIndex:ux_balance_history_user_reference,priority:2"`
	CreatedAt   time.Time       `gorm:"not null"`
}

func (TransactionHistoryEntry) TableName() string { return "balance_history" }

type CreditRequest struct {
	UserID    string
	Amount    decimal.Decimal
	Reference string
}

type CreditResult struct {
	Duplicated bool
	NewBalance decimal.Decimal
}
