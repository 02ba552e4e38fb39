package events

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

const RoutingKeyPaymentCredited = "payment.credited"

// CreditedEvent announces that a payment's amount was added to a user balance.
type CreditedEvent struct {
	EventID    string          `json:"event_id"`
	PaymentID  uint64          `json:"payment_id"`
	UserID     string          `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Reference  string          `json:"reference"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func NewCreditedEvent(paymentID uint64, userID string, amount, newBalance decimal.Decimal, reference string, at time.Time) CreditedEvent {
	return CreditedEvent{
		EventID:    ulid.Make().String(),
		PaymentID:  paymentID,
		UserID:     userID,
		Amount:     amount,
		NewBalance: newBalance,
		Reference:  reference,
		OccurredAt: at.UTC(),
	}
}

// Publisher delivers credit events to downstream consumers. Delivery is best
// effort; the ledger is already committed when an event is published.
type Publisher interface {
	PublishCredited(ctx context.Context, event CreditedEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishCredited(context.Context, CreditedEvent) error { return nil }
