package domain

import "context"

// Outcome is the terminal result of reconciling one payment id.
type Outcome string

const (
	OutcomeRecorded         Outcome = "recorded"
	OutcomeCredited         Outcome = "credited"
	OutcomeCreditDuplicated Outcome = "credit_duplicated"
	OutcomeAlreadyCredited  Outcome = "already_credited"
	OutcomeSkippedNoUser    Outcome = "skipped_no_user"
	OutcomeDedupSuppressed  Outcome = "dedup_suppressed"
	OutcomeFailed           Outcome = "failed"
)

// Result pairs a candidate id with its outcome. Err is set only for OutcomeFailed.
type Result struct {
	PaymentID uint64
	Outcome   Outcome
	Err       error
}

type Service interface {
	Reconcile(ctx context.Context, paymentID uint64) (Outcome, error)
	// ReconcileMany processes every id independently; a failure never
	// affects sibling ids. Results follow the order of ids.
	ReconcileMany(ctx context.Context, notificationID string, ids []uint64) []Result
}
