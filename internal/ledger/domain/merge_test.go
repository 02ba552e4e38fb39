package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func strPtr(v string) *string { return &v }

func TestPaymentMergePolicyRules(t *testing.T) {
	rules := PaymentMergePolicy.Rules()
	want := map[string]MergeRule{
		"status":             MergeOverwrite,
		"status_detail":      MergeFillIfEmpty,
		"user_id":            MergeFillIfEmpty,
		"amount":             MergeFillIfEmpty,
		"method":             MergeFillIfEmpty,
		"external_reference": MergeFillIfEmpty,
	}
	if len(rules) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(rules))
	}
	for field, rule := range want {
		if rules[field] != rule {
			t.Fatalf("field %s: expected %s, got %s", field, rule, rules[field])
		}
	}
}

func TestMergePolicyApply(t *testing.T) {
	stored := PaymentRecord{
		ExternalPaymentID: 777,
		Status:            PaymentStatusPending,
		StatusDetail:      "pending_waiting_transfer",
		Amount:            decimal.NewFromInt(50),
		Method:            PaymentMethodPix,
		Credited:          true,
	}
	observed := PaymentRecord{
		ExternalPaymentID: 777,
		Status:            PaymentStatusApproved,
		StatusDetail:      "accredited",
		UserID:            strPtr("u9"),
		Amount:            decimal.NewFromInt(99),
		Method:            PaymentMethodCard,
		ExternalReference: "rbc:u9:777:pix",
	}

	merged := PaymentMergePolicy.Apply(stored, observed)

	if merged.Status != PaymentStatusApproved {
		t.Fatalf("status must follow latest observation, got %s", merged.Status)
	}
	if merged.StatusDetail != "pending_waiting_transfer" {
		t.Fatalf("status detail is first-write-wins, got %s", merged.StatusDetail)
	}
	if merged.ResolvedUserID() != "u9" {
		t.Fatalf("user id should be filled, got %q", merged.ResolvedUserID())
	}
	if !merged.Amount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("amount must not be overwritten, got %s", merged.Amount)
	}
	if merged.Method != PaymentMethodPix {
		t.Fatalf("method must not be overwritten, got %s", merged.Method)
	}
	if merged.ExternalReference != "rbc:u9:777:pix" {
		t.Fatalf("external reference should be filled, got %s", merged.ExternalReference)
	}
	if !merged.Credited {
		t.Fatalf("merge must not touch credit fields")
	}
}

func TestMergePolicyKeepsStoredValuesOnEmptyObservation(t *testing.T) {
	stored := PaymentRecord{
		Status: PaymentStatusApproved,
		UserID: strPtr("u1"),
		Amount: decimal.NewFromInt(10),
		Method: PaymentMethodBoleto,
	}
	merged := PaymentMergePolicy.Apply(stored, PaymentRecord{})
	if merged.Status != PaymentStatusApproved || merged.ResolvedUserID() != "u1" || merged.Method != PaymentMethodBoleto {
		t.Fatalf("empty observation erased stored values: %+v", merged)
	}
}

func TestMergePolicyFillsUnknownMethod(t *testing.T) {
	stored := PaymentRecord{Status: PaymentStatusPending, Method: PaymentMethodUnknown}
	merged := PaymentMergePolicy.Apply(stored, PaymentRecord{Status: PaymentStatusPending, Method: PaymentMethodPix})
	if merged.Method != PaymentMethodPix {
		t.Fatalf("unknown method should be replaced, got %s", merged.Method)
	}
}

func TestNewPaymentRecordDefaults(t *testing.T) {
	record := NewPaymentRecord(PaymentRecord{ExternalPaymentID: 1, UserID: strPtr(""), Credited: true})
	if record.Status != PaymentStatusUnknown || record.Method != PaymentMethodUnknown {
		t.Fatalf("unexpected defaults %+v", record)
	}
	if record.UserID != nil {
		t.Fatalf("empty user id should be stored as null")
	}
	if record.Credited {
		t.Fatalf("new records start uncredited")
	}
}
