package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// storedReferencePrefix keeps applied references compatible with balances
// written before this service existed.
const storedReferencePrefix = "ref:"

// PaymentReference is the credit reference for a processor payment id.
func PaymentReference(externalPaymentID uint64) string {
	return fmt.Sprintf("mp:%d", externalPaymentID)
}

func StoredReference(reference string) string {
	return storedReferencePrefix + reference
}

func CreditDescription(reference string) string {
	return fmt.Sprintf("Crédito confirmado (%s)", reference)
}

// DecodeReferences parses the applied references column. NULL or malformed
// content decodes to an empty list; non-string members are skipped.
func DecodeReferences(raw []byte) []string {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return []string{}
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func EncodeReferences(refs []string) ([]byte, error) {
	if refs == nil {
		refs = []string{}
	}
	return json.Marshal(refs)
}

func HasReference(refs []string, reference string) bool {
	stored := StoredReference(reference)
	for _, r := range refs {
		if r == stored {
			return true
		}
	}
	return false
}

// DecodeBalance parses a stored balance; unset or non-numeric values count as zero.
func DecodeBalance(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return value
}

// SnapshotOrDash mirrors the display convention for missing profile fields.
func SnapshotOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "—"
	}
	return value
}
