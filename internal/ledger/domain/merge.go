package domain

// MergeRule decides how an observed field value combines with the stored one.
type MergeRule string

const (
	MergeOverwrite   MergeRule = "overwrite"
	MergeFillIfEmpty MergeRule = "fill_if_empty"
)

type fieldMerge struct {
	Field   string
	Rule    MergeRule
	isEmpty func(p *PaymentRecord) bool
	assign  func(dst, src *PaymentRecord)
}

// MergePolicy lists per-field rules applied when a payment is observed again.
type MergePolicy []fieldMerge

// PaymentMergePolicy: status follows the latest observation, everything else is first-write-wins.
var PaymentMergePolicy = MergePolicy{
	{
		Field:   "status",
		Rule:    MergeOverwrite,
		isEmpty: func(p *PaymentRecord) bool { return p.Status == "" },
		assign:  func(dst, src *PaymentRecord) { dst.Status = src.Status },
	},
	{
		Field:   "status_detail",
		Rule:    MergeFillIfEmpty,
		isEmpty: func(p *PaymentRecord) bool { return p.StatusDetail == "" },
		assign:  func(dst, src *PaymentRecord) { dst.StatusDetail = src.StatusDetail },
	},
	{
		Field:   "user_id",
		Rule:    MergeFillIfEmpty,
		isEmpty: func(p *PaymentRecord) bool { return p.ResolvedUserID() == "" },
		assign: func(dst, src *PaymentRecord) {
			id := src.ResolvedUserID()
			dst.UserID = &id
		},
	},
	{
		Field:   "amount",
		Rule:    MergeFillIfEmpty,
		isEmpty: func(p *PaymentRecord) bool { return p.Amount.IsZero() },
		assign:  func(dst, src *PaymentRecord) { dst.Amount = src.Amount },
	},
	{
		Field:   "method",
		Rule:    MergeFillIfEmpty,
		isEmpty: func(p *PaymentRecord) bool { return p.Method == "" || p.Method == PaymentMethodUnknown },
		assign:  func(dst, src *PaymentRecord) { dst.Method = src.Method },
	},
	{
		Field:   "external_reference",
		Rule:    MergeFillIfEmpty,
		isEmpty: func(p *PaymentRecord) bool { return p.ExternalReference == "" },
		assign:  func(dst, src *PaymentRecord) { dst.ExternalReference = src.ExternalReference },
	},
}

// Rules returns field name to rule, mainly for inspection.
func (p MergePolicy) Rules() map[string]MergeRule {
	out := make(map[string]MergeRule, len(p))
	for _, f := range p {
		out[f.Field] = f.Rule
	}
	return out
}

// Apply merges observed into stored and returns the result. Empty observed
// values never erase stored ones, whatever the rule.
func (p MergePolicy) Apply(stored, observed PaymentRecord) PaymentRecord {
	merged := stored
	for _, f := range p {
		if f.isEmpty(&observed) {
			continue
		}
		switch f.Rule {
		case MergeOverwrite:
			f.assign(&merged, &observed)
		case MergeFillIfEmpty:
			if f.isEmpty(&merged) {
				f.assign(&merged, &observed)
			}
		}
	}
	return merged
}

// NewPaymentRecord fills defaults for a first observation.
func NewPaymentRecord(observed PaymentRecord) PaymentRecord {
	record := observed
	if record.Status == "" {
		record.Status = PaymentStatusUnknown
	}
	if record.Method == "" {
		record.Method = PaymentMethodUnknown
	}
	if record.UserID != nil && *record.UserID == "" {
		record.UserID = nil
	}
	record.Credited = false
	record.CreditedAt = nil
	record.CreditDuplicated = false
	return record
}
