package service

import (
	"strings"

	"github.com/smallbiznis/paynotify/internal/config"
	ledgerdomain "github.com/smallbiznis/paynotify/internal/ledger/domain"
)

// UserIDResolver derives the user to credit from processor payment fields.
type UserIDResolver struct {
	Prefixes  []string
	MinLength int
}

func NewUserIDResolver(cfg config.ReconcileConfig) UserIDResolver {
	return UserIDResolver{
		Prefixes:  cfg.LegacyReferencePrefixes,
		MinLength: cfg.LegacyReferenceMinLen,
	}
}

// ResolveUserID applies the default resolution rules.
func ResolveUserID(metadataUserID, externalReference string) (string, bool) {
	return NewUserIDResolver(config.DefaultReconcileConfig()).Resolve(metadataUserID, externalReference)
}

// Resolve prefers the metadata user id. Otherwise it reads
// prefix:userId:paymentId:method references, and finally treats a long
// enough bare reference as the user id itself.
func (r UserIDResolver) Resolve(metadataUserID, externalReference string) (string, bool) {
	if id := strings.TrimSpace(metadataUserID); id != "" {
		return id, true
	}

	ref := strings.TrimSpace(externalReference)
	if ref == "" {
		return "", false
	}

	for _, prefix := range r.Prefixes {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" || !strings.HasPrefix(ref, prefix+":") {
			continue
		}
		parts := strings.Split(ref, ":")
		if len(parts) >= 2 && strings.TrimSpace(parts[1]) != "" {
			return strings.TrimSpace(parts[1]), true
		}
	}

	if len(ref) >= r.MinLength {
		return ref, true
	}
	return "", false
}

// MethodFromProcessor maps the processor payment_method_id onto a method.
func MethodFromProcessor(paymentMethodID string) ledgerdomain.PaymentMethod {
	id := strings.TrimSpace(paymentMethodID)
	switch {
	case id == "pix":
		return ledgerdomain.PaymentMethodPix
	case strings.HasPrefix(id, "bol"):
		return ledgerdomain.PaymentMethodBoleto
	case id != "":
		return ledgerdomain.PaymentMethodCard
	default:
		return ledgerdomain.PaymentMethodUnknown
	}
}

// NormalizeStatus lower-cases the processor status; processor statuses
// outside the known set are kept verbatim.
func NormalizeStatus(status string) ledgerdomain.PaymentStatus {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return ledgerdomain.PaymentStatusUnknown
	}
	return ledgerdomain.PaymentStatus(s)
}
