package service

import (
	"testing"

	"github.com/smallbiznis/paynotify/internal/config"
	ledgerdomain "github.com/smallbiznis/paynotify/internal/ledger/domain"
)

func TestResolveUserID(t *testing.T) {
	cases := []struct {
		name     string
		metadata string
		ref      string
		want     string
		wantOK   bool
	}{
		{name: "metadata wins", metadata: " u-meta ", ref: "rbc:u-ref:1:pix", want: "u-meta", wantOK: true},
		{name: "prefixed reference", ref: "rbc:u-123:777:pix", want: "u-123", wantOK: true},
		{name: "prefixed reference with spaces", ref: "  rbc:u-123:777:pix  ", want: "u-123", wantOK: true},
		{name: "prefix with empty user falls back to legacy", ref: "rbc::777:pix", want: "rbc::777:pix", wantOK: true},
		{name: "legacy bare user id", ref: "abcdef", want: "abcdef", wantOK: true},
		{name: "too short", ref: "abc12", wantOK: false},
		{name: "empty", wantOK: false},
		{name: "whitespace metadata ignored", metadata: "   ", ref: "abc", wantOK: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ResolveUserID(tc.metadata, tc.ref)
			if ok != tc.wantOK || got != tc.want {
				t.Fatalf("ResolveUserID(%q, %q) = (%q, %v), want (%q, %v)", tc.metadata, tc.ref, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestUserIDResolverTunables(t *testing.T) {
	cfg := config.DefaultReconcileConfig()
	cfg.LegacyReferencePrefixes = []string{"rbc", "acme"}
	cfg.LegacyReferenceMinLen = 10
	r := NewUserIDResolver(cfg)

	if got, ok := r.Resolve("", "acme:u-9:1:card"); !ok || got != "u-9" {
		t.Fatalf("custom prefix not honoured: %q %v", got, ok)
	}
	if _, ok := r.Resolve("", "abcdef"); ok {
		t.Fatalf("min length not honoured")
	}
}

func TestMethodFromProcessor(t *testing.T) {
	cases := map[string]ledgerdomain.PaymentMethod{
		"pix":         ledgerdomain.PaymentMethodPix,
		"bolbradesco": ledgerdomain.PaymentMethodBoleto,
		"visa":        ledgerdomain.PaymentMethodCard,
		"master":      ledgerdomain.PaymentMethodCard,
		"":            ledgerdomain.PaymentMethodUnknown,
	}
	for input, want := range cases {
		if got := MethodFromProcessor(input); got != want {
			t.Fatalf("MethodFromProcessor(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeStatus(t *testing.T) {
	if got := NormalizeStatus(" APPROVED "); got != ledgerdomain.PaymentStatusApproved {
		t.Fatalf("unexpected status %q", got)
	}
	if got := NormalizeStatus(""); got != ledgerdomain.PaymentStatusUnknown {
		t.Fatalf("unexpected status %q", got)
	}
	if got := NormalizeStatus("in_process"); got != "in_process" {
		t.Fatalf("unknown processor statuses must be kept, got %q", got)
	}
}
