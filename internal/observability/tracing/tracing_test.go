package tracing

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/pagamento"),
		attribute.String("authorization", "Bearer TEST-123"),
		attribute.String("user_id", "u9"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestSafeErrorRedactsBearer(t *testing.T) {
	if err := SafeError(errors.New("request with Bearer TEST-abc failed")); err.Error() != "redacted error" {
		t.Fatalf("expected redaction, got %v", err)
	}
	plain := errors.New("boom")
	if err := SafeError(plain); err != plain {
		t.Fatalf("expected the original error")
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
}
