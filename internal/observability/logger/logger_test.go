package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/paynotify/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithNotificationID(ctx, "ntf-1")
	ctx = obscontext.WithPaymentID(ctx, "777")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["notification_id"] != "ntf-1" || fields["payment_id"] != "777" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["trace_id"]; ok {
		t.Fatalf("did not expect trace_id without a span")
	}
}

func TestWithContextOmitsEmptyIdentifiers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	WithContext(context.Background(), zap.New(core)).Info("hello")

	if got := len(logs.All()[0].Context); got != 0 {
		t.Fatalf("expected no fields, got %d", got)
	}
}

func TestGinMiddlewareEchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = obscontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if seen != "abc-123" {
		t.Fatalf("expected request id in context, got %q", seen)
	}
	if rec.Header().Get("X-Request-Id") != "abc-123" {
		t.Fatalf("expected request id header, got %q", rec.Header().Get("X-Request-Id"))
	}
}

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"  select * from payments": "SELECT",
		"UPDATE users SET":         "UPDATE",
		"(INSERT INTO x)":          "INSERT",
		"PRAGMA foreign_keys":      "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %s, want %s", sql, got, want)
		}
	}
}
