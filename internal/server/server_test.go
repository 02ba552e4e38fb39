package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paynotify/internal/clock"
	"github.com/smallbiznis/paynotify/internal/config"
	"github.com/smallbiznis/paynotify/internal/dedup"
	"github.com/smallbiznis/paynotify/internal/gateway/mercadopago"
	ledgerdomain "github.com/smallbiznis/paynotify/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/paynotify/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/paynotify/internal/ledger/service"
	"github.com/smallbiznis/paynotify/internal/migration"
	notificationservice "github.com/smallbiznis/paynotify/internal/notification/service"
	"github.com/smallbiznis/paynotify/internal/observability"
	reconcileservice "github.com/smallbiznis/paynotify/internal/reconcile/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testAccessToken = "TEST-1234567890-abcd"

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	engine        *gin.Engine
	notifications *notificationservice.Service
	ledger        ledgerdomain.Service
	db            *gorm.DB
	paymentHits   *atomic.Int32
}

// newHarness wires the full intake path against a fake processor API that
// reports every payment with the given status.
func newHarness(t *testing.T, status string) *harness {
	t.Helper()

	hits := &atomic.Int32{}
	processor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/payments/") {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		id := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": ` + id + `,
			"status": "` + status + `",
			"status_detail": "accredited",
			"transaction_amount": 25.50,
			"payment_method_id": "pix",
			"external_reference": "",
			"metadata": {"user_id": "u-1"}
		}`))
	}))
	t.Cleanup(processor.Close)

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	cfg := config.Config{
		MercadoPago: config.MercadoPagoConfig{
			Mode:            config.ModeTest,
			TestAccessToken: testAccessToken,
			BaseURL:         processor.URL,
			Timeout:         2 * time.Second,
		},
		LedgerBackend: config.LedgerBackendGorm,
		Dedup:         config.DedupConfig{Backend: config.DedupBackendMemory},
		Reconcile:     config.ReconcileRuntimeConfig{MaxInflight: 4, Timeout: 10 * time.Second},
	}

	gw, err := mercadopago.New(cfg.MercadoPago, zap.NewNop(), nil)
	require.NoError(t, err)

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  ledgerrepository.Provide(),
	})
	reconciler := reconcileservice.NewService(reconcileservice.Params{
		Cfg:     cfg,
		Log:     zap.NewNop(),
		Clock:   clk,
		Gateway: gw,
		Ledger:  ledger,
		Guard:   dedup.NewMemoryGuard(clk),
	})
	notifications := notificationservice.NewService(notificationservice.Params{
		Cfg:        cfg,
		Log:        zap.NewNop(),
		Gateway:    gw,
		Reconciler: reconciler,
	})

	engine := NewEngine(observability.Config{}, nil)
	NewServer(ServerParams{
		Gin:           engine,
		Cfg:           cfg,
		Log:           zap.NewNop(),
		Notifications: notifications,
	})

	return &harness{
		engine:        engine,
		notifications: notifications,
		ledger:        ledger,
		db:            conn,
		paymentHits:   hits,
	}
}

func (h *harness) insertUser(t *testing.T, id, balance string) {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, h.db.Exec(
		`INSERT INTO users (id, name, email, balance, applied_references, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		id, "Ana", "ana@example.com", balance, "[]", now, now,
	).Error)
}

func (h *harness) do(method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.notifications.Stop(ctx))
}

func TestNotification_ApprovedPaymentCreditedOnceEndToEnd(t *testing.T) {
	h := newHarness(t, "approved")
	h.insertUser(t, "u-1", "10")
	ctx := context.Background()

	rec := h.do(http.MethodPost, "/pagamento", "application/json", `{"type":"payment","data":{"id":"777"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	require.Eventually(t, func() bool {
		payment, err := h.ledger.FindPayment(ctx, 777)
		return err == nil && payment.Credited
	}, 5*time.Second, 20*time.Millisecond)

	// the processor redelivers the same notification through the query string
	rec = h.do(http.MethodPost, "/webhooks/mercadopago?topic=payment&id=777", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h.drain(t)

	user, err := h.ledger.GetUserBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(decimal.RequireFromString("35.50")), "balance %s", user.Balance)
	assert.Len(t, user.AppliedReferences, 1)

	history, err := h.ledger.ListHistory(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Amount.Equal(decimal.RequireFromString("25.50")))

	payment, err := h.ledger.FindPayment(ctx, 777)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatus("approved"), payment.Status)
	assert.Equal(t, "u-1", payment.ResolvedUserID())
	assert.Equal(t, ledgerdomain.PaymentMethod("pix"), payment.Method)
	assert.False(t, payment.CreditDuplicated)
	assert.Equal(t, int32(2), h.paymentHits.Load())
}

func TestNotification_PendingPaymentRecordedWithoutCredit(t *testing.T) {
	h := newHarness(t, "pending")
	h.insertUser(t, "u-1", "10")
	ctx := context.Background()

	rec := h.do(http.MethodPost, "/pagamento", "application/x-www-form-urlencoded", "topic=payment&id=900")
	require.Equal(t, http.StatusOK, rec.Code)
	h.drain(t)

	payment, err := h.ledger.FindPayment(ctx, 900)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatus("pending"), payment.Status)
	assert.False(t, payment.Credited)

	user, err := h.ledger.GetUserBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(decimal.NewFromInt(10)))
}

func TestNotification_RejectsPayloadWithoutIdentifiers(t *testing.T) {
	h := newHarness(t, "approved")

	cases := []struct {
		name        string
		contentType string
		body        string
	}{
		{name: "no ids", contentType: "application/json", body: `{"type":"payment"}`},
		{name: "not json", contentType: "text/plain", body: `hello`},
		{name: "empty", contentType: "", body: ``},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/pagamento", tc.contentType, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var payload errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			assert.Equal(t, "validation_error", payload.Error.Type)
			require.Len(t, payload.Error.Errors, 1)
			assert.Equal(t, "no_payment_identifiers", payload.Error.Errors[0].Code)
		})
	}
	assert.Equal(t, int32(0), h.paymentHits.Load())
}

func TestNotification_AcknowledgedAfterDispatcherStopped(t *testing.T) {
	h := newHarness(t, "approved")
	h.drain(t)

	rec := h.do(http.MethodPost, "/pagamento", "application/json", `{"data":{"id":"777"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(0), h.paymentHits.Load())
}

func TestWebhookLivenessAndHealth(t *testing.T) {
	h := newHarness(t, "approved")

	rec := h.do(http.MethodGet, "/pagamento", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Webhook OK (GET)", rec.Body.String())

	rec = h.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestDiagnosticsMasksAccessToken(t *testing.T) {
	h := newHarness(t, "approved")

	rec := h.do(http.MethodGet, "/diagnostics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), testAccessToken)

	var payload diagnosticsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "test", payload.Mode)
	assert.Equal(t, "TEST-****abcd", payload.AccessToken)
	assert.Equal(t, "gorm", payload.LedgerBackend)
	assert.Equal(t, "memory", payload.DedupBackend)
	assert.False(t, payload.EventsEnabled)
	assert.Equal(t, int64(300), payload.Tunables.DedupTTLSeconds)
	assert.Equal(t, []string{"merchant_order", "order"}, payload.Tunables.OrderKeywords)
}

func TestMapError(t *testing.T) {
	status, payload := mapError(ErrServiceUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "service_unavailable", payload.Type)

	status, payload = mapError(invalidRequestError())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", payload.Errors[0].Code)

	errType, code := classifyErrorForLog(assert.AnError)
	assert.Equal(t, "internal_error", errType)
	assert.Equal(t, "internal_error", code)
}
