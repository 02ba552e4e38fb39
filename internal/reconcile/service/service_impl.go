package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/paynotify/internal/audit/domain"
	"github.com/smallbiznis/paynotify/internal/clock"
	"github.com/smallbiznis/paynotify/internal/config"
	"github.com/smallbiznis/paynotify/internal/dedup"
	"github.com/smallbiznis/paynotify/internal/events"
	"github.com/smallbiznis/paynotify/internal/gateway"
	ledgerdomain "github.com/smallbiznis/paynotify/internal/ledger/domain"
	obscontext "github.com/smallbiznis/paynotify/internal/observability/context"
	obslogger "github.com/smallbiznis/paynotify/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paynotify/internal/observability/metrics"
	reconciledomain "github.com/smallbiznis/paynotify/internal/reconcile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	auditActionReconcileFailed = "payment.reconcile_failed"
	auditActionSkippedNoUser   = "payment.credit_skipped_no_user"
	auditActionCredited        = "payment.credited"
	auditTargetPayment         = "payment"

	defaultMaxConcurrency = 4
)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Gateway    gateway.Client
	Ledger     ledgerdomain.Service
	Guard      dedup.Guard
	Tunables   *config.ReconcileConfigHolder `optional:"true"`
	AuditSvc   auditdomain.Service           `optional:"true"`
	Publisher  events.Publisher              `optional:"true"`
	ObsMetrics *obsmetrics.Metrics           `optional:"true"`
}

type Service struct {
	log            *zap.Logger
	clock          clock.Clock
	gateway        gateway.Client
	ledger         ledgerdomain.Service
	guard          dedup.Guard
	tunables       *config.ReconcileConfigHolder
	auditSvc       auditdomain.Service
	publisher      events.Publisher
	obsMetrics     *obsmetrics.Metrics
	maxConcurrency int
}

func NewService(p Params) reconciledomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	tunables := p.Tunables
	if tunables == nil {
		tunables = config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig())
	}
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	guard := p.Guard
	if guard == nil {
		guard = dedup.NewMemoryGuard(clk)
	}
	maxConcurrency := p.Cfg.Reconcile.MaxInflight
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}

	return &Service{
		log:            p.Log.Named("reconcile.service"),
		clock:          clk,
		gateway:        p.Gateway,
		ledger:         p.Ledger,
		guard:          guard,
		tunables:       tunables,
		auditSvc:       p.AuditSvc,
		publisher:      publisher,
		obsMetrics:     p.ObsMetrics,
		maxConcurrency: maxConcurrency,
	}
}

func (s *Service) ReconcileMany(ctx context.Context, notificationID string, ids []uint64) []reconciledomain.Result {
	results := make([]reconciledomain.Result, len(ids))
	if len(ids) == 0 {
		return results
	}
	if notificationID != "" {
		ctx = obscontext.WithNotificationID(ctx, notificationID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			outcome, err := s.Reconcile(gctx, id)
			results[i] = reconciledomain.Result{PaymentID: id, Outcome: outcome, Err: err}
			if err != nil {
				s.recordFailure(gctx, id, err)
			}
			// failures stay per id so siblings keep running
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) Reconcile(ctx context.Context, paymentID uint64) (reconciledomain.Outcome, error) {
	started := s.clock.Now()
	ctx = obscontext.WithPaymentID(ctx, strconv.FormatUint(paymentID, 10))

	outcome, err := s.reconcile(ctx, paymentID)
	if err != nil {
		outcome = reconciledomain.OutcomeFailed
	}
	s.obsMetrics.RecordReconcileOutcome(ctx, string(outcome), s.clock.Now().Sub(started))
	return outcome, err
}

func (s *Service) reconcile(ctx context.Context, paymentID uint64) (reconciledomain.Outcome, error) {
	log := obslogger.WithContext(ctx, s.log)
	tunables := s.tunables.Get()

	details, err := s.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		return "", fmt.Errorf("fetch payment %d: %w", paymentID, err)
	}

	status := NormalizeStatus(details.Status)
	externalReference := strings.TrimSpace(details.ExternalReference)
	observed := ledgerdomain.PaymentRecord{
		ExternalPaymentID: paymentID,
		Status:            status,
		StatusDetail:      strings.TrimSpace(details.StatusDetail),
		Amount:            details.TransactionAmount,
		Method:            MethodFromProcessor(details.PaymentMethodID),
		ExternalReference: externalReference,
	}
	if userID, ok := NewUserIDResolver(tunables).Resolve(details.MetadataUserID, externalReference); ok {
		observed.UserID = &userID
	}

	record, err := s.ledger.UpsertPayment(ctx, observed)
	if err != nil {
		return "", err
	}

	if status != ledgerdomain.PaymentStatusApproved {
		log.Info("payment recorded", zap.String("status", string(status)))
		return reconciledomain.OutcomeRecorded, nil
	}

	guardKey := dedup.Key(paymentID)
	if !s.guard.TryAcquire(ctx, guardKey, tunables.DedupTTL) {
		log.Info("credit suppressed by dedup guard")
		return reconciledomain.OutcomeDedupSuppressed, nil
	}

	userID := record.ResolvedUserID()
	if userID == "" {
		log.Warn("approved payment has no user id, credit skipped")
		s.audit(ctx, auditActionSkippedNoUser, paymentID, map[string]any{
			"external_reference": externalReference,
		})
		return reconciledomain.OutcomeSkippedNoUser, nil
	}

	if record.Credited {
		log.Debug("payment already credited")
		return reconciledomain.OutcomeAlreadyCredited, nil
	}

	amount := record.Amount
	if amount.IsZero() {
		amount = observed.Amount
	}
	reference := ledgerdomain.PaymentReference(paymentID)
	credit, err := s.ledger.Credit(ctx, ledgerdomain.CreditRequest{
		UserID:    userID,
		Amount:    amount,
		Reference: reference,
	})
	if err != nil {
		s.releaseGuard(ctx, guardKey)
		return "", fmt.Errorf("credit payment %d: %w", paymentID, err)
	}

	creditedAt := s.clock.Now()
	if err := s.ledger.MarkCredited(ctx, paymentID, creditedAt, credit.Duplicated); err != nil {
		// the applied reference stops a second credit on the next delivery
		s.releaseGuard(ctx, guardKey)
		return "", err
	}

	if credit.Duplicated {
		log.Info("credit reference already applied", zap.String("user_id", userID))
		return reconciledomain.OutcomeCreditDuplicated, nil
	}

	log.Info("credit applied",
		zap.String("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("new_balance", credit.NewBalance.String()),
	)
	s.audit(ctx, auditActionCredited, paymentID, map[string]any{
		"user_id":   userID,
		"amount":    amount.String(),
		"reference": reference,
	})
	event := events.NewCreditedEvent(paymentID, userID, amount, credit.NewBalance, reference, creditedAt)
	if err := s.publisher.PublishCredited(ctx, event); err != nil {
		log.Warn("failed to publish credited event", zap.Error(err))
	}
	return reconciledomain.OutcomeCredited, nil
}

// releaseGuard reopens the window after a failed credit so a redelivery is
// not suppressed while credited is still false.
func (s *Service) releaseGuard(ctx context.Context, key string) {
	s.guard.Release(context.WithoutCancel(ctx), key)
}

func (s *Service) recordFailure(ctx context.Context, paymentID uint64, err error) {
	log := obslogger.WithContext(ctx, s.log).With(zap.Uint64("payment_id", paymentID))
	var timeout *gateway.TimeoutError
	var upstream *gateway.UpstreamError
	switch {
	case errors.Is(err, ledgerdomain.ErrUserNotFound):
		log.Warn("user not found for credit", zap.Error(err))
	case errors.As(err, &timeout), errors.As(err, &upstream):
		log.Warn("payment fetch failed", zap.Error(err))
	default:
		log.Error("payment reconciliation failed", zap.Error(err))
	}
	s.audit(ctx, auditActionReconcileFailed, paymentID, map[string]any{
		"error":  err.Error(),
		"reason": failureReason(err),
	})
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ledgerdomain.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ledgerdomain.ErrConflictRetriesExhausted):
		return "store_conflict"
	case errors.Is(err, ledgerdomain.ErrInvalidAmount):
		return "invalid_amount"
	}
	if reason := gateway.Reason(err); reason != "transport" {
		return "gateway_" + reason
	}
	return "internal"
}

func (s *Service) audit(ctx context.Context, action string, paymentID uint64, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := strconv.FormatUint(paymentID, 10)
	// audit must not turn a processed payment into a failure
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.auditSvc.AuditLog(auditCtx, auditdomain.ActorTypeWebhook, nil, action, auditTargetPayment, &target, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
