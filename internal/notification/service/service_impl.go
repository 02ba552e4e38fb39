package service

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/paynotify/internal/audit/domain"
	"github.com/smallbiznis/paynotify/internal/config"
	"github.com/smallbiznis/paynotify/internal/gateway"
	notificationdomain "github.com/smallbiznis/paynotify/internal/notification/domain"
	obscontext "github.com/smallbiznis/paynotify/internal/observability/context"
	obslogger "github.com/smallbiznis/paynotify/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paynotify/internal/observability/metrics"
	reconciledomain "github.com/smallbiznis/paynotify/internal/reconcile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	auditActionOrderExpansionFailed = "notification.order_expansion_failed"

	resultAccepted = "accepted"
	resultEmpty    = "empty"
	resultInvalid  = "invalid"
)

var ErrDispatcherStopped = errors.New("dispatcher_stopped")

type Params struct {
	fx.In

	Lifecycle  fx.Lifecycle `optional:"true"`
	Cfg        config.Config
	Log        *zap.Logger
	Gateway    gateway.Client
	Reconciler reconciledomain.Service
	Tunables   *config.ReconcileConfigHolder `optional:"true"`
	AuditSvc   auditdomain.Service           `optional:"true"`
	ObsMetrics *obsmetrics.Metrics           `optional:"true"`
}

// IntakeResult describes an accepted notification. OrderURL is set for order
// notifications whose payments are fetched during dispatch.
type IntakeResult struct {
	NotificationID string
	Variants       []notificationdomain.Variant
	Candidates     []uint64
	OrderURL       string
}

// Service turns raw deliveries into candidate ids and reconciles them in the
// background, after the sender has been acknowledged.
type Service struct {
	log        *zap.Logger
	cfg        config.Config
	gateway    gateway.Client
	reconciler reconciledomain.Service
	tunables   *config.ReconcileConfigHolder
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics

	timeout time.Duration
	sem     chan struct{}

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func NewService(p Params) *Service {
	tunables := p.Tunables
	if tunables == nil {
		tunables = config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig())
	}
	maxInflight := p.Cfg.Reconcile.MaxInflight
	if maxInflight <= 0 {
		maxInflight = 16
	}
	timeout := p.Cfg.Reconcile.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	svc := &Service{
		log:        p.Log.Named("notification.service"),
		cfg:        p.Cfg,
		gateway:    p.Gateway,
		reconciler: p.Reconciler,
		tunables:   tunables,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		timeout:    timeout,
		sem:        make(chan struct{}, maxInflight),
	}

	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: svc.Stop,
		})
	}
	return svc
}

// Intake parses and extracts a delivery without calling the processor, so
// the acknowledgment never waits on the gateway.
func (s *Service) Intake(ctx context.Context, body []byte, contentType string, query url.Values) (IntakeResult, error) {
	notificationID := obscontext.NotificationIDFromContext(ctx)
	if notificationID == "" {
		notificationID = ulid.Make().String()
		ctx = obscontext.WithNotificationID(ctx, notificationID)
	}
	log := obslogger.WithContext(ctx, s.log)

	n, err := notificationdomain.Parse(body, contentType, query)
	if err != nil {
		s.obsMetrics.RecordNotification(ctx, "unknown", resultInvalid)
		log.Debug("unreadable notification body", zap.Error(err))
		return IntakeResult{NotificationID: notificationID}, notificationdomain.ErrExtractionEmpty
	}

	extractor := notificationdomain.NewExtractor(s.cfg.MercadoPago.BaseURL, s.tunables.Get().OrderKeywords)
	extraction, err := extractor.Extract(n)
	if err != nil {
		s.obsMetrics.RecordNotification(ctx, "unknown", resultEmpty)
		log.Debug("notification carried no payment identifiers",
			zap.String("topic", n.Topic),
			zap.String("type", n.Type),
		)
		return IntakeResult{NotificationID: notificationID}, err
	}

	s.obsMetrics.RecordNotification(ctx, string(primaryVariant(extraction.Variants)), resultAccepted)
	log.Info("notification accepted",
		zap.Any("variants", extraction.Variants),
		zap.Any("candidates", extraction.Candidates),
		zap.String("order_url", extraction.OrderURL),
	)

	return IntakeResult{
		NotificationID: notificationID,
		Variants:       extraction.Variants,
		Candidates:     extraction.Candidates,
		OrderURL:       extraction.OrderURL,
	}, nil
}

// Dispatch expands order notifications and reconciles the candidates in the
// background on a context detached from the request. Work is bounded by the
// in-flight semaphore and the reconcile timeout.
func (s *Service) Dispatch(ctx context.Context, result IntakeResult) error {
	if len(result.Candidates) == 0 && result.OrderURL == "" {
		return nil
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrDispatcherStopped
	}
	s.wg.Add(1)
	s.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer s.wg.Done()

		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		runCtx, cancel := context.WithTimeout(detached, s.timeout)
		defer cancel()

		ids := s.expandOrder(runCtx, result)
		if len(ids) == 0 {
			return
		}
		s.obsMetrics.RecordCandidates(runCtx, len(ids))

		results := s.reconciler.ReconcileMany(runCtx, result.NotificationID, ids)
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		obslogger.WithContext(runCtx, s.log).Debug("notification reconciled",
			zap.Int("candidates", len(ids)),
			zap.Int("failed", failed),
		)
	}()
	return nil
}

// expandOrder unions the payments of an order with the direct candidates. A
// failed expansion is logged and audited; direct candidates still proceed.
func (s *Service) expandOrder(ctx context.Context, result IntakeResult) []uint64 {
	extraction := notificationdomain.Extraction{Candidates: append([]uint64(nil), result.Candidates...)}
	if result.OrderURL == "" {
		return extraction.Candidates
	}

	ids, err := s.gateway.FetchOrderPayments(ctx, result.OrderURL)
	if err != nil {
		obslogger.WithContext(ctx, s.log).Warn("order expansion failed",
			zap.String("order_url", result.OrderURL),
			zap.Error(err),
		)
		s.audit(ctx, result.NotificationID, map[string]any{
			"order_url": result.OrderURL,
			"error":     err.Error(),
		})
		return extraction.Candidates
	}
	extraction.Union(ids...)
	return extraction.Candidates
}

// Stop refuses new work and waits for in-flight reconciliations until ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.log.Warn("stopping with reconciliations still in flight")
		return ctx.Err()
	}
}

func (s *Service) audit(ctx context.Context, notificationID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := notificationID
	if err := s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeWebhook, nil, auditActionOrderExpansionFailed, "notification", &target, metadata); err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}
}

func primaryVariant(variants []notificationdomain.Variant) notificationdomain.Variant {
	if len(variants) == 0 {
		return "unknown"
	}
	return variants[0]
}
