package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paynotify/internal/clock"
	"github.com/smallbiznis/paynotify/internal/config"
	ledgerdomain "github.com/smallbiznis/paynotify/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/paynotify/internal/observability/metrics"
	"github.com/smallbiznis/paynotify/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       ledgerdomain.Repository
	Tunables   *config.ReconcileConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics           `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	tunables   *config.ReconcileConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      clk,
		repo:       p.Repo,
		tunables:   p.Tunables,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) FindPayment(ctx context.Context, externalPaymentID uint64) (*ledgerdomain.PaymentRecord, error) {
	if externalPaymentID == 0 {
		return nil, ledgerdomain.ErrInvalidPaymentID
	}
	record, err := s.repo.FindPayment(ctx, s.db, externalPaymentID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ledgerdomain.ErrPaymentNotFound
	}
	return record, nil
}

func (s *Service) UpsertPayment(ctx context.Context, observed ledgerdomain.PaymentRecord) (*ledgerdomain.PaymentRecord, error) {
	if observed.ExternalPaymentID == 0 {
		return nil, ledgerdomain.ErrInvalidPaymentID
	}

	var result ledgerdomain.PaymentRecord
	err := ledgerdomain.RetryOnConflict(ctx, s.retryPolicy(), db.IsRetryableTxErr, s.onConflict, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()
			existing, err := s.repo.FindPayment(ctx, tx, observed.ExternalPaymentID)
			if err != nil {
				return err
			}

			if existing == nil {
				record := ledgerdomain.NewPaymentRecord(observed)
				record.CreatedAt = now
				record.UpdatedAt = now
				if err := s.repo.InsertPayment(ctx, tx, &record); err != nil {
					if db.IsDuplicateKeyErr(err) {
						// first observation raced with another delivery; merge on the next pass
						return ledgerdomain.ErrStoreConflict
					}
					return err
				}
				result = record
				return nil
			}

			merged := ledgerdomain.PaymentMergePolicy.Apply(*existing, observed)
			merged.UpdatedAt = now
			if err := s.repo.UpdatePaymentFields(ctx, tx, &merged); err != nil {
				return err
			}
			result = merged
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("upsert payment %d: %w", observed.ExternalPaymentID, err)
	}
	return &result, nil
}

func (s *Service) MarkCredited(ctx context.Context, externalPaymentID uint64, creditedAt time.Time, duplicated bool) error {
	if externalPaymentID == 0 {
		return ledgerdomain.ErrInvalidPaymentID
	}
	updated, err := s.repo.MarkCredited(ctx, s.db, externalPaymentID, creditedAt.UTC(), duplicated)
	if err != nil {
		return fmt.Errorf("mark payment %d credited: %w", externalPaymentID, err)
	}
	if !updated {
		s.log.Debug("payment already marked credited", zap.Uint64("payment_id", externalPaymentID))
	}
	return nil
}

// Credit re-runs the whole read-check-write on every conflict, so a
// concurrent writer that applied the same reference is always observed.
func (s *Service) Credit(ctx context.Context, req ledgerdomain.CreditRequest) (ledgerdomain.CreditResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Reference = strings.TrimSpace(req.Reference)
	if req.UserID == "" {
		return ledgerdomain.CreditResult{}, ledgerdomain.ErrInvalidUserID
	}
	if req.Reference == "" {
		return ledgerdomain.CreditResult{}, ledgerdomain.ErrInvalidReference
	}
	if !req.Amount.IsPositive() {
		return ledgerdomain.CreditResult{}, ledgerdomain.ErrInvalidAmount
	}

	var result ledgerdomain.CreditResult
	err := ledgerdomain.RetryOnConflict(ctx, s.retryPolicy(), db.IsRetryableTxErr, s.onConflict, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res, err := s.applyCredit(ctx, tx, req)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return ledgerdomain.CreditResult{}, err
	}
	return result, nil
}

func (s *Service) applyCredit(ctx context.Context, tx *gorm.DB, req ledgerdomain.CreditRequest) (ledgerdomain.CreditResult, error) {
	user, err := s.repo.FindUser(ctx, tx, req.UserID)
	if err != nil {
		return ledgerdomain.CreditResult{}, err
	}
	if user == nil {
		return ledgerdomain.CreditResult{}, ledgerdomain.ErrUserNotFound
	}

	if ledgerdomain.HasReference(user.AppliedReferences, req.Reference) {
		return ledgerdomain.CreditResult{Duplicated: true, NewBalance: user.Balance}, nil
	}

	newBalance := user.Balance.Add(req.Amount)
	refs, err := ledgerdomain.EncodeReferences(append(user.AppliedReferences, ledgerdomain.StoredReference(req.Reference)))
	if err != nil {
		return ledgerdomain.CreditResult{}, err
	}

	now := s.clock.Now()
	ok, err := s.repo.UpdateBalance(ctx, tx, user.UserID, newBalance, datatypes.JSON(refs), user.Version, now)
	if err != nil {
		return ledgerdomain.CreditResult{}, err
	}
	if !ok {
		return ledgerdomain.CreditResult{}, ledgerdomain.ErrStoreConflict
	}

	entry := ledgerdomain.TransactionHistoryEntry{
		ID:          s.genID.Generate(),
		UserID:      user.UserID,
		Name:        ledgerdomain.SnapshotOrDash(user.Name),
		Email:       ledgerdomain.SnapshotOrDash(user.Email),
		Amount:      req.Amount,
		Kind:        ledgerdomain.HistoryKindDeposit,
		Description: ledgerdomain.CreditDescription(req.Reference),
		Reference:   req.Reference,
		CreatedAt:   now,
	}
	if err := s.repo.InsertHistory(ctx, tx, &entry); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return ledgerdomain.CreditResult{}, ledgerdomain.ErrStoreConflict
		}
		return ledgerdomain.CreditResult{}, err
	}

	s.log.Info("balance credited",
		zap.String("user_id", user.UserID),
		zap.String("reference", req.Reference),
		zap.String("amount", req.Amount.String()),
		zap.String("new_balance", newBalance.String()),
	)
	return ledgerdomain.CreditResult{Duplicated: false, NewBalance: newBalance}, nil
}

func (s *Service) GetUserBalance(ctx context.Context, userID string) (*ledgerdomain.UserBalance, error) {
	user, err := s.repo.FindUser(ctx, s.db, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ledgerdomain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) ListHistory(ctx context.Context, userID string) ([]ledgerdomain.TransactionHistoryEntry, error) {
	return s.repo.ListHistory(ctx, s.db, strings.TrimSpace(userID))
}

func (s *Service) retryPolicy() ledgerdomain.RetryPolicy {
	policy := ledgerdomain.DefaultRetryPolicy()
	if s.tunables != nil {
		policy.MaxAttempts = s.tunables.Get().CreditMaxAttempts
	}
	return policy
}

func (s *Service) onConflict(attempt int, err error) {
	s.obsMetrics.RecordCreditConflict(context.Background(), "gorm")
	if errors.Is(err, ledgerdomain.ErrStoreConflict) {
		s.log.Debug("ledger write conflict, retrying", zap.Int("attempt", attempt))
		return
	}
	s.log.Warn("ledger transaction failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
}
