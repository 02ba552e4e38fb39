package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paynotify/internal/clock"
	ledgerdomain "github.com/smallbiznis/paynotify/internal/ledger/domain"
	"github.com/smallbiznis/paynotify/internal/ledger/repository"
	"github.com/smallbiznis/paynotify/internal/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupLedger(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// a single connection keeps the in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	}).(*Service)
	return svc, conn, clk
}

func insertUser(t *testing.T, conn *gorm.DB, id, name string, balance, refs any) {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := conn.Exec(
		`INSERT INTO users (id, name, email, balance, applied_references, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		id, name, "", balance, refs, now, now,
	).Error
	require.NoError(t, err)
}

func TestCredit_AppliesOnceAndRecordsHistory(t *testing.T) {
	svc, conn, _ := setupLedger(t)
	ctx := context.Background()
	insertUser(t, conn, "u-1", "Ana", "5.00", `[]`)

	req := ledgerdomain.CreditRequest{UserID: "u-1", Amount: decimal.RequireFromString("25.50"), Reference: "mp:777"}

	first, err := svc.Credit(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicated)
	assert.True(t, first.NewBalance.Equal(decimal.RequireFromString("30.50")), first.NewBalance.String())

	second, err := svc.Credit(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicated)
	assert.True(t, second.NewBalance.Equal(decimal.RequireFromString("30.50")), second.NewBalance.String())

	user, err := svc.GetUserBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(decimal.RequireFromString("30.50")))
	assert.Equal(t, []string{"ref:mp:777"}, user.AppliedReferences)

	history, err := svc.ListHistory(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Ana", history[0].Name)
	assert.Equal(t, "—", history[0].Email)
	assert.Equal(t, ledgerdomain.HistoryKindDeposit, history[0].Kind)
	assert.Equal(t, "Crédito confirmado (mp:777)", history[0].Description)
	assert.Equal(t, "mp:777", history[0].Reference)
}

func TestCredit_ConcurrentSameReference(t *testing.T) {
	svc, conn, _ := setupLedger(t)
	ctx := context.Background()
	insertUser(t, conn, "u-1", "Ana", "0", nil)

	req := ledgerdomain.CreditRequest{UserID: "u-1", Amount: decimal.NewFromInt(10), Reference: "mp:42"}

	const workers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		applied    int
		duplicated int
		errs       []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Credit(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Duplicated {
				duplicated++
			} else {
				applied++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, applied)
	assert.Equal(t, workers-1, duplicated)

	user, err := svc.GetUserBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(decimal.NewFromInt(10)), user.Balance.String())

	history, err := svc.ListHistory(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCredit_DifferentReferencesAccumulate(t *testing.T) {
	svc, conn, _ := setupLedger(t)
	ctx := context.Background()
	insertUser(t, conn, "u-1", "Ana", "0", `[]`)

	for i := 1; i <= 3; i++ {
		_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
			UserID:    "u-1",
			Amount:    decimal.NewFromInt(5),
			Reference: fmt.Sprintf("mp:%d", i),
		})
		require.NoError(t, err)
	}

	user, err := svc.GetUserBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, []string{"ref:mp:1", "ref:mp:2", "ref:mp:3"}, user.AppliedReferences)
	assert.Equal(t, int64(3), user.Version)
}

// staleReadRepo serves a snapshot taken before a competing commit on the first
// read of a user, so the version-guarded write loses the race.
type staleReadRepo struct {
	ledgerdomain.Repository

	mu      sync.Mutex
	stale   map[string]ledgerdomain.UserBalance
	updates []bool
}

func (r *staleReadRepo) FindUser(ctx context.Context, db *gorm.DB, userID string) (*ledgerdomain.UserBalance, error) {
	r.mu.Lock()
	snapshot, ok := r.stale[userID]
	delete(r.stale, userID)
	r.mu.Unlock()
	if ok {
		return &snapshot, nil
	}
	return r.Repository.FindUser(ctx, db, userID)
}

func (r *staleReadRepo) UpdateBalance(ctx context.Context, db *gorm.DB, userID string, balance decimal.Decimal, refs datatypes.JSON, expectedVersion int64, now time.Time) (bool, error) {
	ok, err := r.Repository.UpdateBalance(ctx, db, userID, balance, refs, expectedVersion, now)
	r.mu.Lock()
	r.updates = append(r.updates, ok)
	r.mu.Unlock()
	return ok, err
}

func raceAfterRead(t *testing.T, svc *Service, userID, competingRef string, amount decimal.Decimal) *staleReadRepo {
	t.Helper()
	ctx := context.Background()

	before, err := svc.GetUserBalance(ctx, userID)
	require.NoError(t, err)

	_, err = svc.Credit(ctx, ledgerdomain.CreditRequest{UserID: userID, Amount: amount, Reference: competingRef})
	require.NoError(t, err)

	wrapped := &staleReadRepo{
		Repository: svc.repo,
		stale:      map[string]ledgerdomain.UserBalance{userID: *before},
	}
	svc.repo = wrapped
	return wrapped
}

func TestCredit_VersionConflictRereadsAndKeepsBothCredits(t *testing.T) {
	svc, conn, _ := setupLedger(t)
	ctx := context.Background()
	insertUser(t, conn, "u-1", "Ana", "1.00", `[]`)

	repo := raceAfterRead(t, svc, "u-1", "mp:other", decimal.NewFromInt(4))

	res, err := svc.Credit(ctx, ledgerdomain.CreditRequest{UserID: "u-1", Amount: decimal.NewFromInt(10), Reference: "mp:777"})
	require.NoError(t, err)
	assert.False(t, res.Duplicated)
	assert.True(t, res.NewBalance.Equal(decimal.NewFromInt(15)), res.NewBalance.String())
	assert.Equal(t, []bool{false, true}, repo.updates)

	user, err := svc.GetUserBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(decimal.NewFromInt(15)), user.Balance.String())
	assert.Equal(t, []string{"ref:mp:other", "ref:mp:777"}, user.AppliedReferences)
	assert.Equal(t, int64(2), user.Version)

	history, err := svc.ListHistory(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCredit_VersionConflictOnSameReferenceIsDuplicated(t *testing.T) {
	svc, conn, _ := setupLedger(t)
	ctx := context.Background()
	insertUser(t, conn, "u-1", "Ana", "0", `[]`)

	repo := raceAfterRead(t, svc, "u-1", "mp:777", decimal.NewFromInt(10))

	res, err := svc.Credit(ctx, ledgerdomain.CreditRequest{UserID: "u-1", Amount: decimal.NewFromInt(10), Reference: "mp:777"})
	require.NoError(t, err)
	assert.True(t, res.Duplicated)
	assert.True(t, res.NewBalance.Equal(decimal.NewFromInt(10)), res.NewBalance.String())
	// the retry sees the reference and never writes again
	assert.Equal(t, []bool{false}, repo.updates)

	user, err := svc.GetUserBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(decimal.NewFromInt(10)), user.Balance.String())
	assert.Equal(t, []string{"ref:mp:777"}, user.AppliedReferences)

	history, err := svc.ListHistory(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCredit_TolerantDecoding(t *testing.T) {
	cases := []struct {
		name    string
		balance any
		refs    any
	}{
		{name: "null balance", balance: nil, refs: nil},
		{name: "non numeric balance", balance: "abc", refs: `[]`},
		{name: "malformed references", balance: "0", refs: `{not json`},
		{name: "mixed references", balance: "0", refs: `[1, "ref:other", null]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, conn, _ := setupLedger(t)
			ctx := context.Background()
			insertUser(t, conn, "u-1", "", tc.balance, tc.refs)

			res, err := svc.Credit(ctx, ledgerdomain.CreditRequest{UserID: "u-1", Amount: decimal.NewFromInt(7), Reference: "mp:1"})
			require.NoError(t, err)
			assert.False(t, res.Duplicated)
			assert.True(t, res.NewBalance.Equal(decimal.NewFromInt(7)), res.NewBalance.String())

			history, err := svc.ListHistory(ctx, "u-1")
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, "—", history[0].Name)
		})
	}
}

func TestCredit_UserNotFound(t *testing.T) {
	svc, _, _ := setupLedger(t)

	_, err := svc.Credit(context.Background(), ledgerdomain.CreditRequest{UserID: "ghost", Amount: decimal.NewFromInt(1), Reference: "mp:1"})
	assert.True(t, errors.Is(err, ledgerdomain.ErrUserNotFound), "got %v", err)
}

func TestCredit_RejectsInvalidRequests(t *testing.T) {
	svc, _, _ := setupLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{UserID: " ", Amount: decimal.NewFromInt(1), Reference: "mp:1"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidUserID)

	_, err = svc.Credit(ctx, ledgerdomain.CreditRequest{UserID: "u-1", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidReference)

	_, err = svc.Credit(ctx, ledgerdomain.CreditRequest{UserID: "u-1", Amount: decimal.Zero, Reference: "mp:1"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)
}

func TestUpsertPayment_MergesObservations(t *testing.T) {
	svc, _, clk := setupLedger(t)
	ctx := context.Background()
	user := "u-1"

	created, err := svc.UpsertPayment(ctx, ledgerdomain.PaymentRecord{
		ExternalPaymentID: 777,
		Status:            ledgerdomain.PaymentStatusPending,
		Amount:            decimal.RequireFromString("25.50"),
		Method:            ledgerdomain.PaymentMethodPix,
		ExternalReference: "rbc:u-1",
		UserID:            &user,
	})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusPending, created.Status)
	assert.False(t, created.Credited)

	clk.Advance(time.Minute)
	other := "someone-else"
	merged, err := svc.UpsertPayment(ctx, ledgerdomain.PaymentRecord{
		ExternalPaymentID: 777,
		Status:            ledgerdomain.PaymentStatusApproved,
		StatusDetail:      "accredited",
		Amount:            decimal.NewFromInt(99),
		Method:            ledgerdomain.PaymentMethodCard,
		UserID:            &other,
	})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusApproved, merged.Status)
	assert.Equal(t, "accredited", merged.StatusDetail)
	assert.Equal(t, "u-1", merged.ResolvedUserID())
	assert.True(t, merged.Amount.Equal(decimal.RequireFromString("25.50")))
	assert.Equal(t, ledgerdomain.PaymentMethodPix, merged.Method)
	assert.Equal(t, "rbc:u-1", merged.ExternalReference)

	stored, err := svc.FindPayment(ctx, 777)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusApproved, stored.Status)
	assert.Equal(t, "u-1", stored.ResolvedUserID())
	assert.True(t, stored.Amount.Equal(decimal.RequireFromString("25.50")))
}

func TestUpsertPayment_FillsMissingFields(t *testing.T) {
	svc, _, _ := setupLedger(t)
	ctx := context.Background()

	_, err := svc.UpsertPayment(ctx, ledgerdomain.PaymentRecord{ExternalPaymentID: 5, Status: ledgerdomain.PaymentStatusPending})
	require.NoError(t, err)

	user := "u-9"
	merged, err := svc.UpsertPayment(ctx, ledgerdomain.PaymentRecord{
		ExternalPaymentID: 5,
		UserID:            &user,
		Amount:            decimal.NewFromInt(3),
		Method:            ledgerdomain.PaymentMethodBoleto,
	})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusPending, merged.Status)
	assert.Equal(t, "u-9", merged.ResolvedUserID())
	assert.Equal(t, ledgerdomain.PaymentMethodBoleto, merged.Method)
	assert.True(t, merged.Amount.Equal(decimal.NewFromInt(3)))
}

func TestMarkCredited_IsMonotonic(t *testing.T) {
	svc, _, clk := setupLedger(t)
	ctx := context.Background()

	_, err := svc.UpsertPayment(ctx, ledgerdomain.PaymentRecord{ExternalPaymentID: 8, Status: ledgerdomain.PaymentStatusApproved})
	require.NoError(t, err)

	firstAt := clk.Now()
	require.NoError(t, svc.MarkCredited(ctx, 8, firstAt, false))
	clk.Advance(time.Hour)
	require.NoError(t, svc.MarkCredited(ctx, 8, clk.Now(), true))

	_, err = svc.UpsertPayment(ctx, ledgerdomain.PaymentRecord{ExternalPaymentID: 8, Status: ledgerdomain.PaymentStatusApproved})
	require.NoError(t, err)

	stored, err := svc.FindPayment(ctx, 8)
	require.NoError(t, err)
	assert.True(t, stored.Credited)
	assert.False(t, stored.CreditDuplicated)
	require.NotNil(t, stored.CreditedAt)
	assert.True(t, stored.CreditedAt.Equal(firstAt), "credited_at moved to %v", stored.CreditedAt)
}

func TestFindPayment_NotFound(t *testing.T) {
	svc, _, _ := setupLedger(t)

	_, err := svc.FindPayment(context.Background(), 404)
	assert.ErrorIs(t, err, ledgerdomain.ErrPaymentNotFound)

	_, err = svc.FindPayment(context.Background(), 0)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPaymentID)
}
