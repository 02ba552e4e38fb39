package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/paynotify/internal/audit/domain"
	auditrepository "github.com/smallbiznis/paynotify/internal/audit/repository"
	"github.com/smallbiznis/paynotify/internal/clock"
	obscontext "github.com/smallbiznis/paynotify/internal/observability/context"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestAuditLog_MasksSecretsAndAddsCorrelation(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := conn.DB()
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	if err := conn.AutoMigrate(&auditdomain.AuditLog{}); err != nil {
		t.Fatal(err)
	}

	node, _ := snowflake.NewNode(1)
	repo := auditrepository.NewGormRepository(conn)
	svc := NewService(Params{
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repo,
	})

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithNotificationID(ctx, "ntf-1")
	target := " 777 "
	err = svc.AuditLog(ctx, auditdomain.ActorTypeWebhook, nil, "payment.reconcile_failed", "payment", &target, map[string]any{
		"access_token": "TEST-1234567890-abcd",
		"reason":       "gateway timeout",
	})
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}

	entries, err := repo.ListByTarget(context.Background(), "payment", "777")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	meta := entries[0].Metadata
	if meta["access_token"] != "TEST-****abcd" {
		t.Fatalf("token not masked: %v", meta["access_token"])
	}
	if meta["request_id"] != "req-1" || meta["notification_id"] != "ntf-1" {
		t.Fatalf("missing correlation ids: %v", meta)
	}
	if entries[0].ActorType != "webhook" {
		t.Fatalf("unexpected actor type %q", entries[0].ActorType)
	}
}

func TestAuditLog_RequiresAction(t *testing.T) {
	node, _ := snowflake.NewNode(1)
	svc := NewService(Params{Log: zap.NewNop(), GenID: node})
	if err := svc.AuditLog(context.Background(), "", nil, "  ", "payment", nil, nil); err != auditdomain.ErrInvalidAction {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}
