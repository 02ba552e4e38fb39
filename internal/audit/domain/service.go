package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem   ActorType = "system"
	ActorTypeWebhook  ActorType = "webhook"
	ActorTypeOperator ActorType = "operator"
)

// AuditLog records an operationally relevant event, e.g. a failed reconciliation
// an operator may want to replay.
type AuditLog struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	ActorType  string       `gorm:"type:text;not null"`
	ActorID    *string      `gorm:"type:text"`
	Action     string       `gorm:"type:text;not null;index"`
	TargetType string       `gorm:"type:text;not null"`
	TargetID   *string      `gorm:"type:text;index"`
	Metadata   datatypes.JSONMap
	CreatedAt  time.Time `gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type Service interface {
	AuditLog(ctx context.Context, actorType ActorType, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
}

type Repository interface {
	Insert(ctx context.Context, entry *AuditLog) error
	ListByTarget(ctx context.Context, targetType, targetID string) ([]AuditLog, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
)
