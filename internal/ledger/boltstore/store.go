// Package boltstore keeps the ledger in a single bolt file for deployments
// that run one replica without a SQL database.
//
// Bolt serializes read-write transactions, so the check-and-apply in Credit
// cannot interleave with another writer and needs no version guard.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paynotify/internal/audit/domain"
	"github.com/smallbiznis/paynotify/internal/clock"
	ledgerdomain "github.com/smallbiznis/paynotify/internal/ledger/domain"
	"go.uber.org/zap"
)

var (
	bucketPayments = []byte("payments")
	bucketUsers    = []byte("users")
	bucketHistory  = []byte("balance_history")
	bucketAudit    = []byte("audit_logs")
)

// userDoc keeps balance and references as raw stored text so values written
// by other tools decode with the same tolerance as the SQL backend.
type userDoc struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Email             string          `json:"email"`
	Balance           string          `json:"balance"`
	AppliedReferences json.RawMessage `json:"applied_references,omitempty"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Store struct {
	db    *bolt.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

// Open opens (or creates) the bolt file at path and ensures every bucket exists.
func Open(path string, log *zap.Logger, genID *snowflake.Node, clk clock.Clock) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("bolt path is required")
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt ledger: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPayments, bucketUsers, bucketHistory, bucketAudit} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bolt buckets: %w", err)
	}

	return &Store{
		db:    db,
		log:   log.Named("ledger.bolt"),
		genID: genID,
		clock: clk,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func paymentKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func (s *Store) FindPayment(ctx context.Context, externalPaymentID uint64) (*ledgerdomain.PaymentRecord, error) {
	if externalPaymentID == 0 {
		return nil, ledgerdomain.ErrInvalidPaymentID
	}
	var record ledgerdomain.PaymentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPayments).Get(paymentKey(externalPaymentID))
		if raw == nil {
			return ledgerdomain.ErrPaymentNotFound
		}
		return json.Unmarshal(raw, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) UpsertPayment(ctx context.Context, observed ledgerdomain.PaymentRecord) (*ledgerdomain.PaymentRecord, error) {
	if observed.ExternalPaymentID == 0 {
		return nil, ledgerdomain.ErrInvalidPaymentID
	}

	var result ledgerdomain.PaymentRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPayments)
		key := paymentKey(observed.ExternalPaymentID)
		now := s.clock.Now()

		if raw := b.Get(key); raw != nil {
			var existing ledgerdomain.PaymentRecord
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			result = ledgerdomain.PaymentMergePolicy.Apply(existing, observed)
		} else {
			result = ledgerdomain.NewPaymentRecord(observed)
			result.CreatedAt = now
		}
		result.UpdatedAt = now

		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return nil, fmt.Errorf("upsert payment %d: %w", observed.ExternalPaymentID, err)
	}
	return &result, nil
}

func (s *Store) MarkCredited(ctx context.Context, externalPaymentID uint64, creditedAt time.Time, duplicated bool) error {
	if externalPaymentID == 0 {
		return ledgerdomain.ErrInvalidPaymentID
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPayments)
		key := paymentKey(externalPaymentID)
		raw := b.Get(key)
		if raw == nil {
			return ledgerdomain.ErrPaymentNotFound
		}
		var record ledgerdomain.PaymentRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if record.Credited {
			return nil
		}
		at := creditedAt.UTC()
		record.Credited = true
		record.CreditedAt = &at
		record.CreditDuplicated = duplicated
		record.UpdatedAt = at

		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *Store) Credit(ctx context.Context, req ledgerdomain.CreditRequest) (ledgerdomain.CreditResult, error) {
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
	err := s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		raw := users.Get([]byte(req.UserID))
		if raw == nil {
			return ledgerdomain.ErrUserNotFound
		}
		var doc userDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}

		balance := ledgerdomain.DecodeBalance(doc.Balance)
		refs := ledgerdomain.DecodeReferences(doc.AppliedReferences)
		if ledgerdomain.HasReference(refs, req.Reference) {
			result = ledgerdomain.CreditResult{Duplicated: true, NewBalance: balance}
			return nil
		}

		encoded, err := ledgerdomain.EncodeReferences(append(refs, ledgerdomain.StoredReference(req.Reference)))
		if err != nil {
			return err
		}
		now := s.clock.Now()
		newBalance := balance.Add(req.Amount)
		doc.Balance = newBalance.String()
		doc.AppliedReferences = encoded
		doc.Version++
		doc.UpdatedAt = now

		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		if err := users.Put([]byte(doc.ID), data); err != nil {
			return err
		}

		entry := ledgerdomain.TransactionHistoryEntry{
			ID:          s.genID.Generate(),
			UserID:      doc.ID,
			Name:        ledgerdomain.SnapshotOrDash(doc.Name),
			Email:       ledgerdomain.SnapshotOrDash(doc.Email),
			Amount:      req.Amount,
			Kind:        ledgerdomain.HistoryKindDeposit,
			Description: ledgerdomain.CreditDescription(req.Reference),
			Reference:   req.Reference,
			CreatedAt:   now,
		}
		if err := putHistory(tx, entry); err != nil {
			return err
		}

		result = ledgerdomain.CreditResult{Duplicated: false, NewBalance: newBalance}
		return nil
	})
	if err != nil {
		return ledgerdomain.CreditResult{}, err
	}

	if !result.Duplicated {
		s.log.Info("balance credited",
			zap.String("user_id", req.UserID),
			zap.String("reference", req.Reference),
			zap.String("amount", req.Amount.String()),
			zap.String("new_balance", result.NewBalance.String()),
		)
	}
	return result, nil
}

// putHistory stores entries in a per-user sub-bucket keyed by entry id, so
// iteration order is insertion order.
func putHistory(tx *bolt.Tx, entry ledgerdomain.TransactionHistoryEntry) error {
	perUser, err := tx.Bucket(bucketHistory).CreateBucketIfNotExists([]byte(entry.UserID))
	if err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return perUser.Put(paymentKey(uint64(entry.ID.Int64())), data)
}

func (s *Store) GetUserBalance(ctx context.Context, userID string) (*ledgerdomain.UserBalance, error) {
	userID = strings.TrimSpace(userID)
	var out *ledgerdomain.UserBalance
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketUsers).Get([]byte(userID))
		if raw == nil {
			return ledgerdomain.ErrUserNotFound
		}
		var doc userDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		out = &ledgerdomain.UserBalance{
			UserID:            doc.ID,
			Name:              doc.Name,
			Email:             doc.Email,
			Balance:           ledgerdomain.DecodeBalance(doc.Balance),
			AppliedReferences: ledgerdomain.DecodeReferences(doc.AppliedReferences),
			Version:           doc.Version,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListHistory(ctx context.Context, userID string) ([]ledgerdomain.TransactionHistoryEntry, error) {
	items := []ledgerdomain.TransactionHistoryEntry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		perUser := tx.Bucket(bucketHistory).Bucket([]byte(strings.TrimSpace(userID)))
		if perUser == nil {
			return nil
		}
		return perUser.ForEach(func(_, v []byte) error {
			var entry ledgerdomain.TransactionHistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			items = append(items, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// PutUser creates or replaces a user profile. Users are owned by another
// system; this exists for provisioning single-node installs and for tests.
// balance is stored verbatim, refs may be nil.
func (s *Store) PutUser(ctx context.Context, id, name, email, balance string, refs json.RawMessage) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ledgerdomain.ErrInvalidUserID
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		now := s.clock.Now()
		doc := userDoc{ID: id, CreatedAt: now}
		if raw := b.Get([]byte(id)); raw != nil {
			if err := json.Unmarshal(raw, &doc); err != nil {
				return err
			}
		}
		doc.Name = name
		doc.Email = email
		doc.Balance = balance
		doc.AppliedReferences = refs
		doc.Version++
		doc.UpdatedAt = now

		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

// Insert implements the audit repository on the same file.
func (s *Store) Insert(ctx context.Context, entry *auditdomain.AuditLog) error {
	if entry == nil {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudit).Put(paymentKey(uint64(entry.ID.Int64())), data)
	})
}

func (s *Store) ListByTarget(ctx context.Context, targetType, targetID string) ([]auditdomain.AuditLog, error) {
	items := []auditdomain.AuditLog{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudit).ForEach(func(_, v []byte) error {
			var entry auditdomain.AuditLog
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.TargetType != targetType || entry.TargetID == nil || *entry.TargetID != targetID {
				return nil
			}
			items = append(items, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

var (
	_ ledgerdomain.Service   = (*Store)(nil)
	_ auditdomain.Repository = (*Store)(nil)
)
