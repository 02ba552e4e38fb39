package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm translated", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "postgres code", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "sqlite text", err: errors.New("UNIQUE constraint failed: payments.external_payment_id"), want: true},
		{name: "mysql text", err: errors.New("Error 1062: Duplicate entry"), want: true},
		{name: "other", err: errors.New("connection refused"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDuplicateKeyErr(tc.err); got != tc.want {
				t.Fatalf("IsDuplicateKeyErr() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsRetryableTxErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "deadlock", err: fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40P01"}), want: true},
		{name: "sqlite busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: true},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "nil", err: nil, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryableTxErr(tc.err); got != tc.want {
				t.Fatalf("IsRetryableTxErr() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDialectRejectsUnknownType(t *testing.T) {
	if _, err := Dialect(Config{Type: "oracle"}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	for _, typ := range []string{TypePostgres, TypeMySQL, TypeSQLite} {
		if _, err := Dialect(Config{Type: typ}); err != nil {
			t.Fatalf("dialect %s: %v", typ, err)
		}
	}
}

func TestNormalizeType(t *testing.T) {
	cases := map[string]string{
		"":           TypePostgres,
		"PostgreSQL": TypePostgres,
		"mariadb":    TypeMySQL,
		"sqlite3":    TypeSQLite,
		"oracle":     "oracle",
	}
	for input, want := range cases {
		if got := NormalizeType(input); got != want {
			t.Fatalf("NormalizeType(%q) = %q, want %q", input, got, want)
		}
	}
}
