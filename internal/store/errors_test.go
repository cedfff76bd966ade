package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	pgErr := func(code string) error {
		return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, Message: "boom"})
	}

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindNone},
		{name: "no rows", err: pgx.ErrNoRows, want: KindNotFound},
		{name: "not found sentinel", err: fmt.Errorf("get: %w", ErrNotFound), want: KindNotFound},
		{name: "unique violation", err: pgErr("23505"), want: KindUniqueViolation},
		{name: "unique sentinel", err: ErrUniqueViolation, want: KindUniqueViolation},
		{name: "serialization failure", err: pgErr("40001"), want: KindBusy},
		{name: "deadlock", err: pgErr("40P01"), want: KindBusy},
		{name: "statement timeout", err: pgErr("57014"), want: KindBusy},
		{name: "acquire timeout", err: fmt.Errorf("%w: pool acquire timed out", ErrBusy), want: KindBusy},
		{name: "lock timeout", err: pgErr("55P03"), want: KindLocked},
		{name: "locked sentinel", err: ErrLocked, want: KindLocked},
		{name: "not null", err: pgErr("23502"), want: KindDataIntegrity},
		{name: "foreign key", err: pgErr("23503"), want: KindDataIntegrity},
		{name: "check", err: pgErr("23514"), want: KindDataIntegrity},
		{name: "blank school id", err: fmt.Errorf("%w: school_id is blank", ErrDataIntegrity), want: KindDataIntegrity},
		{name: "other pg code", err: pgErr("42P01"), want: KindOther},
		{name: "plain error", err: errors.New("boom"), want: KindOther},
		{name: "cancelled", err: fmt.Errorf("query: %w", context.Canceled), want: KindOther},
		{name: "cancelled wins over pg code", err: errors.Join(context.Canceled, pgErr("57014")), want: KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: ErrBusy, want: true},
		{err: ErrLocked, want: true},
		{err: &pgconn.PgError{Code: "55P03"}, want: true},
		{err: &pgconn.PgError{Code: "23505"}, want: false},
		{err: ErrDataIntegrity, want: false},
		{err: ErrNotFound, want: false},
		{err: fmt.Errorf("%w: %w", ErrCommit, errors.New("conn closed")), want: false},
		{err: fmt.Errorf("%w: %w", ErrCommit, &pgconn.PgError{Code: "40001"}), want: false},
		{err: nil, want: false},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestNotFound(t *testing.T) {
	if got := notFound(pgx.ErrNoRows); got != ErrNotFound {
		t.Errorf("notFound(ErrNoRows) = %v, want ErrNotFound", got)
	}
	other := errors.New("boom")
	if got := notFound(other); got != other {
		t.Errorf("notFound(other) = %v, want unchanged", got)
	}
}
