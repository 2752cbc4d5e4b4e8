package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/JonMunkholm/surveyload/internal/dictionary"
	"github.com/JonMunkholm/surveyload/internal/fixedwidth"
	"github.com/JonMunkholm/surveyload/internal/load"
	"github.com/JonMunkholm/surveyload/internal/reconcile"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:     "malformed dictionary",
			err:      &dictionary.ParseError{Line: 4, Block: "Item", Detail: "missing Start", Err: dictionary.ErrMalformedBlock},
			wantCode: "SCH001",
		},
		{
			name:     "duplicate record name",
			err:      fmt.Errorf("parse 511.CMMR71.DCF: %w", dictionary.ErrDuplicateName),
			wantCode: "SCH002",
		},
		{
			name:     "bad file name",
			err:      fmt.Errorf("%w: household.dat", ErrFileName),
			wantCode: "SCH003",
		},
		{
			name:     "migration wrapping a pg error keeps the migration code",
			err:      fmt.Errorf("%w: add column rech0.hv006: %w", reconcile.ErrMigration, &pgconn.PgError{Code: "42501"}),
			wantCode: "MIG001",
		},
		{
			name:     "inconsistency wrapping a cancel keeps the load code",
			err:      &load.InconsistencyError{SurveyID: "524", Table: "rech4", Deleted: 10, Err: context.Canceled},
			wantCode: "LOAD001",
		},
		{
			name:     "value too wide",
			err:      &load.WidthError{Table: "rech0", Column: "hv006", Row: 1, Width: 4, Limit: 2},
			wantCode: "INV001",
		},
		{
			name:     "column missing",
			err:      fmt.Errorf("rech0: %w", load.ErrColumnMissing),
			wantCode: "INV002",
		},
		{
			name:     "cancelled run",
			err:      fmt.Errorf("load 524: %w", context.Canceled),
			wantCode: "RUN001",
		},
		{
			name:     "deadline",
			err:      context.DeadlineExceeded,
			wantCode: "RUN002",
		},
		{
			name:     "missing file",
			err:      fmt.Errorf("open: %w", os.ErrNotExist),
			wantCode: "RUN003",
		},
		{
			name:     "deadlock by sqlstate",
			err:      fmt.Errorf("insert: %w", &pgconn.PgError{Code: "40P01"}),
			wantCode: "DB007",
		},
		{
			name:     "value too long by sqlstate",
			err:      &pgconn.PgError{Code: "22001"},
			wantCode: "DB008",
		},
		{
			name:     "connection refused pattern",
			err:      errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"),
			wantCode: "DB004",
		},
		{
			name:     "case insensitive matching",
			err:      errors.New("DEADLOCK detected"),
			wantCode: "DB007",
		},
		{
			name:     "unknown error returns default",
			err:      errors.New("some random internal error"),
			wantCode: "ERR000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestIssueMessage(t *testing.T) {
	if got := IssueMessage(fixedwidth.IssueUnknownDispatch).Code; got != "LIN001" {
		t.Errorf("unknown dispatch code = %q, want LIN001", got)
	}
	if got := IssueMessage(fixedwidth.IssueShortLine).Code; got != "LIN002" {
		t.Errorf("short line code = %q, want LIN002", got)
	}
	if got := IssueMessage("other").Code; got != "ERR000" {
		t.Errorf("unknown kind code = %q, want ERR000", got)
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(errors.New("connection reset by peer"))

	expected := "Database connection was interrupted (Code: DB005). Please try again"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error is not user facing", err: nil, want: false},
		{name: "known error is user facing", err: load.ErrLoadInconsistent, want: true},
		{name: "unknown error is not user facing", err: errors.New("random internal error xyz"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("%w: create table rech0: boom", reconcile.ErrMigration)
		userErr := NewUserError(techErr)

		if userErr.Error() != "A schema change was rejected by the database" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, reconcile.ErrMigration) {
			t.Error("Unwrap() should return original error")
		}
	})
}
