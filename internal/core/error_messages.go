// # Error Codes Reference
//
// Every failure in a run report carries a code that operators can quote
// when asking for help. Codes are grouped by category.
//
// # Dictionary Errors (SCH001-SCH099)
//
//	SCH001 - Malformed dictionary: a block is missing a required key
//	         Action: Fix the named block in the .DCF file and re-run
//	SCH002 - Duplicate name: a level or record is declared twice with different labels
//	         Action: Rename one of the declarations in the .DCF file
//	SCH003 - Bad file name: the file name is not <survey>.<code>.<ext>
//	         Action: Rename the file, e.g. 511.CMMR71.DCF
//
// # Line Issues (LIN001-LIN099)
//
// Line issues are counted in the report and never fail a run.
//
//	LIN001 - Unknown dispatch value: the line names no table in the dictionary
//	LIN002 - Short line: the line ends before a declared field does
//
// # Schema Errors (MIG001-MIG099)
//
//	MIG001 - Schema change failed: DDL against the data schema was rejected
//	         Action: Check database permissions; the table is skipped for this run
//
// # Load Errors (LOAD001-LOAD099, INV001-INV099)
//
//	LOAD001 - Inconsistent load: rows were deleted but the re-insert failed
//	          Action: Re-run the load for this survey with --live
//	INV001  - Value too wide: a value is wider than its column
//	          Action: Re-run; the column is widened on the next session
//	INV002  - Column missing: a loaded column does not exist in the table
//	          Action: Re-run; the column is added on the next session
//
// # Database Errors (DB001-DB099)
//
// Matched on *pgconn.PgError codes first, then on message patterns:
//
//	DB004 - Connection refused        Patterns: "connection refused"
//	DB005 - Connection reset          Patterns: "connection reset"
//	DB006 - Timeout                   Patterns: "timeout"
//	DB007 - Deadlock                  SQLSTATE 40P01, Patterns: "deadlock"
//	DB008 - Value too long            SQLSTATE 22001
//	DB009 - Permission denied         SQLSTATE 42501
//	DB010 - Schema object missing     SQLSTATE 42P01, 42703
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Run cancelled            context.Canceled
//	RUN002 - Run timed out            context.DeadlineExceeded
//	RUN003 - File not found           fs.ErrNotExist
//	RUN004 - Internal error           recovered panic in a table worker
//
// # Default Error (ERR000)
//
// ERR000 is returned when nothing matches. Check the logs for the original
// error.
package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/JonMunkholm/surveyload/internal/dictionary"
	"github.com/JonMunkholm/surveyload/internal/fixedwidth"
	"github.com/JonMunkholm/surveyload/internal/load"
	"github.com/JonMunkholm/surveyload/internal/reconcile"
	"github.com/jackc/pgx/v5/pgconn"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

// ErrFileName marks a dictionary or data file whose name carries no file code.
var ErrFileName = errors.New("invalid survey file name")

// ErrPanic marks a table worker that panicked.
var ErrPanic = errors.New("internal error")

// sentinelMessages are matched with errors.Is, in order. The first match wins,
// so wrapping classes come before the causes they may wrap.
var sentinelMessages = []struct {
	target error
	msg    UserMessage
}{
	{dictionary.ErrMalformedBlock, UserMessage{
		Message: "The dictionary is malformed",
		Action:  "Fix the named block in the .DCF file and re-run",
		Code:    "SCH001",
	}},
	{dictionary.ErrDuplicateName, UserMessage{
		Message: "The dictionary declares a name twice with different labels",
		Action:  "Rename one of the declarations in the .DCF file",
		Code:    "SCH002",
	}},
	{ErrFileName, UserMessage{
		Message: "The file name carries no survey file code",
		Action:  "Rename the file, e.g. 511.CMMR71.DCF",
		Code:    "SCH003",
	}},
	{load.ErrLoadInconsistent, UserMessage{
		Message: "Rows were deleted but could not be re-inserted",
		Action:  "Re-run the load for this survey with --live",
		Code:    "LOAD001",
	}},
	{reconcile.ErrMigration, UserMessage{
		Message: "A schema change was rejected by the database",
		Action:  "Check database permissions; the table is skipped for this run",
		Code:    "MIG001",
	}},
	{load.ErrValueTooWide, UserMessage{
		Message: "A value is wider than its column",
		Action:  "Re-run; the column is widened on the next session",
		Code:    "INV001",
	}},
	{load.ErrColumnMissing, UserMessage{
		Message: "A loaded column does not exist in the table",
		Action:  "Re-run; the column is added on the next session",
		Code:    "INV002",
	}},
	{ErrPanic, UserMessage{
		Message: "An internal error stopped this table",
		Action:  "Check the logs and report the error",
		Code:    "RUN004",
	}},
	{context.Canceled, UserMessage{
		Message: "The run was cancelled",
		Action:  "Start the run again when ready",
		Code:    "RUN001",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "The run timed out",
		Action:  "Raise load.timeout or load fewer files per run",
		Code:    "RUN002",
	}},
	{fs.ErrNotExist, UserMessage{
		Message: "A file was not found",
		Action:  "Check the dictionary and data paths",
		Code:    "RUN003",
	}},
}

// pgCodeMessages maps PostgreSQL SQLSTATE codes.
var pgCodeMessages = map[string]UserMessage{
	"40P01": {Message: "Database was busy with conflicting operations", Action: "Please try again", Code: "DB007"},
	"22001": {Message: "A value is too long for its column", Action: "Re-run; the column is widened on the next session", Code: "DB008"},
	"42501": {Message: "Permission denied", Action: "Grant the load role DDL and DML rights on the data schema", Code: "DB009"},
	"42P01": {Message: "A table does not exist", Action: "Run 'surveyload migrate' or re-run the load", Code: "DB010"},
	"42703": {Message: "A column does not exist", Action: "Re-run the load so the column is added", Code: "DB010"},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are matched case-insensitively with strings.Contains when
// nothing typed matched. The first match wins.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Check database.url and that the server is running",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try again later or raise load.timeout",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
}

var issueMessages = map[fixedwidth.IssueKind]UserMessage{
	fixedwidth.IssueUnknownDispatch: {
		Message: "Line names no table in the dictionary",
		Action:  "Check that the data file matches the dictionary",
		Code:    "LIN001",
	},
	fixedwidth.IssueShortLine: {
		Message: "Line ends before a declared field",
		Action:  "Check the data file for truncated lines",
		Code:    "LIN002",
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for the underlying error",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Sentinels
// are checked first, then PostgreSQL error codes, then message patterns.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.target) {
			return s.msg
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := pgCodeMessages[pgErr.Code]; ok {
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// IssueMessage returns the message for a recoverable line issue.
func IssueMessage(kind fixedwidth.IssueKind) UserMessage {
	if msg, ok := issueMessages[kind]; ok {
		return msg
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
