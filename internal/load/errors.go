package load

import (
	"errors"
	"fmt"
)

var (
	// ErrLoadInconsistent marks a survey+table whose rows were deleted but
	// not re-inserted. The file must be re-run by hand.
	ErrLoadInconsistent = errors.New("load left table inconsistent")

	// ErrValueTooWide is an invariant violation: a value is wider than its
	// column after reconciliation. Values are never truncated.
	ErrValueTooWide = errors.New("value wider than column")

	// ErrColumnMissing is an invariant violation: a rowset column has no
	// first-class column and the table has no document column.
	ErrColumnMissing = errors.New("column missing after reconciliation")
)

// InconsistencyError reports a delete that succeeded followed by an insert
// that failed. It is never retried.
type InconsistencyError struct {
	SurveyID string
	Table    string
	Deleted  int64
	Err      error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%v: survey %s table %s: %d rows deleted, insert failed: %v",
		ErrLoadInconsistent, e.SurveyID, e.Table, e.Deleted, e.Err)
}

// Is matches ErrLoadInconsistent.
func (e *InconsistencyError) Is(target error) bool {
	return target == ErrLoadInconsistent
}

func (e *InconsistencyError) Unwrap() error {
	return e.Err
}

// WidthError names the value that broke the width invariant.
type WidthError struct {
	Table  string
	Column string
	Row    int
	Width  int
	Limit  int
}

func (e *WidthError) Error() string {
	return fmt.Sprintf("%v: %s.%s row %d has %d characters, column holds %d",
		ErrValueTooWide, e.Table, e.Column, e.Row, e.Width, e.Limit)
}

func (e *WidthError) Unwrap() error {
	return ErrValueTooWide
}
