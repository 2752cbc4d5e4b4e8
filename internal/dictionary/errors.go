package dictionary

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedBlock means a block is missing a required key or carries an
	// unusable value. The whole dictionary is rejected.
	ErrMalformedBlock = errors.New("malformed dictionary block")

	// ErrDuplicateName means a level or record name was declared twice with
	// different labels.
	ErrDuplicateName = errors.New("duplicate dictionary name")
)

// ParseError locates a schema-fatal problem in a dictionary.
type ParseError struct {
	Line   int
	Block  string
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v at line %d [%s]: %s", e.Err, e.Line, e.Block, e.Detail)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
