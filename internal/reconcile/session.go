package reconcile

// session.go scopes reconciliation state to one batch run.
//
// Each destination table has its own lease, a one-slot semaphore. Work on
// the same table is serialized through it while different tables proceed
// in parallel. The verified, modified and failed memos live behind the
// lease and are never shared across sessions.

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrLeaseReleased is returned when a released lease is used again.
var ErrLeaseReleased = errors.New("table lease already released")

type tableState struct {
	sem chan struct{}

	verified bool
	modified bool
	created  bool
	packed   bool
	err      error
	catalog  *CatalogTable
	changes  []Change
}

// Session holds per-table reconciliation state for one batch run.
type Session struct {
	dryRun bool

	mu     sync.Mutex
	tables map[string]*tableState
}

// NewSession creates a session. In a dry-run session DDL is planned but
// never applied.
func NewSession(dryRun bool) *Session {
	return &Session{
		dryRun: dryRun,
		tables: make(map[string]*tableState),
	}
}

// DryRun reports whether the session only plans changes.
func (s *Session) DryRun() bool {
	return s.dryRun
}

func (s *Session) state(table string) *tableState {
	key := strings.ToLower(table)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tables[key]
	if !ok {
		st = &tableState{sem: make(chan struct{}, 1)}
		s.tables[key] = st
	}
	return st
}

// Lease grants exclusive use of one table within a session.
type Lease struct {
	table string
	st    *tableState
	sess  *Session

	once     sync.Once
	released bool
}

// Acquire blocks until the table is free or ctx is done.
// The caller MUST call Release when done (use defer).
func (s *Session) Acquire(ctx context.Context, table string) (*Lease, error) {
	st := s.state(table)

	select {
	case st.sem <- struct{}{}:
		return &Lease{table: strings.ToLower(table), st: st, sess: s}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release frees the table. Extra calls are ignored.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.released = true
		<-l.st.sem
	})
}

func (l *Lease) check() error {
	if l.released {
		return ErrLeaseReleased
	}
	return nil
}

// Modified reports whether reconciliation changed the table in this session.
func (l *Lease) Modified() bool {
	return l.st.modified
}

// TableStatus is a snapshot of one table's session state.
type TableStatus struct {
	Table    string
	Verified bool
	Modified bool
	Created  bool
	Packed   bool
	Changes  int
	Err      error
}

// Status returns a snapshot of a table's state. It waits for the table's
// lease so the snapshot is consistent.
func (s *Session) Status(ctx context.Context, table string) (TableStatus, error) {
	l, err := s.Acquire(ctx, table)
	if err != nil {
		return TableStatus{}, err
	}
	defer l.Release()
	return l.st.status(l.table), nil
}

// Tables returns the names of all tables the session has seen, sorted.
func (s *Session) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (st *tableState) status(table string) TableStatus {
	return TableStatus{
		Table:    table,
		Verified: st.verified,
		Modified: st.modified,
		Created:  st.created,
		Packed:   st.packed,
		Changes:  len(st.changes),
		Err:      st.err,
	}
}
