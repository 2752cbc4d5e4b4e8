package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrMigration marks a DDL or catalog failure. The table stays failed for
// the rest of the session.
var ErrMigration = errors.New("schema migration failed")

// Reconciler applies additive DDL through a Catalog.
type Reconciler struct {
	catalog Catalog
	policy  Policy
	logger  *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Reconciler.
func New(catalog Catalog, policy Policy, opts ...Option) *Reconciler {
	r := &Reconciler{catalog: catalog, policy: policy, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reconcile makes the catalog a superset of desired. The caller holds the
// lease for desired's table.
//
// A table verified earlier in the session returns its cached state without
// touching the catalog. A table that failed earlier returns the same error.
func (r *Reconciler) Reconcile(ctx context.Context, lease *Lease, desired *DesiredTable) (*Outcome, error) {
	if err := lease.check(); err != nil {
		return nil, err
	}
	if lease.table != desired.Name {
		return nil, fmt.Errorf("lease for %q used to reconcile %q", lease.table, desired.Name)
	}

	st := lease.st
	if st.err != nil {
		return nil, st.err
	}
	if st.verified {
		return &Outcome{
			Table:    desired.Name,
			Catalog:  st.catalog.Clone(),
			Packed:   st.packed,
			Created:  st.created,
			Modified: st.modified,
			Cached:   true,
			DryRun:   lease.sess.dryRun,
		}, nil
	}

	logger := r.logger.With("table", desired.Name)

	current, err := r.catalog.DescribeTable(ctx, desired.Name)
	if err != nil {
		return nil, r.fail(st, fmt.Errorf("%w: describe %s: %w", ErrMigration, desired.Name, err))
	}

	changes, post, packed := r.plan(desired, current)

	if !lease.sess.dryRun {
		for _, c := range changes {
			if err := r.apply(ctx, c); err != nil {
				logger.Error("ddl failed", "change", c.String(), "error", err)
				return nil, r.fail(st, fmt.Errorf("%w: %s: %w", ErrMigration, c, err))
			}
			logger.Info("ddl applied", "change", c.String())
		}
	} else {
		for _, c := range changes {
			logger.Info("ddl planned", "change", c.String())
		}
	}

	st.verified = true
	st.modified = len(changes) > 0
	st.created = current == nil
	st.packed = packed
	st.catalog = post
	st.changes = changes

	return &Outcome{
		Table:    desired.Name,
		Catalog:  post.Clone(),
		Packed:   packed,
		Created:  st.created,
		Modified: st.modified,
		Changes:  changes,
		DryRun:   lease.sess.dryRun,
	}, nil
}

func (r *Reconciler) fail(st *tableState, err error) error {
	st.err = err
	return err
}

// plan computes the DDL steps and the catalog state after them.
func (r *Reconciler) plan(desired *DesiredTable, current *CatalogTable) ([]Change, *CatalogTable, bool) {
	if current == nil {
		cols, packed := r.policy.CreateColumns(desired)
		post := &CatalogTable{Name: desired.Name, Columns: make(map[string]CatalogColumn, len(cols))}
		for _, c := range cols {
			post.Columns[c.Name] = CatalogColumn{Width: c.Width, Document: c.Document}
		}
		return []Change{{Kind: ChangeCreate, Table: desired.Name, Columns: cols}}, post, packed
	}

	packed := current.Packed()
	post := current.Clone()
	if post.Columns == nil {
		post.Columns = make(map[string]CatalogColumn)
	}

	var changes []Change
	for _, c := range desired.Columns {
		if packed && !c.Key {
			continue
		}
		have, ok := post.Columns[c.Name]
		switch {
		case !ok:
			def := ColumnDef{Name: c.Name, Width: c.Width, Key: c.Key}
			changes = append(changes, Change{Kind: ChangeAdd, Table: desired.Name, Column: def})
			post.Columns[c.Name] = CatalogColumn{Width: c.Width}
		case have.Document || have.Width == 0:
			// unbounded
		case have.Width < c.Width:
			def := ColumnDef{Name: c.Name, Width: c.Width, Key: c.Key}
			changes = append(changes, Change{Kind: ChangeWiden, Table: desired.Name, Column: def, From: have.Width})
			post.Columns[c.Name] = CatalogColumn{Width: c.Width}
		}
	}
	return changes, post, packed
}

func (r *Reconciler) apply(ctx context.Context, c Change) error {
	switch c.Kind {
	case ChangeCreate:
		return r.catalog.CreateTable(ctx, c.Table, c.Columns)
	case ChangeAdd:
		return r.catalog.AddColumn(ctx, c.Table, c.Column)
	case ChangeWiden:
		return r.catalog.WidenColumn(ctx, c.Table, c.Column.Name, c.Column.Width)
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
}
