// Package load decides and executes the row load for one survey's rows in
// one destination table.
//
// The decision compares the rows already stored for the survey with the
// rows in the file. Replacement is wholesale: the survey's rows are deleted
// and the file is inserted again. Nothing is merged or upserted.
package load

import "fmt"

// Mode is the dry-run safety valve. The zero value is DryRun; writes
// happen only when a caller sets Live.
type Mode int

const (
	DryRun Mode = iota
	Live
)

func (m Mode) String() string {
	switch m {
	case DryRun:
		return "dry-run"
	case Live:
		return "live"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ModeFromDryRun maps a boolean toggle onto a Mode.
func ModeFromDryRun(dryRun bool) Mode {
	if dryRun {
		return DryRun
	}
	return Live
}

// Options controls a Coordinator. The zero value is a dry run without
// reload on modification.
type Options struct {
	Mode                 Mode
	ReloadOnModification bool
}

// Action is the decision for one survey and table.
type Action string

const (
	ActionInsert  Action = "insert"
	ActionReplace Action = "replace"
	ActionReload  Action = "reload"
	ActionSkip    Action = "skip"
)

// Deletes reports whether the action removes the survey's existing rows.
func (a Action) Deletes() bool {
	return a == ActionReplace || a == ActionReload
}

// Writes reports whether the action inserts rows.
func (a Action) Writes() bool {
	return a != ActionSkip
}

// Decide picks the load action.
//
//	nDB == 0                 insert
//	nFile > nDB              replace
//	modified && reload       reload
//	otherwise                skip
func Decide(nDB, nFile int64, modified, reload bool) Action {
	switch {
	case nDB == 0:
		return ActionInsert
	case nFile > nDB:
		return ActionReplace
	case modified && reload:
		return ActionReload
	default:
		return ActionSkip
	}
}
