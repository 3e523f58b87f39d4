package pricing

import (
	"errors"
	"fmt"
)

// ErrPersistenceUnavailable signals that the backing store could not be
// reached at all. A propagation run that hits it aborts instead of recording
// per-object failures.
var ErrPersistenceUnavailable = errors.New("pricing store unavailable")

// UnsupportedMetalError is returned when a variant material has no active
// variant for the requested metal and no legacy fallback applies.
type UnsupportedMetalError struct {
	MaterialID   string
	MaterialName string
	MetalType    string
	Karat        string
}

func (e *UnsupportedMetalError) Error() string {
	return fmt.Sprintf("material %s (%s) has no active variant for %s %s",
		e.MaterialID, e.MaterialName, e.MetalType, e.Karat)
}

// IncompatibleMetalError is returned when a task requires a metal that one of
// its referenced processes or materials cannot serve. It names the first
// unsupported reference.
type IncompatibleMetalError struct {
	TaskID        string
	ReferenceKind string // "material" or "process"
	ReferenceID   string
	ReferenceName string
	MetalType     string
	Karat         string
}

func (e *IncompatibleMetalError) Error() string {
	return fmt.Sprintf("task %s requires %s %s but %s %s (%s) does not support it",
		e.TaskID, e.MetalType, e.Karat, e.ReferenceKind, e.ReferenceID, e.ReferenceName)
}

// MissingReferenceError is returned when a process or task references an id
// that no longer exists in the catalog.
type MissingReferenceError struct {
	Kind string // "material" or "process"
	ID   string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("referenced %s %s does not exist", e.Kind, e.ID)
}

// InvalidSettingsError reports settings payloads that violate an invariant.
// Settings are validated atomically, never partially applied.
type InvalidSettingsError struct {
	Field  string
	Reason string
}

func (e *InvalidSettingsError) Error() string {
	return fmt.Sprintf("invalid settings: %s %s", e.Field, e.Reason)
}
