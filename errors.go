package vexdb

import (
	"github.com/vexdb/vexdb/core"
)

// The error kinds exposed by the database. All are re-exported from core so
// callers can match with errors.Is / errors.As against either package.
var (
	// ErrNotFound is returned when an id or record does not exist.
	ErrNotFound = core.ErrNotFound

	// ErrNotTrained is returned when a search reaches a backend whose
	// training gate is still closed.
	ErrNotTrained = core.ErrNotTrained

	// ErrUnsupported is returned when an operation is illegal for the
	// active backend or configuration.
	ErrUnsupported = core.ErrUnsupported

	// ErrAlreadyRegistered is returned on duplicate backend registration.
	ErrAlreadyRegistered = core.ErrAlreadyRegistered

	// ErrBackendFailure wraps failures inside a backend plugin.
	ErrBackendFailure = core.ErrBackendFailure

	// ErrInvalidConfig is returned for structurally invalid configuration
	// or arguments.
	ErrInvalidConfig = core.ErrInvalidConfig

	// ErrIO wraps failures while persisting or loading database state.
	ErrIO = core.ErrIO
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch = core.ErrDimensionMismatch
