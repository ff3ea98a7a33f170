// Package repositories implements database queries for the audit trail
// service. Repositories raise precise error kinds; the service and handler
// layers pass them through unchanged and map them to transport status codes
// only at the edge.
package repositories

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist. Scoped
	// queries also return it for rows that exist but are out of the caller's
	// scope; the two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrUnknownActionType is returned when an action code does not resolve
	// to an active action type.
	ErrUnknownActionType = errors.New("unknown action type")

	// ErrVersionConflict is returned when an append lost the per-entity
	// version race on every retry attempt. The caller should retry the
	// whole submission.
	ErrVersionConflict = errors.New("version assignment conflict")
)
