package taskgrid

import "errors"

var (
	// Validation errors.
	ErrValidation       = errors.New("taskgrid: invalid request")
	ErrUnknownConfigKey = errors.New("taskgrid: unknown config key")

	// Not found errors.
	ErrTaskNotFound   = errors.New("taskgrid: task not found")
	ErrWorkerNotFound = errors.New("taskgrid: worker not found")

	// Conflict errors.
	ErrDuplicateTask = errors.New("taskgrid: task already exists")

	// State errors.
	ErrInvalidTransition = errors.New("taskgrid: invalid state transition")
	ErrStaleTransition   = errors.New("taskgrid: stale state transition")

	// Store errors.
	ErrStoreClosed = errors.New("taskgrid: store closed")
)
