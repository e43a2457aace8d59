package database

import "errors"

// Sentinel errors for audit mirror queries.
var (
	// ErrNotFound is returned when a requested entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrEventNotFound is returned when a mirrored ledger event is not found.
	ErrEventNotFound = errors.New("event not found")

	// ErrCheckpointNotFound is returned when a mirrored checkpoint is not found.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
