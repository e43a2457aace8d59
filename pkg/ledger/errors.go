package ledger

import "errors"

var (
	// ErrLedgerCorrupted is returned for every write once the startup
	// integrity check in Open detects a corrupted tail or a chain break.
	// Reads still succeed against intact rows.
	ErrLedgerCorrupted = errors.New("ledger: corrupted, writes refused")

	// ErrChainMismatch is returned when an appended event's PrevHash does not
	// equal the current tail's hash (or is not the zero digest at genesis).
	// Not fatal to the ledger: the append is rejected, the ledger stays Ok.
	ErrChainMismatch = errors.New("ledger: chain mismatch")

	// ErrHashMismatch is returned when an event's stated Hash does not match
	// its recomputed canonical hash.
	ErrHashMismatch = errors.New("ledger: hash mismatch")

	// ErrBadSignature is returned when an event's signature fails to verify
	// against the resolved public key.
	ErrBadSignature = errors.New("ledger: bad signature")

	// ErrDuplicateEventID is returned when event_id already exists in the ledger.
	ErrDuplicateEventID = errors.New("ledger: duplicate event id")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("ledger: row not found")
)
