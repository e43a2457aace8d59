package event

import "errors"

var (
	// ErrInvalidType is returned when an Event carries an unrecognized EventType.
	ErrInvalidType = errors.New("event: invalid event type")
)
