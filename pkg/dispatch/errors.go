package dispatch

import "errors"

var ErrZeroTrustDenied = errors.New("dispatch: zero-trust denied")

// BatchSizeExceededError is returned by dispatch_swarm_command when the
// target unit count exceeds the configured batch size limit.
type BatchSizeExceededError struct {
	Got   int
	Limit int
}

func (e *BatchSizeExceededError) Error() string {
	return "dispatch: batch size exceeded"
}
