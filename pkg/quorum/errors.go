package quorum

import "errors"

var (
	ErrUnknownAuthority = errors.New("quorum: unknown authority")
	ErrDuplicateNode    = errors.New("quorum: duplicate signer")
	ErrStaleTimestamp   = errors.New("quorum: command timestamp outside freshness window")
	ErrReplay           = errors.New("quorum: command already committed")
)

// InsufficientSignaturesError reports a shortfall against the scope's
// required signature count.
type InsufficientSignaturesError struct {
	Got      int
	Required int
}

func (e *InsufficientSignaturesError) Error() string {
	return "quorum: insufficient signatures"
}

// InvalidSignatureError identifies which authority's signature failed and
// why.
type InvalidSignatureError struct {
	AuthorityID string
	Reason      string
}

func (e *InvalidSignatureError) Error() string {
	return "quorum: invalid signature from " + e.AuthorityID + ": " + e.Reason
}
