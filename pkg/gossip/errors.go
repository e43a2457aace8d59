package gossip

import "errors"

var (
	ErrUnknownPeer     = errors.New("gossip: unknown peer")
	ErrSummaryNoVerify = errors.New("gossip: summary signature does not verify")
	ErrRequestTimeout  = errors.New("gossip: outbound request deadline exceeded")
)
