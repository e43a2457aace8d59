package chain

import "errors"

// ErrLinkBroken is returned by AppendToChain when the candidate event's
// PrevHash does not match the current chain head.
var ErrLinkBroken = errors.New("chain: link broken")
