package gossip

import (
	"bytes"

	"github.com/fourmik/aethercore/pkg/crypto"
)

// RootAt looks up the locally known root hash for a node at a given
// seq_no, among checkpoints already fetched via a prior CheckpointResponse.
type RootAt func(nodeID string, seqNo uint64) (crypto.Digest, bool)

// CheckDisagreement compares a peer's advertised root at seqNo against the
// locally known root for the same (node, seq_no) pair. It reports whether
// a CheckpointRequest should be issued to reconcile, and whether a
// confirmed disagreement was found (in which case the caller should call
// Table.RecordRootDisagreement).
func CheckDisagreement(localRoot RootAt, nodeID string, seqNo uint64, advertisedRoot crypto.Digest) (needsReconcile, disagrees bool) {
	known, ok := localRoot(nodeID, seqNo)
	if !ok {
		return true, false
	}
	if !bytes.Equal(known[:], advertisedRoot[:]) {
		return true, true
	}
	return false, false
}
