// Package gossip implements the gossip engine (C6): a bounded peer table and
// the checkpoint-summary / chain-proof exchange used to detect divergent
// nodes without a central coordinator.
package gossip

import (
	"time"

	"github.com/fourmik/aethercore/pkg/crypto"
)

// CheckpointSummary announces a node's newest sealed checkpoint. Signature
// covers the canonical encoding of (node_id, latest_seq_no, latest_root_hash).
type CheckpointSummary struct {
	NodeID         string
	LatestSeqNo    uint64
	LatestRootHash crypto.Digest
	Signature      []byte
}

// CanonicalEncoding renders the summary for signing/verification.
func (s *CheckpointSummary) CanonicalEncoding() []byte {
	buf := make([]byte, 0, len(s.NodeID)+8+32)
	buf = append(buf, []byte(s.NodeID)...)
	var seqBytes [8]byte
	putUint64(seqBytes[:], s.LatestSeqNo)
	buf = append(buf, seqBytes[:]...)
	buf = append(buf, s.LatestRootHash[:]...)
	return buf
}

// CheckpointRequest asks a peer for historical checkpoints covering
// [FromSeq, ToSeq].
type CheckpointRequest struct {
	NodeID  string
	FromSeq uint64
	ToSeq   uint64
}

// SealedCheckpoint is the wire-shape of a LedgerCheckpoint sufficient for
// gossip exchange and local reconciliation, decoupled from pkg/merkle's
// mutable window type.
type SealedCheckpoint struct {
	NodeID      string
	WindowIndex uint64
	StartSeq    uint64
	EndSeq      uint64
	MerkleRoot  crypto.Digest
	PublicKeyID string
	Signature   []byte
}

// CheckpointResponse carries an ordered list of checkpoints satisfying a
// CheckpointRequest.
type CheckpointResponse struct {
	Checkpoints []SealedCheckpoint
}

// ChainProofRequest asks target_node_id for a verifiable proof linking two
// sequence numbers in its chain.
type ChainProofRequest struct {
	RequesterID  string
	TargetNodeID string
	FromSeq      uint64
	ToSeq        uint64
}

// ProofStep is one link in a chain proof: an event hash paired with the
// signature attesting to it.
type ProofStep struct {
	SeqNo     uint64
	EventHash crypto.Digest
	Signature []byte
}

// ChainProofResponse is a verifiable sequence of hashes and signatures
// linking FromSeq to ToSeq in the target node's chain.
type ChainProofResponse struct {
	NodeID string
	Proof  []ProofStep
}

// PeerInfo is what the gossip table tracks about a known peer.
type PeerInfo struct {
	NodeID         string
	PublicKey      []byte
	LastSeen       time.Time
	LatestSeqNo    uint64
	LatestRootHash crypto.Digest
	TrustScore     float64
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
}
