package attestation

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/fourmik/aethercore/pkg/crypto"
	"github.com/fourmik/aethercore/pkg/attestation/strategy"
)

// Adjunct commitment domain tags. Distinct from pkg/crypto's Merkle
// leaf/parent/meta tags so an adjunct commitment value can never collide
// with a checkpoint Merkle hash even over the same input bytes.
var (
	tagHash2 = []byte{0x10}
	tagHash4 = []byte{0x11}
)

// Hash2 computes a domain-separated two-input commitment. This is the
// building block a ZK circuit's public input would reference; it is a real
// hash, not a placeholder, but does not itself constitute a ZK proof.
func Hash2(a, b crypto.Digest) crypto.Digest {
	h := sha256.New()
	h.Write(tagHash2)
	h.Write(a[:])
	h.Write(b[:])
	var out crypto.Digest
	copy(out[:], h.Sum(nil))
	return out
}

// Hash4 computes a domain-separated four-input commitment by folding through
// two Hash2 applications, keeping every intermediate domain-separated.
func Hash4(a, b, c, d crypto.Digest) crypto.Digest {
	left := Hash2(a, b)
	right := Hash2(c, d)
	return Hash2(left, right)
}

// AttestationCommitment is the adjunct commitment value a node publishes
// alongside an attestation: a fixed-shape, domain-separated binding of node
// identity, attested subject, height and timestamp. A ZK back-end can later
// prove statements about this commitment (e.g. "this node's key signed a
// subject hash at this height") without this package needing to know
// anything about circuits.
type AttestationCommitment struct {
	NodeHash      crypto.Digest
	SubjectHash   crypto.Digest
	HeightHash    crypto.Digest
	TimestampHash crypto.Digest
	Root          crypto.Digest
}

// Commit computes the adjunct commitment for an attestation message.
func Commit(message *strategy.AttestationMessage) AttestationCommitment {
	nodeHash := crypto.HashBytes([]byte(message.NodeID))
	subjectHash := crypto.Digest(message.SubjectHash)

	var heightBE [8]byte
	binary.BigEndian.PutUint64(heightBE[:], message.Height)
	heightHash := crypto.HashBytes(heightBE[:])

	var tsBE [8]byte
	binary.BigEndian.PutUint64(tsBE[:], uint64(message.Timestamp))
	timestampHash := crypto.HashBytes(tsBE[:])

	root := Hash4(nodeHash, subjectHash, heightHash, timestampHash)

	return AttestationCommitment{
		NodeHash:      nodeHash,
		SubjectHash:   subjectHash,
		HeightHash:    heightHash,
		TimestampHash: timestampHash,
		Root:          root,
	}
}
