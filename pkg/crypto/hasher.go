package crypto

import (
	"crypto/sha256"
	"encoding/binary"
)

// DigestSize is the fixed width of every digest produced in this package.
const DigestSize = 32

// Digest is a 32-byte content hash.
type Digest [DigestSize]byte

// ZeroDigest is the genesis prev-hash sentinel.
var ZeroDigest = Digest{}

// IsZero reports whether d is the all-zero genesis digest.
func (d Digest) IsZero() bool {
	return d == ZeroDigest
}

// Bytes returns a copy of the digest as a slice.
func (d Digest) Bytes() []byte {
	out := make([]byte, DigestSize)
	copy(out, d[:])
	return out
}

// DigestFromBytes copies b into a Digest. b must be exactly DigestSize bytes.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, ErrBadKey
	}
	copy(d[:], b)
	return d, nil
}

// Domain separation tags. These are prepended to the hash preimage so that
// a leaf hash, a parent hash and a metadata hash can never collide even if
// the underlying bytes happen to coincide.
var (
	tagLeaf   = []byte{0x00}
	tagParent = []byte{0x01}
	tagMeta   = []byte{0x02}
)

// HashBytes computes a plain domain-free digest of arbitrary data. Used for
// canonical-encoding hashes (event hash, checkpoint hash) where the domain
// separation is already carried by the encoding's field layout.
func HashBytes(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// HashLeaf computes a domain-separated Merkle leaf hash over an event hash
// (or other 32-byte content digest).
func HashLeaf(content []byte) Digest {
	h := sha256.New()
	h.Write(tagLeaf)
	h.Write(content)
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// HashParent computes a domain-separated Merkle internal-node hash from two
// child digests, in left-then-right order.
func HashParent(left, right Digest) Digest {
	h := sha256.New()
	h.Write(tagParent)
	h.Write(left[:])
	h.Write(right[:])
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// HashMeta computes a domain-separated metadata hash incorporating a
// big-endian index and timestamp, per the canonical checkpoint metadata rule.
func HashMeta(index uint64, timestampMs uint64, content []byte) Digest {
	var be [16]byte
	binary.BigEndian.PutUint64(be[0:8], index)
	binary.BigEndian.PutUint64(be[8:16], timestampMs)

	h := sha256.New()
	h.Write(tagMeta)
	h.Write(be[:])
	h.Write(content)
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}
