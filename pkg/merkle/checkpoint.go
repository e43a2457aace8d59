package merkle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fourmik/aethercore/pkg/crypto"
)

// DefaultWindowSize is the default fixed checkpoint window size W.
const DefaultWindowSize = 100

var (
	ErrWindowSealed    = errors.New("merkle: window already sealed")
	ErrWindowEmpty     = errors.New("merkle: cannot seal an empty window")
	ErrWindowNotSealed = errors.New("merkle: window not sealed")
)

// CheckpointWindow is a non-overlapping, contiguous span of a node's event
// chain, sealed into a single Merkle root once it reaches its target size
// (or is flushed short).
type CheckpointWindow struct {
	NodeID      string
	WindowIndex uint64
	StartSeq    uint64
	EndSeq      uint64
	Count       uint64
	EventHashes []crypto.Digest
	Timestamps  []uint64
	Heights     []uint64
	MerkleRoot  crypto.Digest

	size   int
	sealed bool
}

// NewCheckpointWindow creates an open window for the given node, starting
// immediately after startSeq, accumulating up to size events before it must
// be sealed explicitly (size defaults to DefaultWindowSize if <= 0).
func NewCheckpointWindow(nodeID string, windowIndex, startSeq uint64, size int) *CheckpointWindow {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &CheckpointWindow{
		NodeID:      nodeID,
		WindowIndex: windowIndex,
		StartSeq:    startSeq,
		EventHashes: make([]crypto.Digest, 0, size),
		Timestamps:  make([]uint64, 0, size),
		Heights:     make([]uint64, 0, size),
		size:        size,
	}
}

// Add appends one event's hash, timestamp and chain height to the window.
// It is the caller's responsibility to call Add in strict sequence order.
func (w *CheckpointWindow) Add(eventHash crypto.Digest, timestamp, height uint64) error {
	if w.sealed {
		return ErrWindowSealed
	}
	w.EventHashes = append(w.EventHashes, eventHash)
	w.Timestamps = append(w.Timestamps, timestamp)
	w.Heights = append(w.Heights, height)
	w.Count++
	w.EndSeq = w.StartSeq + w.Count
	return nil
}

// Full reports whether the window has reached its target size and should be
// sealed.
func (w *CheckpointWindow) Full() bool {
	return int(w.Count) >= w.size
}

// Seal builds the balanced Merkle tree over the window's event hashes
// (leaves hashed with the leaf tag, internal nodes with the parent tag, an
// odd trailing node at any level promoted unchanged) and fixes MerkleRoot.
// Once sealed a window is immutable: Add and Seal both fail afterward.
func (w *CheckpointWindow) Seal() (crypto.Digest, error) {
	if w.sealed {
		return w.MerkleRoot, ErrWindowSealed
	}
	if w.Count == 0 {
		return crypto.Digest{}, ErrWindowEmpty
	}

	leaves := make([][]byte, len(w.EventHashes))
	for i, h := range w.EventHashes {
		leaves[i] = h[:]
	}
	tree, err := BuildTree(leaves)
	if err != nil {
		return crypto.Digest{}, fmt.Errorf("seal window: %w", err)
	}

	root, err := crypto.DigestFromBytes(tree.Root())
	if err != nil {
		return crypto.Digest{}, fmt.Errorf("seal window: %w", err)
	}
	w.MerkleRoot = root
	w.sealed = true
	return root, nil
}

// Sealed reports whether Seal has already succeeded.
func (w *CheckpointWindow) Sealed() bool { return w.sealed }

// Proof rebuilds this sealed window's Merkle tree and returns an inclusion
// proof for eventHash against the window's MerkleRoot. The window retains
// its EventHashes after sealing specifically so proofs can be served later
// without having to re-read the underlying events.
func (w *CheckpointWindow) Proof(eventHash crypto.Digest) (*InclusionProof, error) {
	if !w.sealed {
		return nil, ErrWindowNotSealed
	}
	leaves := make([][]byte, len(w.EventHashes))
	for i, h := range w.EventHashes {
		leaves[i] = h[:]
	}
	tree, err := BuildTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("rebuild window tree: %w", err)
	}
	return tree.GenerateProofByHash(eventHash[:])
}

// Short reports whether the window was sealed before reaching its target
// size, e.g. on shutdown flush.
func (w *CheckpointWindow) Short() bool { return int(w.Count) < w.size }

// CanonicalEncoding renders the window in the same field-order,
// length-prefixed, big-endian style used throughout the module. Field
// order: count, end_seq, event_hashes, heights, merkle_root, node_id,
// start_seq, timestamps, window_index.
func (w *CheckpointWindow) CanonicalEncoding() []byte {
	var buf bytes.Buffer

	writeU64(&buf, w.Count)
	writeU64(&buf, w.EndSeq)

	writeU32(&buf, uint32(len(w.EventHashes)))
	for _, h := range w.EventHashes {
		buf.Write(h[:])
	}

	writeU32(&buf, uint32(len(w.Heights)))
	for _, height := range w.Heights {
		writeU64(&buf, height)
	}

	buf.Write(w.MerkleRoot[:])
	writeStr(&buf, w.NodeID)
	writeU64(&buf, w.StartSeq)

	writeU32(&buf, uint32(len(w.Timestamps)))
	for _, ts := range w.Timestamps {
		writeU64(&buf, ts)
	}

	writeU64(&buf, w.WindowIndex)
	return buf.Bytes()
}

// LedgerCheckpoint binds a sealed CheckpointWindow to a node's signature.
// Signature covers the canonical encoding of every other field.
type LedgerCheckpoint struct {
	NodeID      string
	EndSeq      uint64
	Window      *CheckpointWindow
	MerkleRoot  crypto.Digest
	PublicKeyID string
	Signature   []byte
}

// NewLedgerCheckpoint seals the window (if not already sealed) and produces
// an unsigned checkpoint ready for Sign.
func NewLedgerCheckpoint(nodeID string, window *CheckpointWindow) (*LedgerCheckpoint, error) {
	var root crypto.Digest
	var err error
	if window.Sealed() {
		root = window.MerkleRoot
	} else {
		root, err = window.Seal()
		if err != nil {
			return nil, err
		}
	}

	return &LedgerCheckpoint{
		NodeID:     nodeID,
		EndSeq:     window.EndSeq,
		Window:     window,
		MerkleRoot: root,
	}, nil
}

// CanonicalEncoding renders the checkpoint for hashing and signing. Field
// order: end_seq, merkle_root, node_id, public_key_id, window.
func (c *LedgerCheckpoint) CanonicalEncoding() []byte {
	var buf bytes.Buffer
	writeU64(&buf, c.EndSeq)
	buf.Write(c.MerkleRoot[:])
	writeStr(&buf, c.NodeID)
	writeStr(&buf, c.PublicKeyID)
	writeBytesLP(&buf, c.Window.CanonicalEncoding())
	return buf.Bytes()
}

// Sign signs the checkpoint's canonical encoding and records the signer's
// key id.
func (c *LedgerCheckpoint) Sign(signer *crypto.Signer) {
	c.PublicKeyID = signer.KeyID()
	c.Signature = signer.Sign(c.CanonicalEncoding())
}

// Verify checks the checkpoint's signature and recomputes the Merkle root
// from the window's event hashes, requiring a bit-identical match.
func (c *LedgerCheckpoint) Verify(publicKey []byte) (bool, error) {
	if !crypto.Verify(publicKey, c.CanonicalEncoding(), c.Signature) {
		return false, nil
	}

	leaves := make([][]byte, len(c.Window.EventHashes))
	for i, h := range c.Window.EventHashes {
		leaves[i] = h[:]
	}
	tree, err := BuildTree(leaves)
	if err != nil {
		return false, fmt.Errorf("verify checkpoint: %w", err)
	}
	recomputed, err := crypto.DigestFromBytes(tree.Root())
	if err != nil {
		return false, err
	}

	return crypto.ConstantTimeEqual(recomputed[:], c.MerkleRoot[:]), nil
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeStr(buf *bytes.Buffer, s string) {
	writeBytesLP(buf, []byte(s))
}

func writeBytesLP(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}
