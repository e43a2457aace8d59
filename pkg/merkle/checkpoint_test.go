package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fourmik/aethercore/pkg/crypto"
)

func TestCheckpointWindow_SealAndVerify(t *testing.T) {
	signer, err := crypto.NewSigner("node-key")
	require.NoError(t, err)

	w := NewCheckpointWindow("node-1", 0, 0, 5)
	for i := uint64(0); i < 5; i++ {
		h := crypto.HashBytes([]byte{byte(i)})
		require.NoError(t, w.Add(h, 1000+i, i+1))
	}
	require.True(t, w.Full())
	require.False(t, w.Short())

	ckpt, err := NewLedgerCheckpoint("node-1", w)
	require.NoError(t, err)
	ckpt.Sign(signer)

	ok, err := ckpt.Verify(signer.PublicKey())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckpointWindow_ShortFlush(t *testing.T) {
	w := NewCheckpointWindow("node-1", 0, 0, 100)
	for i := uint64(0); i < 10; i++ {
		h := crypto.HashBytes([]byte{byte(i)})
		require.NoError(t, w.Add(h, 1000+i, i+1))
	}
	require.False(t, w.Full())
	require.True(t, w.Short())

	root, err := w.Seal()
	require.NoError(t, err)
	require.False(t, root.IsZero())

	_, err = w.Seal()
	require.ErrorIs(t, err, ErrWindowSealed)

	err = w.Add(crypto.HashBytes([]byte("x")), 9999, 99)
	require.ErrorIs(t, err, ErrWindowSealed)
}

func TestLedgerCheckpoint_DetectsTamperedRoot(t *testing.T) {
	signer, err := crypto.NewSigner("node-key")
	require.NoError(t, err)

	w := NewCheckpointWindow("node-1", 0, 0, 4)
	for i := uint64(0); i < 4; i++ {
		h := crypto.HashBytes([]byte{byte(i)})
		require.NoError(t, w.Add(h, 1000+i, i+1))
	}

	ckpt, err := NewLedgerCheckpoint("node-1", w)
	require.NoError(t, err)
	ckpt.Sign(signer)

	ckpt.MerkleRoot[0] ^= 0xFF

	ok, err := ckpt.Verify(signer.PublicKey())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckpointWindow_ProofVerifiesAgainstRoot(t *testing.T) {
	w := NewCheckpointWindow("node-1", 0, 0, 5)
	hashes := make([]crypto.Digest, 5)
	for i := uint64(0); i < 5; i++ {
		h := crypto.HashBytes([]byte{byte(i)})
		hashes[i] = h
		require.NoError(t, w.Add(h, 1000+i, i+1))
	}
	root, err := w.Seal()
	require.NoError(t, err)

	proof, err := w.Proof(hashes[2])
	require.NoError(t, err)

	ok, err := VerifyProof(hashes[2][:], proof, root[:])
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckpointWindow_ProofFailsBeforeSeal(t *testing.T) {
	w := NewCheckpointWindow("node-1", 0, 0, 5)
	h := crypto.HashBytes([]byte("x"))
	require.NoError(t, w.Add(h, 1000, 1))

	_, err := w.Proof(h)
	require.ErrorIs(t, err, ErrWindowNotSealed)
}

func TestCheckpointRoundTrip_RecomputesIdenticalRoot(t *testing.T) {
	signer, err := crypto.NewSigner("node-key")
	require.NoError(t, err)

	w := NewCheckpointWindow("node-1", 3, 200, 100)
	for i := uint64(0); i < 100; i++ {
		h := crypto.HashBytes([]byte{byte(i), byte(i >> 8)})
		require.NoError(t, w.Add(h, 5000+i, 200+i))
	}

	ckpt, err := NewLedgerCheckpoint("node-1", w)
	require.NoError(t, err)
	ckpt.Sign(signer)

	// Simulate serialize/deserialize by rebuilding a window from the same
	// event hashes and recomputing the root independently.
	rebuilt := NewCheckpointWindow("node-1", 3, 200, 100)
	for i, h := range w.EventHashes {
		require.NoError(t, rebuilt.Add(h, w.Timestamps[i], w.Heights[i]))
	}
	root, err := rebuilt.Seal()
	require.NoError(t, err)

	require.Equal(t, ckpt.MerkleRoot, root)

	ok, err := ckpt.Verify(signer.PublicKey())
	require.NoError(t, err)
	require.True(t, ok)
}
