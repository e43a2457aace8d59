package attestation

import (
	"testing"

	"github.com/fourmik/aethercore/pkg/attestation/strategy"
	"github.com/fourmik/aethercore/pkg/crypto"
)

func TestCommit_Deterministic(t *testing.T) {
	msg := &strategy.AttestationMessage{
		NodeID:      "node-1",
		DeviceID:    "device-1",
		Purpose:     "checkpoint",
		SubjectHash: [32]byte{1, 2, 3},
		Height:      42,
		Timestamp:   1000,
	}

	c1 := Commit(msg)
	c2 := Commit(msg)
	if c1.Root != c2.Root {
		t.Fatalf("commitment root not deterministic")
	}
}

func TestCommit_DiffersOnHeight(t *testing.T) {
	base := &strategy.AttestationMessage{
		NodeID:      "node-1",
		SubjectHash: [32]byte{1, 2, 3},
		Height:      1,
		Timestamp:   1000,
	}
	other := *base
	other.Height = 2

	if Commit(base).Root == Commit(&other).Root {
		t.Fatalf("commitment did not change with height")
	}
}

func TestHash4_FoldsThroughHash2(t *testing.T) {
	var a, b, c, d crypto.Digest
	want := Hash2(Hash2(a, b), Hash2(c, d))
	got := Hash4(a, b, c, d)
	if got != want {
		t.Fatalf("Hash4 does not match nested Hash2 folding")
	}
}
