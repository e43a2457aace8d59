package chain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fourmik/aethercore/pkg/crypto"
	"github.com/fourmik/aethercore/pkg/event"
)

func buildChain(t *testing.T, signer *crypto.Signer, n int) *Manager {
	t.Helper()
	m := NewManager("node-1", func(string) ([]byte, error) { return signer.PublicKey(), nil })

	prev := crypto.ZeroDigest
	for i := 1; i <= n; i++ {
		e := event.New("event", event.Telemetry, "node-1", "device-1", uint64(i), uint64(i), prev, nil)
		e.Timestamp = uint64(1000 + i)
		require.NoError(t, e.Seal(signer))
		require.NoError(t, m.AppendToChain(e))
		prev = e.Hash
	}
	return m
}

func TestVerifyChainFromStartOk(t *testing.T) {
	signer, err := crypto.NewSigner("key-1")
	require.NoError(t, err)

	m := buildChain(t, signer, 5)
	result := m.VerifyChainFromStart()
	require.Equal(t, ResultOk, result.Kind)
}

func TestVerifyChainDetectsTamperedHash(t *testing.T) {
	signer, err := crypto.NewSigner("key-1")
	require.NoError(t, err)

	m := buildChain(t, signer, 5)
	ev, ok := m.EventAt(2)
	require.True(t, ok)
	ev.Hash[0] ^= 0xFF

	result := m.VerifyChainFromStart()
	require.Equal(t, ResultHashMismatch, result.Kind)
	require.Equal(t, 2, result.Index)
}

func TestAppendToChainRejectsBadLink(t *testing.T) {
	signer, err := crypto.NewSigner("key-1")
	require.NoError(t, err)

	m := buildChain(t, signer, 1)

	var badPrev crypto.Digest
	badPrev[0] = 0x01
	bad := event.New("event-x", event.Telemetry, "node-1", "device-1", 2, 2, badPrev, nil)
	bad.Timestamp = 9999
	require.NoError(t, bad.Seal(signer))

	err = m.AppendToChain(bad)
	require.ErrorIs(t, err, ErrLinkBroken)
}
