// Package chain implements the in-memory chain mirror (C4): a single-owner
// append-only projection of a node's event chain, with full and partial
// re-verification.
package chain

import (
	"sync"

	"github.com/fourmik/aethercore/pkg/crypto"
	"github.com/fourmik/aethercore/pkg/event"
)

// ResultKind enumerates the outcomes of a chain verification pass.
type ResultKind string

const (
	ResultOk           ResultKind = "Ok"
	ResultHashMismatch ResultKind = "HashMismatch"
	ResultLinkBroken   ResultKind = "LinkBroken"
	ResultBadSignature ResultKind = "BadSignature"
)

// VerifyResult reports the outcome of verifying a chain (or a suffix of
// one). Index is meaningful only when Kind != ResultOk, and is the position
// of the first offending event.
type VerifyResult struct {
	Kind  ResultKind
	Index int
}

func ok() VerifyResult { return VerifyResult{Kind: ResultOk} }

// PublicKeyResolver resolves a public_key_id to raw key bytes for signature
// verification. May be nil, in which case signature checks are skipped.
type PublicKeyResolver func(publicKeyID string) ([]byte, error)

// Manager is an in-memory, single-owner event chain mirror.
type Manager struct {
	mu     sync.RWMutex
	nodeID string
	events []*event.Event

	resolvePublicKey PublicKeyResolver
}

// NewManager creates an empty chain manager for nodeID.
func NewManager(nodeID string, resolver PublicKeyResolver) *Manager {
	return &Manager{nodeID: nodeID, resolvePublicKey: resolver}
}

// ComputeEventHash is a pure helper sharing the exact canonical encoding
// used by C2, exposed here so callers can hash without constructing a
// Manager.
func ComputeEventHash(ev *event.Event) (crypto.Digest, error) {
	return ev.ComputeHash()
}

// HeadHash returns the hash of the current chain head, or the zero digest
// if the chain is empty.
func (m *Manager) HeadHash() crypto.Digest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.events) == 0 {
		return crypto.ZeroDigest
	}
	return m.events[len(m.events)-1].Hash
}

// Len returns the number of events mirrored.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// EventAt returns the event at index idx (0-based, chain order).
func (m *Manager) EventAt(idx int) (*event.Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx < 0 || idx >= len(m.events) {
		return nil, false
	}
	return m.events[idx], true
}

// AppendToChain recomputes ev.Hash from its canonical encoding, asserts
// PrevHash equals the current head hash (genesis uses the zero digest), and
// pushes it onto the mirror.
func (m *Manager) AppendToChain(ev *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recomputed, err := ev.ComputeHash()
	if err != nil {
		return err
	}
	ev.Hash = recomputed

	var head crypto.Digest
	if len(m.events) > 0 {
		head = m.events[len(m.events)-1].Hash
	}
	if !crypto.ConstantTimeEqual(ev.PrevHash[:], head[:]) {
		return ErrLinkBroken
	}

	m.events = append(m.events, ev)
	return nil
}

// VerifyChainFromStart re-validates every link in the chain from index 0.
func (m *Manager) VerifyChainFromStart() VerifyResult {
	return m.VerifyChainFrom(0)
}

// VerifyChainFrom re-validates every link starting at the given index,
// still checking that the event at fromIdx correctly links to its
// predecessor (or the zero digest at genesis).
func (m *Manager) VerifyChainFrom(fromIdx int) VerifyResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := fromIdx; i < len(m.events); i++ {
		ev := m.events[i]

		recomputed, err := ev.ComputeHash()
		if err != nil || !crypto.ConstantTimeEqual(recomputed[:], ev.Hash[:]) {
			return VerifyResult{Kind: ResultHashMismatch, Index: i}
		}

		var expectedPrev crypto.Digest
		if i > 0 {
			expectedPrev = m.events[i-1].Hash
		}
		if !crypto.ConstantTimeEqual(ev.PrevHash[:], expectedPrev[:]) {
			return VerifyResult{Kind: ResultLinkBroken, Index: i}
		}

		if m.resolvePublicKey != nil {
			pub, err := m.resolvePublicKey(ev.PublicKeyID)
			if err != nil || !ev.VerifySignature(pub) {
				return VerifyResult{Kind: ResultBadSignature, Index: i}
			}
		}
	}

	return ok()
}
