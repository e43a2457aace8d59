package gossip

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fourmik/aethercore/pkg/crypto"
	"github.com/fourmik/aethercore/pkg/logging"
)

// DefaultTableCapacity is the default bound P on the peer table.
const DefaultTableCapacity = 256

// DefaultQuarantineFloor is the minimum trust score a peer must hold to
// remain eligible for routing; below it, a peer stays visible in the table
// but is skipped by RoutablePeers.
const DefaultQuarantineFloor = 0.5

// ErrTableFull is returned when a new peer cannot be admitted because the
// table is at capacity and every existing peer is already below the
// quarantine floor (so none may be evicted).
var ErrTableFull = errors.New("gossip: peer table full, no evictable peer")

// TrustLookup resolves a node's current trust score. The gossip table
// queries it on every eviction decision rather than caching a copy, so
// trust updates (C7) are reflected immediately.
type TrustLookup func(nodeID string) float64

// Table is the bounded peer table managed by the gossip engine. A single
// goroutine's worth of cooperative calls is assumed per spec (C6 is
// single-threaded cooperative); the mutex here only guards against
// concurrent reads from status/metrics endpoints.
type Table struct {
	mu              sync.RWMutex
	capacity        int
	quarantineFloor float64
	trust           TrustLookup

	peers map[string]*PeerInfo

	rootDriftCount     map[string]uint64
	missingWindowCount map[string]uint64

	logger zerolog.Logger
}

// Option configures optional Table behavior at construction time.
type Option func(*Table)

// WithLogger sets the structured logger used for drift and eviction events.
// Defaults to a discarding logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

// NewTable creates an empty peer table. capacity <= 0 uses
// DefaultTableCapacity; a nil trust lookup treats every peer as trust 1.0
// (never quarantined, never evicted preferentially).
func NewTable(capacity int, quarantineFloor float64, trust TrustLookup, opts ...Option) *Table {
	if capacity <= 0 {
		capacity = DefaultTableCapacity
	}
	if trust == nil {
		trust = func(string) float64 { return 1.0 }
	}
	t := &Table{
		capacity:           capacity,
		quarantineFloor:    quarantineFloor,
		trust:              trust,
		peers:              make(map[string]*PeerInfo),
		rootDriftCount:     make(map[string]uint64),
		missingWindowCount: make(map[string]uint64),
		logger:             logging.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AdmitSummary verifies a CheckpointSummary's signature under the peer's
// attested public key and, on success, admits or updates the peer entry.
// Reception of a summary older than what's on file, or identical to it, is
// a no-op (idempotent replay). A summary at the same seq_no with a different
// root increments root_drift_count and replaces the stored root.
func (t *Table) AdmitSummary(summary *CheckpointSummary, publicKey []byte) error {
	if !crypto.Verify(publicKey, summary.CanonicalEncoding(), summary.Signature) {
		return ErrSummaryNoVerify
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, known := t.peers[summary.NodeID]
	if known && (summary.LatestSeqNo < existing.LatestSeqNo ||
		(summary.LatestSeqNo == existing.LatestSeqNo &&
			bytes.Equal(summary.LatestRootHash[:], existing.LatestRootHash[:]))) {
		// Idempotent replay of an older or identical summary.
		return nil
	}

	if known && summary.LatestSeqNo == existing.LatestSeqNo &&
		!bytes.Equal(summary.LatestRootHash[:], existing.LatestRootHash[:]) {
		t.rootDriftCount[summary.NodeID]++
		t.logger.Warn().
			Str("node_id", summary.NodeID).
			Str("error_kind", "Integrity").
			Uint64("seq_no", summary.LatestSeqNo).
			Msg("checkpoint root disagreement at same sequence number")
	}

	if known {
		existing.PublicKey = publicKey
		existing.LastSeen = time.Now()
		existing.LatestSeqNo = summary.LatestSeqNo
		existing.LatestRootHash = summary.LatestRootHash
		return nil
	}

	if len(t.peers) >= t.capacity {
		victim := t.evictionCandidateLocked()
		if victim == "" {
			return ErrTableFull
		}
		delete(t.peers, victim)
	}

	t.peers[summary.NodeID] = &PeerInfo{
		NodeID:         summary.NodeID,
		PublicKey:      publicKey,
		LastSeen:       time.Now(),
		LatestSeqNo:    summary.LatestSeqNo,
		LatestRootHash: summary.LatestRootHash,
		TrustScore:     t.trust(summary.NodeID),
	}
	return nil
}

// evictionCandidateLocked returns the node id of the lowest-trust peer that
// is itself above the quarantine floor (so genuinely quarantined peers stay
// visible), or "" if no such peer exists. Caller must hold mu.
func (t *Table) evictionCandidateLocked() string {
	var victim string
	lowest := 2.0 // above any valid score
	for id := range t.peers {
		score := t.trust(id)
		if score < t.quarantineFloor {
			continue
		}
		if score < lowest {
			lowest = score
			victim = id
		}
	}
	return victim
}

// RecordRootDisagreement increments root_drift_count for nodeID after a
// CheckpointRequest reconciliation confirms the root at a given seq_no
// disagrees with locally known checkpoints.
func (t *Table) RecordRootDisagreement(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rootDriftCount[nodeID]++
}

// RecordMissingWindow increments missing_window_count for nodeID. WithDeadline
// calls it when an outbound request's deadline expires.
func (t *Table) RecordMissingWindow(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.missingWindowCount[nodeID]++
}

// Counters returns the (root_drift_count, missing_window_count) observed
// for nodeID.
func (t *Table) Counters(nodeID string) (rootDrift, missingWindow uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootDriftCount[nodeID], t.missingWindowCount[nodeID]
}

// Peer returns a copy of the tracked state for nodeID.
func (t *Table) Peer(nodeID string) (PeerInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[nodeID]
	if !ok {
		return PeerInfo{}, false
	}
	return *p, true
}

// Peers returns every tracked peer, including quarantined ones.
func (t *Table) Peers() []PeerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PeerInfo, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

// RoutablePeers returns peers at or above the quarantine floor.
func (t *Table) RoutablePeers() []PeerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PeerInfo, 0, len(t.peers))
	for id, p := range t.peers {
		if t.trust(id) >= t.quarantineFloor {
			out = append(out, *p)
		}
	}
	return out
}

// Len returns the number of tracked peers (including quarantined ones).
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// WithDeadline runs fn and converts context deadline exhaustion into
// ErrRequestTimeout, additionally recording a missing_window_count strike
// against nodeID per the cancellation policy.
func (t *Table) WithDeadline(ctx context.Context, nodeID string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.RecordMissingWindow(nodeID)
		return ErrRequestTimeout
	}
	return err
}
