package trust

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

type shard struct {
	mu      sync.RWMutex
	scores  map[string]*TrustScore
	metrics map[string]*IntegrityMetrics
}

// Scorer tracks per-node IntegrityMetrics and TrustScore. State is split
// across a fixed number of lock shards keyed by node id, so that
// concurrent updates for distinct nodes never contend on the same mutex.
type Scorer struct {
	shards     [shardCount]*shard
	thresholds Thresholds
	deltas     ScoreDeltas
	now        func() time.Time
}

// NewScorer creates a Scorer with the given thresholds/deltas. A nil now
// defaults to time.Now; tests may override it for deterministic freshness
// checks.
func NewScorer(thresholds Thresholds, deltas ScoreDeltas, now func() time.Time) *Scorer {
	if now == nil {
		now = time.Now
	}
	s := &Scorer{thresholds: thresholds, deltas: deltas, now: now}
	for i := range s.shards {
		s.shards[i] = &shard{
			scores:  make(map[string]*TrustScore),
			metrics: make(map[string]*IntegrityMetrics),
		}
	}
	return s
}

func (s *Scorer) shardFor(nodeID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(nodeID))
	return s.shards[h.Sum32()%shardCount]
}

// UpdateMetrics replaces the IntegrityMetrics for a node and stamps
// LastUpdated from the Scorer's clock.
func (s *Scorer) UpdateMetrics(m IntegrityMetrics) {
	m.LastUpdated = s.now()
	sh := s.shardFor(m.NodeID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cp := m
	sh.metrics[m.NodeID] = &cp
}

// HealthOf classifies a node's current health from its last recorded
// IntegrityMetrics.
func (s *Scorer) HealthOf(nodeID string) HealthStatus {
	sh := s.shardFor(nodeID)
	sh.mu.RLock()
	m, ok := sh.metrics[nodeID]
	sh.mu.RUnlock()
	if !ok {
		return Unknown
	}
	return classify(*m, s.thresholds, s.now())
}

func classify(m IntegrityMetrics, th Thresholds, now time.Time) HealthStatus {
	if now.Sub(m.LastUpdated) > th.Freshness {
		return Unknown
	}

	compromised := m.RootAgreementRatio < 0.70 ||
		m.ChainBreakCount >= 3 ||
		m.SignatureFailureCount >= 3
	if compromised {
		return Compromised
	}

	healthy := m.RootAgreementRatio >= 0.95 &&
		m.ChainBreakCount == 0 &&
		m.SignatureFailureCount == 0 &&
		m.MissingWindowCount <= th.MWarn
	if healthy {
		return Healthy
	}

	return Degraded
}

// scoreLocked returns the node's TrustScore, creating a default entry
// (score=1.0, LevelHealthy) if none exists yet; from then on ScoreOf
// reports it like any earned score. Caller must hold sh.mu.
func (s *Scorer) scoreLocked(sh *shard, nodeID string) *TrustScore {
	ts, ok := sh.scores[nodeID]
	if !ok {
		ts = &TrustScore{NodeID: nodeID, Score: 1.0, Level: LevelHealthy, LastUpdated: s.now()}
		sh.scores[nodeID] = ts
	}
	return ts
}

func (s *Scorer) applyDelta(nodeID string, delta float64) TrustScore {
	sh := s.shardFor(nodeID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ts := s.scoreLocked(sh, nodeID)
	ts.Score = clamp01(ts.Score + delta)
	if !ts.ForcedQuarantine {
		ts.Level = levelForScore(ts.Score)
	} else {
		ts.Level = LevelQuarantined
	}
	ts.LastUpdated = s.now()
	return *ts
}

// RecordChainProofSuccess applies +delta_success.
func (s *Scorer) RecordChainProofSuccess(nodeID string) TrustScore {
	return s.applyDelta(nodeID, s.deltas.Success)
}

// RecordChainBreak applies -delta_chain_break.
func (s *Scorer) RecordChainBreak(nodeID string) TrustScore {
	return s.applyDelta(nodeID, s.deltas.ChainBreak)
}

// RecordSignatureFailure applies -delta_sig_fail.
func (s *Scorer) RecordSignatureFailure(nodeID string) TrustScore {
	return s.applyDelta(nodeID, s.deltas.SigFailure)
}

// RecordDisagreement applies -delta_disagreement.
func (s *Scorer) RecordDisagreement(nodeID string) TrustScore {
	return s.applyDelta(nodeID, s.deltas.Disagreement)
}

// Decay moves a node's score toward baseline by DecayPerTick, intended to
// be invoked periodically for nodes observed to be silent.
func (s *Scorer) Decay(nodeID string, baseline float64) TrustScore {
	sh := s.shardFor(nodeID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ts := s.scoreLocked(sh, nodeID)
	if ts.Score > baseline {
		ts.Score = clamp01(ts.Score - s.deltas.DecayPerTick)
		if ts.Score < baseline {
			ts.Score = baseline
		}
	} else if ts.Score < baseline {
		ts.Score = clamp01(ts.Score + s.deltas.DecayPerTick)
		if ts.Score > baseline {
			ts.Score = baseline
		}
	}
	if !ts.ForcedQuarantine {
		ts.Level = levelForScore(ts.Score)
	}
	ts.LastUpdated = s.now()
	return *ts
}

// Revoke forces a node's level to Quarantined independently of its score.
// The stricter outcome (forced quarantine) always governs authorization.
func (s *Scorer) Revoke(nodeID string) TrustScore {
	sh := s.shardFor(nodeID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ts := s.scoreLocked(sh, nodeID)
	ts.ForcedQuarantine = true
	ts.Level = LevelQuarantined
	ts.LastUpdated = s.now()
	return *ts
}

// ScoreOf returns a node's TrustScore. HasScore reports whether a score has
// ever been recorded for this node at all (as opposed to the Zero-Trust
// "no score" case, which callers in C8/C9 MUST treat differently from an
// earned score of exactly 1.0).
func (s *Scorer) ScoreOf(nodeID string) (score TrustScore, hasScore bool) {
	sh := s.shardFor(nodeID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	ts, ok := sh.scores[nodeID]
	if !ok {
		return TrustScore{}, false
	}
	return *ts, true
}
