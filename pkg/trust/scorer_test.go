package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestHealthClassification(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	scorer := NewScorer(DefaultThresholds(), DefaultScoreDeltas(), fixedClock(base))

	scorer.UpdateMetrics(IntegrityMetrics{
		NodeID: "n1", RootAgreementRatio: 0.99, ChainBreakCount: 0,
		SignatureFailureCount: 0, MissingWindowCount: 1,
	})
	require.Equal(t, Healthy, scorer.HealthOf("n1"))

	scorer.UpdateMetrics(IntegrityMetrics{
		NodeID: "n2", RootAgreementRatio: 0.80, ChainBreakCount: 1,
		SignatureFailureCount: 0, MissingWindowCount: 0,
	})
	require.Equal(t, Degraded, scorer.HealthOf("n2"))

	scorer.UpdateMetrics(IntegrityMetrics{
		NodeID: "n3", RootAgreementRatio: 0.50, ChainBreakCount: 0,
		SignatureFailureCount: 0, MissingWindowCount: 0,
	})
	require.Equal(t, Compromised, scorer.HealthOf("n3"))

	scorer.UpdateMetrics(IntegrityMetrics{
		NodeID: "n4", RootAgreementRatio: 0.99, ChainBreakCount: 3,
		SignatureFailureCount: 0, MissingWindowCount: 0,
	})
	require.Equal(t, Compromised, scorer.HealthOf("n4"))

	require.Equal(t, Unknown, scorer.HealthOf("never-seen"))
}

func TestHealthBecomesUnknownWhenStale(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	scorer := NewScorer(DefaultThresholds(), DefaultScoreDeltas(), func() time.Time { return current })

	scorer.UpdateMetrics(IntegrityMetrics{NodeID: "n1", RootAgreementRatio: 1.0})
	require.Equal(t, Healthy, scorer.HealthOf("n1"))

	current = base.Add(10 * time.Minute)
	require.Equal(t, Unknown, scorer.HealthOf("n1"))
}

func TestScoreOf_NoScoreDistinctFromEarnedOne(t *testing.T) {
	scorer := NewScorer(DefaultThresholds(), DefaultScoreDeltas(), nil)

	_, hasScore := scorer.ScoreOf("never-touched")
	require.False(t, hasScore, "zero-trust nodes must report no score, not an implicit 1.0")

	scored := scorer.RecordChainProofSuccess("n1")
	require.InDelta(t, 1.0, scored.Score, 1e-9)

	got, hasScore := scorer.ScoreOf("n1")
	require.True(t, hasScore)
	require.Equal(t, scored, got)
}

func TestScoreDeltasAndLevels(t *testing.T) {
	scorer := NewScorer(DefaultThresholds(), DefaultScoreDeltas(), nil)

	for i := 0; i < 30; i++ {
		scorer.RecordChainBreak("n1")
	}
	ts, ok := scorer.ScoreOf("n1")
	require.True(t, ok)
	require.Equal(t, LevelQuarantined, ts.Level)
	require.Equal(t, 0.0, ts.Score)

	ts = scorer.RecordChainProofSuccess("n2")
	require.Equal(t, LevelHealthy, ts.Level)
}

func TestRevokeForcesQuarantineRegardlessOfScore(t *testing.T) {
	scorer := NewScorer(DefaultThresholds(), DefaultScoreDeltas(), nil)

	ts := scorer.RecordChainProofSuccess("n1")
	require.Equal(t, LevelHealthy, ts.Level)

	revoked := scorer.Revoke("n1")
	require.Equal(t, LevelQuarantined, revoked.Level)
	require.True(t, revoked.ForcedQuarantine)

	again := scorer.RecordChainProofSuccess("n1")
	require.Equal(t, LevelQuarantined, again.Level, "forced quarantine must survive further score updates")
}
