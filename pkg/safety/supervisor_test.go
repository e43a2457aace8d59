package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHeartbeatClassify(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	hb := NewHeartbeat("actuator-1", 5*time.Second, base)

	require.Equal(t, Alive, hb.Classify(base.Add(1*time.Second)))
	require.Equal(t, Warning, hb.Classify(base.Add(4500*time.Millisecond)))
	require.Equal(t, Expired, hb.Classify(base.Add(6*time.Second)))
}

func TestHeartbeatClassify_AuxiliarySignalForcesExpired(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	hb := NewHeartbeat("actuator-1", 5*time.Second, base)
	hb.RequireNozzleConnected = true

	require.Equal(t, Expired, hb.Classify(base.Add(1*time.Second)))

	hb.NozzleConnected = true
	require.Equal(t, Alive, hb.Classify(base.Add(1*time.Second)))
}

func TestSupervisor_AuxiliarySignalTripsFailVisible(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(nil)

	hb := NewHeartbeat("a1", 5*time.Second, base)
	hb.RequireNozzleConnected = true
	s.Track(hb)

	s.Evaluate(base.Add(1 * time.Second))
	require.Equal(t, FailVisible, s.Mode())
}

func TestSupervisor_FailVisibleOnExpiry(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	closed := map[string]bool{}
	s := New(func(id string) { closed[id] = true })

	s.Track(NewHeartbeat("a1", 5*time.Second, base))
	s.Track(NewHeartbeat("a2", 5*time.Second, base))

	states := s.Evaluate(base.Add(1 * time.Second))
	require.Equal(t, Operational, s.Mode())
	require.Equal(t, Alive, states["a1"])

	s.Evaluate(base.Add(10 * time.Second))
	require.Equal(t, FailVisible, s.Mode())

	require.ErrorIs(t, s.CheckCommand(CommandOpen), ErrFailVisibleModeActive)
	require.NoError(t, s.CheckCommand(CommandClose))
	require.NoError(t, s.CheckCommand(CommandEmergencyShutdown))
}

func TestSupervisor_TriggerSafeStateClosesAllActuators(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	closed := map[string]bool{}
	s := New(func(id string) { closed[id] = true })
	s.Track(NewHeartbeat("a1", 5*time.Second, base))
	s.Track(NewHeartbeat("a2", 5*time.Second, base))

	s.TriggerSafeState()
	require.Equal(t, FailVisible, s.Mode())
	require.True(t, closed["a1"])
	require.True(t, closed["a2"])
}

func TestSupervisor_ResumeRequiresFreshAttestationAndAliveHeartbeats(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(nil)
	s.Track(NewHeartbeat("a1", 5*time.Second, base))
	s.Track(NewHeartbeat("a2", 5*time.Second, base))

	s.Evaluate(base.Add(10 * time.Second))
	require.Equal(t, FailVisible, s.Mode())

	err := s.Resume(ManualAttestation{Timestamp: base.Add(10 * time.Second), Fresh: false})
	require.ErrorIs(t, err, ErrInvalidAttestation)

	err = s.Resume(ManualAttestation{Timestamp: base.Add(10 * time.Second), Fresh: true})
	var expiredErr *HeartbeatsExpiredError
	require.ErrorAs(t, err, &expiredErr)
	require.Equal(t, 2, expiredErr.N)
	require.Equal(t, FailVisible, s.Mode())

	s.Track(NewHeartbeat("a1", 5*time.Second, base.Add(10*time.Second)))
	s.Track(NewHeartbeat("a2", 5*time.Second, base.Add(10*time.Second)))

	require.NoError(t, s.Resume(ManualAttestation{Timestamp: base.Add(11 * time.Second), Fresh: true}))
	require.Equal(t, Operational, s.Mode())
}
