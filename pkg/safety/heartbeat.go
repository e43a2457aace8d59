// Package safety implements the safety supervisor (C10): heartbeat
// monitoring, fail-visible mode transitions, and attested resume.
//
// The three-state Alive/Warning/Expired heartbeat model here is a
// deliberate redesign of the two-state Active/Expired model used
// elsewhere in this domain: Warning gives the gate and operators an
// early signal at 80% of timeout, before a heartbeat actually lapses.
package safety

import "time"

// HeartbeatState classifies a single heartbeat's freshness.
type HeartbeatState string

const (
	Alive   HeartbeatState = "Alive"
	Warning HeartbeatState = "Warning"
	Expired HeartbeatState = "Expired"
)

// WarningFraction is the fraction of Timeout past which a heartbeat is
// Warning rather than Alive.
const WarningFraction = 0.8

// Heartbeat tracks one actuator or subsystem's last-seen attestation.
type Heartbeat struct {
	ActuatorID string
	Timeout    time.Duration
	LastSeen   time.Time

	// RequireNozzleConnected opts this heartbeat into an additional
	// auxiliary signal: when true, the heartbeat is never classified
	// Alive unless NozzleConnected is also true, even if within Timeout.
	// Actuators that don't set it are unaffected.
	RequireNozzleConnected bool
	NozzleConnected        bool
}

// NewHeartbeat creates a heartbeat last seen at `now`.
func NewHeartbeat(actuatorID string, timeout time.Duration, now time.Time) *Heartbeat {
	return &Heartbeat{ActuatorID: actuatorID, Timeout: timeout, LastSeen: now}
}

// Touch records a fresh attestation at `now`.
func (h *Heartbeat) Touch(now time.Time) {
	h.LastSeen = now
}

// Classify returns the heartbeat's state at `now`.
func (h *Heartbeat) Classify(now time.Time) HeartbeatState {
	if h.RequireNozzleConnected && !h.NozzleConnected {
		return Expired
	}

	elapsed := now.Sub(h.LastSeen)
	if elapsed > h.Timeout {
		return Expired
	}
	warnAt := time.Duration(float64(h.Timeout) * WarningFraction)
	if elapsed > warnAt {
		return Warning
	}
	return Alive
}
