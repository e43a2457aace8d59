package safety

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fourmik/aethercore/pkg/logging"
)

// SystemMode is the supervisor's top-level operating mode.
type SystemMode string

const (
	Operational    SystemMode = "Operational"
	FailVisible    SystemMode = "FailVisible"
	ManualOverride SystemMode = "ManualOverride"
)

var (
	ErrInvalidAttestation = errors.New("safety: invalid or stale attestation")
)

// HeartbeatsExpiredError reports how many heartbeats were not Alive at the
// time resume() was attempted.
type HeartbeatsExpiredError struct{ N int }

func (e *HeartbeatsExpiredError) Error() string {
	return fmt.Sprintf("safety: %d heartbeats not alive", e.N)
}

// ManualAttestation is the operator-supplied proof required to resume
// Operational mode from FailVisible or ManualOverride.
type ManualAttestation struct {
	Timestamp time.Time
	// Fresh reports whether the attestation itself is considered fresh
	// (e.g. signature/quote still within its validity window); resolved
	// by the caller via the Attester contract (C11), not by this package.
	Fresh bool
}

// Command is a minimal actuation request the gate checks mode against.
type Command string

const (
	CommandOpen              Command = "Open"
	CommandClose             Command = "Close"
	CommandEmergencyShutdown Command = "EmergencyShutdown"
)

// ErrFailVisibleModeActive is returned when an Open-style command is
// attempted while the supervisor is not Operational.
var ErrFailVisibleModeActive = errors.New("safety: fail-visible mode active")

// Supervisor monitors a set of heartbeats and enforces the
// Operational/FailVisible/ManualOverride state machine.
type Supervisor struct {
	mu         sync.Mutex
	mode       SystemMode
	heartbeats map[string]*Heartbeat
	closeAll   func(actuatorID string)
	logger     zerolog.Logger
}

// Option configures optional Supervisor behavior at construction time.
type Option func(*Supervisor)

// WithLogger sets the structured logger used for mode transitions. Defaults
// to a discarding logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// New creates a Supervisor starting in Operational mode. closeAll, if
// non-nil, is invoked once per known actuator by TriggerSafeState to emit
// its Close command.
func New(closeAll func(actuatorID string), opts ...Option) *Supervisor {
	s := &Supervisor{mode: Operational, heartbeats: make(map[string]*Heartbeat), closeAll: closeAll, logger: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track registers a heartbeat for monitoring.
func (s *Supervisor) Track(hb *Heartbeat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[hb.ActuatorID] = hb
}

// Mode returns the current system mode.
func (s *Supervisor) Mode() SystemMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Evaluate classifies every tracked heartbeat at `now` and transitions
// Operational -> FailVisible if any is Expired. It returns the per-actuator
// classification for callers (e.g. Trust Scorer, metrics) to consume.
func (s *Supervisor) Evaluate(now time.Time) map[string]HeartbeatState {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[string]HeartbeatState, len(s.heartbeats))
	anyExpired := false
	for id, hb := range s.heartbeats {
		state := hb.Classify(now)
		states[id] = state
		if state == Expired {
			anyExpired = true
		}
	}

	if anyExpired && s.mode == Operational {
		s.mode = FailVisible
		s.logger.Warn().Str("mode", string(FailVisible)).Msg("heartbeat expiry forced fail-visible mode")
	}
	return states
}

// CheckCommand enforces the gate: in FailVisible mode only Close and
// EmergencyShutdown are admitted.
func (s *Supervisor) CheckCommand(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == Operational {
		return nil
	}
	if cmd == CommandClose || cmd == CommandEmergencyShutdown {
		return nil
	}
	return ErrFailVisibleModeActive
}

// TriggerSafeState forces FailVisible immediately and emits a Close command
// for every tracked actuator.
func (s *Supervisor) TriggerSafeState() {
	s.mu.Lock()
	s.mode = FailVisible
	ids := make([]string, 0, len(s.heartbeats))
	for id := range s.heartbeats {
		ids = append(ids, id)
	}
	closeAll := s.closeAll
	logger := s.logger
	s.mu.Unlock()

	logger.Warn().Int("actuator_count", len(ids)).Msg("safe state triggered, closing all actuators")

	if closeAll == nil {
		return
	}
	for _, id := range ids {
		closeAll(id)
	}
}

// Resume attempts to return to Operational mode. It succeeds iff the
// attestation is fresh and every tracked heartbeat is Alive as of the
// attestation's timestamp.
func (s *Supervisor) Resume(att ManualAttestation) error {
	if !att.Fresh {
		return ErrInvalidAttestation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, hb := range s.heartbeats {
		if hb.Classify(att.Timestamp) != Alive {
			expired++
		}
	}
	if expired > 0 {
		return &HeartbeatsExpiredError{N: expired}
	}

	s.mode = Operational
	s.logger.Warn().Str("mode", string(Operational)).Msg("resumed operational mode")
	return nil
}

// EnterManualOverride puts the supervisor into the terminal operator
// override state, only clearable by Resume.
func (s *Supervisor) EnterManualOverride() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ManualOverride
}
