// Package dispatch implements the command dispatcher (C9): unit and swarm
// command fan-out after the quorum gate and trust scorer have admitted a
// command, with every dispatch audited back into the local ledger.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fourmik/aethercore/pkg/crypto"
	"github.com/fourmik/aethercore/pkg/event"
	"github.com/fourmik/aethercore/pkg/ledger"
	"github.com/fourmik/aethercore/pkg/logging"
	"github.com/fourmik/aethercore/pkg/quorum"
)

// DefaultBatchSizeLimit is the default bound B on swarm command fan-out.
const DefaultBatchSizeLimit = 100

// UnitResultKind enumerates the outcome of dispatching a command to a
// single unit.
type UnitResultKind string

const (
	UnitSuccess UnitResultKind = "Success"
	UnitFailed  UnitResultKind = "Failed"
	UnitTimeout UnitResultKind = "Timeout"
)

// UnitDispatchResult is the outcome of dispatch_unit_command.
type UnitDispatchResult struct {
	UnitID string
	Kind   UnitResultKind
	Reason string
}

// SwarmDispatchStatus aggregates per-unit results for a swarm command.
type SwarmDispatchStatus struct {
	SwarmID          string
	SuccessCount     int
	FailureCount     int
	TimeoutCount     int
	TotalUnits       int
	CompletionPercent float64
	Results          []UnitDispatchResult
}

// Executor performs the actual command delivery to a unit. It is an opaque
// transport boundary (out of core scope): the dispatcher only interprets
// its outcome.
type Executor func(ctx context.Context, unitID string, command []byte) UnitDispatchResult

// HistoryEntry is one record in the dispatcher's bounded ring buffer of
// recent dispatch attempts, kept for operator diagnostics independent of
// the durable audit trail in the ledger.
type HistoryEntry struct {
	Timestamp time.Time
	TargetID  string
	Scope     quorum.Scope
	Outcome   string
}

// Dispatcher fans out admitted commands and appends an Audit event to the
// ledger for every dispatch, recording the outcome, the target list and
// count, and the number of authority signatures. The command hash and the
// signatures themselves are not recorded in the event.
type Dispatcher struct {
	nodeID         string
	deviceID       string
	signer         *crypto.Signer
	ledger         *ledger.Ledger
	execute        Executor
	batchSizeLimit int

	mu      sync.Mutex
	history []HistoryEntry
	histCap int
	histPos int

	logger zerolog.Logger
}

// Option configures optional Dispatcher behavior at construction time.
type Option func(*Dispatcher)

// WithLogger sets the structured logger used for swarm dispatch outcomes.
// Defaults to a discarding logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// New creates a Dispatcher. batchSizeLimit <= 0 uses DefaultBatchSizeLimit;
// historyCap <= 0 disables the diagnostic ring buffer.
func New(nodeID, deviceID string, signer *crypto.Signer, l *ledger.Ledger, execute Executor, batchSizeLimit, historyCap int, opts ...Option) *Dispatcher {
	if batchSizeLimit <= 0 {
		batchSizeLimit = DefaultBatchSizeLimit
	}
	if historyCap < 0 {
		historyCap = 0
	}
	d := &Dispatcher{
		nodeID:         nodeID,
		deviceID:       deviceID,
		signer:         signer,
		ledger:         l,
		execute:        execute,
		batchSizeLimit: batchSizeLimit,
		history:        make([]HistoryEntry, historyCap),
		histCap:        historyCap,
		logger:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) recordHistory(entry HistoryEntry) {
	if d.histCap == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history[d.histPos%d.histCap] = entry
	d.histPos++
}

// History returns the diagnostic ring buffer's current contents, oldest
// first, bounded to however many entries have actually been recorded.
func (d *Dispatcher) History() []HistoryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.histCap == 0 {
		return nil
	}
	n := d.histPos
	if n > d.histCap {
		n = d.histCap
	}
	out := make([]HistoryEntry, n)
	for i := 0; i < n; i++ {
		idx := (d.histPos - n + i) % d.histCap
		out[i] = d.history[idx]
	}
	return out
}

func (d *Dispatcher) appendAudit(seq, height uint64, prevHash crypto.Digest, reason string, sigs []quorum.AuthoritySignature, targets []string) (crypto.Digest, error) {
	payload := map[string]interface{}{
		"reason":       reason,
		"target_count": len(targets),
		"targets":      targets,
	}
	meta := map[string]interface{}{
		"signer_count": len(sigs),
	}
	ev := event.New(auditEventID(d.nodeID, seq), event.Audit, d.nodeID, d.deviceID, seq, height, prevHash, payload)
	ev.Metadata = meta
	ev.Timestamp = uint64(time.Now().UnixMilli())
	if err := ev.Seal(d.signer); err != nil {
		return crypto.Digest{}, err
	}
	if _, err := d.ledger.AppendSignedEvent(ev); err != nil {
		return crypto.Digest{}, err
	}
	return ev.Hash, nil
}

func auditEventID(nodeID string, seq uint64) string {
	return nodeID + "-audit-" + itoa(seq)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// DispatchUnitCommand sends a single command to a unit, then appends an
// Audit event recording the outcome.
func (d *Dispatcher) DispatchUnitCommand(ctx context.Context, unitID string, command []byte, sigs []quorum.AuthoritySignature, seq, height uint64, prevHash crypto.Digest) (UnitDispatchResult, error) {
	result := d.execute(ctx, unitID, command)

	if _, err := d.appendAudit(seq, height, prevHash, string(result.Kind), sigs, []string{unitID}); err != nil {
		return result, err
	}
	d.recordHistory(HistoryEntry{Timestamp: time.Now(), TargetID: unitID, Outcome: string(result.Kind)})
	return result, nil
}

// DispatchSwarmCommand fans a command out to every target unit concurrently
// and aggregates their results. Exceeding the batch size limit fails before
// any unit is contacted.
func (d *Dispatcher) DispatchSwarmCommand(ctx context.Context, swarmID string, command []byte, targetUnitIDs []string, sigs []quorum.AuthoritySignature, seq, height uint64, prevHash crypto.Digest) (SwarmDispatchStatus, error) {
	if len(targetUnitIDs) > d.batchSizeLimit {
		return SwarmDispatchStatus{}, &BatchSizeExceededError{Got: len(targetUnitIDs), Limit: d.batchSizeLimit}
	}

	results := make([]UnitDispatchResult, len(targetUnitIDs))
	var wg sync.WaitGroup
	for i, unitID := range targetUnitIDs {
		wg.Add(1)
		go func(i int, unitID string) {
			defer wg.Done()
			results[i] = d.execute(ctx, unitID, command)
		}(i, unitID)
	}
	wg.Wait()

	status := SwarmDispatchStatus{SwarmID: swarmID, TotalUnits: len(targetUnitIDs), Results: results}
	for _, r := range results {
		switch r.Kind {
		case UnitSuccess:
			status.SuccessCount++
		case UnitTimeout:
			status.TimeoutCount++
		default:
			status.FailureCount++
		}
	}
	if status.TotalUnits > 0 {
		status.CompletionPercent = 100.0 * float64(status.SuccessCount) / float64(status.TotalUnits)
	}

	if _, err := d.appendAudit(seq, height, prevHash, "swarm_dispatch", sigs, targetUnitIDs); err != nil {
		return status, err
	}
	d.recordHistory(HistoryEntry{Timestamp: time.Now(), TargetID: swarmID, Outcome: "swarm_dispatch"})

	logEvent := d.logger.Info()
	if status.FailureCount > 0 || status.TimeoutCount > 0 {
		logEvent = d.logger.Warn()
	}
	logEvent.Str("swarm_id", swarmID).
		Int("success", status.SuccessCount).
		Int("failed", status.FailureCount).
		Int("timeout", status.TimeoutCount).
		Msg("swarm command dispatched")

	return status, nil
}

// AbortSwarmCommand is a best-effort cancellation signal to every target;
// it does not wait for acknowledgement and never returns an error for
// individual unit unreachability.
func (d *Dispatcher) AbortSwarmCommand(ctx context.Context, swarmID string, targets []string, abortCommand []byte) {
	for _, unitID := range targets {
		go func(unitID string) {
			_ = d.execute(ctx, unitID, abortCommand)
		}(unitID)
	}
}
