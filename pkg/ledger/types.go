package ledger

import (
	"time"

	"github.com/fourmik/aethercore/pkg/crypto"
	"github.com/fourmik/aethercore/pkg/event"
)

// KV is the minimal persistent key-value surface the ledger needs. It is
// satisfied structurally by *kvdb.KVAdapter (CometBFT-db backed) and by the
// in-memory fake used in tests.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Iterator(start, end []byte) (Iterator, error)
}

// Iterator walks a KV key range in ascending order.
type Iterator interface {
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

// Status describes whether the ledger is safe to write to.
type Status struct {
	Ok        bool
	ErrorType string
	Details   string
}

// Row is a single durable ledger entry: the spec's ledger_events row with
// the event payload carried inline (this single-process trust-mesh node has
// no separate blob store, so payload_ref resolves to Payload directly).
type Row struct {
	SeqNo         uint64                 `json:"seq_no"`
	EventID       string                 `json:"event_id"`
	Timestamp     uint64                 `json:"timestamp"`
	EventHash     crypto.Digest          `json:"event_hash"`
	PrevEventHash crypto.Digest          `json:"prev_event_hash"`
	Signature     []byte                 `json:"signature"`
	PublicKeyID   string                 `json:"public_key_id"`
	EventType     event.Type             `json:"event_type"`
	DeviceID      string                 `json:"device_id"`
	ChainHeight   uint64                 `json:"chain_height"`
	Payload       map[string]interface{} `json:"payload_ref"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	InsertedAt    time.Time              `json:"inserted_at"`
}

// ToEvent reconstructs the canonical Event this row represents, for hash
// and signature re-verification.
func (r *Row) ToEvent(nodeID string) *event.Event {
	return &event.Event{
		EventID:     r.EventID,
		EventType:   r.EventType,
		Timestamp:   r.Timestamp,
		NodeID:      nodeID,
		DeviceID:    r.DeviceID,
		Sequence:    r.SeqNo,
		ChainHeight: r.ChainHeight,
		PrevHash:    r.PrevEventHash,
		Payload:     r.Payload,
		Metadata:    r.Metadata,
		Hash:        r.EventHash,
		Signature:   r.Signature,
		PublicKeyID: r.PublicKeyID,
	}
}

// Health is the externally reported status of a ledger instance.
type Health struct {
	NodeID string `json:"node_id"`
	DBPath string `json:"db_path"`
	Status Status `json:"status"`
}

// Metrics holds the ledger's monotonic counters.
type Metrics struct {
	EventsAppendedTotal      uint64 `json:"events_appended_total"`
	StartupChecksTotal       uint64 `json:"startup_checks_total"`
	CorruptionDetectionsTotal uint64 `json:"corruption_detections_total"`
}
