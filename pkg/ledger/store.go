package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fourmik/aethercore/pkg/crypto"
	"github.com/fourmik/aethercore/pkg/event"
	"github.com/fourmik/aethercore/pkg/logging"
)

var (
	rowPrefix  = []byte("evt/")
	idPrefix   = []byte("idx/id/")
	tailKey    = []byte("meta/tail")
	nodeKey    = []byte("meta/node")
)

// PublicKeyResolver looks up the raw public key bytes registered for a
// public_key_id. When nil, signature verification on append is skipped
// (used in tests and for bootstrap-only nodes).
type PublicKeyResolver func(publicKeyID string) ([]byte, error)

// Ledger is the durable, append-only, hash-chained per-node event log (C3).
// It is single-writer-per-process, multi-reader: Append serializes through
// mu, while reads take a snapshot of the tail without blocking writers
// beyond the row they touch.
type Ledger struct {
	mu sync.Mutex

	kv     KV
	nodeID string
	dbPath string
	logger zerolog.Logger

	resolvePublicKey PublicKeyResolver

	status atomic.Value // Status

	tailSeqNo   uint64
	tailHash    crypto.Digest
	hasTail     bool

	eventsAppended      uint64
	startupChecks       uint64
	corruptionDetections uint64
}

// Option configures optional Ledger behavior at construction time.
type Option func(*Ledger)

// WithLogger sets the structured logger used for corruption and integrity
// events. Defaults to a discarding logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// Open opens or creates the store over kv and runs the startup integrity
// check described in the spec: if the table is non-empty, the tail row's
// event_hash is recomputed and a bounded backward scan verifies chain
// linkage. Any disagreement marks the ledger Corrupted for all future
// writes; reads continue to serve intact rows.
func Open(kv KV, nodeID, dbPath string, resolver PublicKeyResolver, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		kv:               kv,
		nodeID:           nodeID,
		dbPath:           dbPath,
		resolvePublicKey: resolver,
		logger:           logging.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.status.Store(Status{Ok: true})

	if err := l.kv.Set(nodeKey, []byte(nodeID)); err != nil {
		return nil, err
	}

	atomic.AddUint64(&l.startupChecks, 1)

	tailBytes, err := l.kv.Get(tailKey)
	if err != nil {
		return nil, err
	}
	if tailBytes == nil {
		// Empty ledger: nothing to verify.
		return l, nil
	}

	tailSeq := binary.BigEndian.Uint64(tailBytes)
	tailRow, err := l.readRow(tailSeq)
	if err != nil {
		return nil, err
	}

	recomputed, err := tailRow.ToEvent(nodeID).ComputeHash()
	if err != nil {
		return nil, err
	}
	if !crypto.ConstantTimeEqual(recomputed[:], tailRow.EventHash[:]) {
		l.markCorrupted("HashMismatch", fmt.Sprintf("tail row seq_no=%d recomputed hash disagrees with stored hash", tailSeq))
		return l, nil
	}

	if ok, reason := l.scanBackwards(tailSeq); !ok {
		l.markCorrupted("ChainBreak", reason)
		return l, nil
	}

	l.tailSeqNo = tailSeq
	l.tailHash = tailRow.EventHash
	l.hasTail = true
	return l, nil
}

// scanBackwards re-validates hash linkage for a bounded window (at most 1000
// rows, or to genesis) starting from the tail, walking toward seq_no 1.
func (l *Ledger) scanBackwards(tailSeq uint64) (bool, string) {
	const maxScan = 1000

	cur := tailSeq
	scanned := uint64(0)
	for cur > 1 && scanned < maxScan {
		row, err := l.readRow(cur)
		if err != nil {
			return false, fmt.Sprintf("read seq_no=%d: %v", cur, err)
		}
		prevRow, err := l.readRow(cur - 1)
		if err != nil {
			return false, fmt.Sprintf("read seq_no=%d: %v", cur-1, err)
		}
		if !crypto.ConstantTimeEqual(row.PrevEventHash[:], prevRow.EventHash[:]) {
			return false, fmt.Sprintf("chain break between seq_no=%d and seq_no=%d", cur-1, cur)
		}
		cur--
		scanned++
	}
	return true, ""
}

func (l *Ledger) markCorrupted(errorType, details string) {
	l.status.Store(Status{Ok: false, ErrorType: errorType, Details: details})
	atomic.AddUint64(&l.corruptionDetections, 1)
	l.logger.Error().
		Str("node_id", l.nodeID).
		Str("error_kind", errorType).
		Str("details", details).
		Msg("ledger integrity check failed")
}

// AppendSignedEvent validates and appends ev, assigning the next dense
// seq_no. See package doc and spec §4.3 for the exact validation order.
func (l *Ledger) AppendSignedEvent(ev *event.Event) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.currentStatus().Ok {
		return 0, ErrLedgerCorrupted
	}

	if l.hasTail {
		if !crypto.ConstantTimeEqual(ev.PrevHash[:], l.tailHash[:]) {
			return 0, ErrChainMismatch
		}
	} else if !ev.PrevHash.IsZero() {
		return 0, ErrChainMismatch
	}

	recomputed, err := ev.ComputeHash()
	if err != nil {
		return 0, err
	}
	if !crypto.ConstantTimeEqual(recomputed[:], ev.Hash[:]) {
		return 0, ErrHashMismatch
	}

	if l.resolvePublicKey != nil {
		pub, err := l.resolvePublicKey(ev.PublicKeyID)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		if !ev.VerifySignature(pub) {
			return 0, ErrBadSignature
		}
	}

	idKey := eventIDKey(ev.EventID)
	existing, err := l.kv.Get(idKey)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, ErrDuplicateEventID
	}

	seqNo := l.tailSeqNo + 1

	row := &Row{
		SeqNo:         seqNo,
		EventID:       ev.EventID,
		Timestamp:     ev.Timestamp,
		EventHash:     ev.Hash,
		PrevEventHash: ev.PrevHash,
		Signature:     ev.Signature,
		PublicKeyID:   ev.PublicKeyID,
		EventType:     ev.EventType,
		DeviceID:      ev.DeviceID,
		ChainHeight:   ev.ChainHeight,
		Payload:       ev.Payload,
		Metadata:      ev.Metadata,
		InsertedAt:    time.Now().UTC(),
	}

	rowBytes, err := json.Marshal(row)
	if err != nil {
		return 0, err
	}

	if err := l.kv.Set(rowKey(seqNo), rowBytes); err != nil {
		return 0, err
	}
	if err := l.kv.Set(idKey, seqNoBytes(seqNo)); err != nil {
		return 0, err
	}
	if err := l.kv.Set(tailKey, seqNoBytes(seqNo)); err != nil {
		return 0, err
	}

	l.tailSeqNo = seqNo
	l.tailHash = ev.Hash
	l.hasTail = true
	atomic.AddUint64(&l.eventsAppended, 1)

	return seqNo, nil
}

// GetEventBySeqNo returns the row stored at the given sequence number.
func (l *Ledger) GetEventBySeqNo(seqNo uint64) (*Row, error) {
	return l.readRow(seqNo)
}

// GetLatestEvent returns the current tail row, or ErrNotFound on an empty ledger.
func (l *Ledger) GetLatestEvent() (*Row, error) {
	l.mu.Lock()
	hasTail := l.hasTail
	tailSeq := l.tailSeqNo
	l.mu.Unlock()

	if !hasTail {
		return nil, ErrNotFound
	}
	return l.readRow(tailSeq)
}

// IterateEvents returns up to limit rows starting at fromSeq (inclusive), in
// ascending seq_no order. It is read-only and never blocks on writers
// beyond the row currently being read.
func (l *Ledger) IterateEvents(fromSeq uint64, limit int) ([]*Row, error) {
	if limit <= 0 {
		return nil, nil
	}

	start := rowKey(fromSeq)
	end := rowKey(^uint64(0))
	// end is exclusive for most KV iterators; append 0xFF to make the
	// upper bound inclusive of the maximum seq_no row.
	end = append(end, 0xFF)

	it, err := l.kv.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var rows []*Row
	for ; it.Valid() && len(rows) < limit; it.Next() {
		if !bytes.HasPrefix(it.Key(), rowPrefix) {
			continue
		}
		var row Row
		if err := json.Unmarshal(it.Value(), &row); err != nil {
			return nil, err
		}
		rows = append(rows, &row)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return rows, nil
}

// GetLedgerHealth reports the node id, db path and current status.
func (l *Ledger) GetLedgerHealth() Health {
	return Health{NodeID: l.nodeID, DBPath: l.dbPath, Status: l.currentStatus()}
}

// Metrics returns a snapshot of the ledger's monotonic counters.
func (l *Ledger) Metrics() Metrics {
	return Metrics{
		EventsAppendedTotal:       atomic.LoadUint64(&l.eventsAppended),
		StartupChecksTotal:        atomic.LoadUint64(&l.startupChecks),
		CorruptionDetectionsTotal: atomic.LoadUint64(&l.corruptionDetections),
	}
}

func (l *Ledger) currentStatus() Status {
	return l.status.Load().(Status)
}

func (l *Ledger) readRow(seqNo uint64) (*Row, error) {
	raw, err := l.kv.Get(rowKey(seqNo))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

func rowKey(seqNo uint64) []byte {
	key := make([]byte, len(rowPrefix)+8)
	copy(key, rowPrefix)
	binary.BigEndian.PutUint64(key[len(rowPrefix):], seqNo)
	return key
}

func eventIDKey(eventID string) []byte {
	return append(append([]byte{}, idPrefix...), []byte(eventID)...)
}

func seqNoBytes(seqNo uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seqNo)
	return b
}
