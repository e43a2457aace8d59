package event

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fourmik/aethercore/pkg/commitment"
)

// CanonicalEncoding produces the deterministic byte form of the event used
// for both hashing and cross-implementation comparison. Field order is
// fixed and lexicographic: chain_height, device_id, event_id, event_type,
// metadata, node_id, payload, prev_hash, sequence, timestamp. Integers are
// big-endian, strings and encoded sub-objects are length-prefixed, digests
// are raw 32 bytes. hash and signature are never part of the preimage.
func (e *Event) CanonicalEncoding() ([]byte, error) {
	var buf bytes.Buffer

	writeUint64(&buf, e.ChainHeight)
	writeString(&buf, e.DeviceID)
	writeString(&buf, e.EventID)
	writeString(&buf, string(e.EventType))

	metaBytes, err := canonicalMap(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("canonicalize metadata: %w", err)
	}
	writeBytes(&buf, metaBytes)

	writeString(&buf, e.NodeID)

	payloadBytes, err := canonicalMap(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	writeBytes(&buf, payloadBytes)

	buf.Write(e.PrevHash[:])
	writeUint64(&buf, e.Sequence)
	writeUint64(&buf, e.Timestamp)

	return buf.Bytes(), nil
}

// canonicalMap renders a possibly-nil field map as canonical JSON with
// lexicographically sorted keys. A nil map encodes identically to an empty
// one so that omitted optional fields don't perturb the hash across
// implementations.
func canonicalMap(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		m = map[string]interface{}{}
	}
	return commitment.CanonicalizeJSONFromMap(m)
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}
