// Package event implements the canonical, immutable event record (C2) that
// flows through the signed event chain: deterministic encoding, hashing and
// signature verification.
package event

import (
	"time"

	"github.com/fourmik/aethercore/pkg/crypto"
)

// Type enumerates the kinds of events a node can append to its chain.
type Type string

const (
	Telemetry Type = "Telemetry"
	Gps       Type = "Gps"
	Fleet     Type = "Fleet"
	Mission   Type = "Mission"
	Alert     Type = "Alert"
	System    Type = "System"
	Audit     Type = "Audit"
)

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	switch t {
	case Telemetry, Gps, Fleet, Mission, Alert, System, Audit:
		return true
	default:
		return false
	}
}

// Event is the canonical, immutable event record. It is never mutated after
// construction; two Events with equal fields always produce equal encodings.
type Event struct {
	EventID     string
	EventType   Type
	Timestamp   uint64 // milliseconds since epoch, monotonic per device
	NodeID      string
	DeviceID    string
	Sequence    uint64 // strictly monotonic per device
	ChainHeight uint64 // strictly monotonic per node
	PrevHash    crypto.Digest
	Payload     map[string]interface{}
	Metadata    map[string]interface{}

	Hash        crypto.Digest
	Signature   []byte
	PublicKeyID string
}

// New builds an unsigned, unhashed Event. Callers compute and set Hash and
// Signature via the Signer (C1) before appending to a ledger.
func New(eventID string, eventType Type, nodeID, deviceID string, sequence, chainHeight uint64, prevHash crypto.Digest, payload map[string]interface{}) *Event {
	return &Event{
		EventID:     eventID,
		EventType:   eventType,
		Timestamp:   uint64(time.Now().UnixMilli()),
		NodeID:      nodeID,
		DeviceID:    deviceID,
		Sequence:    sequence,
		ChainHeight: chainHeight,
		PrevHash:    prevHash,
		Payload:     payload,
	}
}

// ComputeHash returns the canonical hash of the event (all fields except
// Hash and Signature).
func (e *Event) ComputeHash() (crypto.Digest, error) {
	enc, err := e.CanonicalEncoding()
	if err != nil {
		return crypto.Digest{}, err
	}
	return crypto.HashBytes(enc), nil
}

// VerifyHash reports whether e.Hash matches the recomputed canonical hash.
func (e *Event) VerifyHash() (bool, error) {
	h, err := e.ComputeHash()
	if err != nil {
		return false, err
	}
	return crypto.ConstantTimeEqual(h[:], e.Hash[:]), nil
}

// VerifySignature reports whether e.Signature verifies against publicKey
// over e.Hash.
func (e *Event) VerifySignature(publicKey []byte) bool {
	return crypto.Verify(publicKey, e.Hash[:], e.Signature)
}

// Seal computes and sets Hash and Signature using signer, taking PrevHash
// from the current value already set on e.
func (e *Event) Seal(signer *crypto.Signer) error {
	h, err := e.ComputeHash()
	if err != nil {
		return err
	}
	e.Hash = h
	e.Signature = signer.Sign(h[:])
	e.PublicKeyID = signer.KeyID()
	return nil
}
