// Package strategy defines the pluggable cryptographic attestation schemes a
// node can use to prove possession of its hardware-rooted key: Ed25519 by
// default, BLS12-381 where signature aggregation across a coalition is
// useful. Both implement the same AttestationStrategy interface so the rest
// of the mesh never branches on scheme.
package strategy

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AttestationScheme identifies the cryptographic scheme used for attestations.
type AttestationScheme string

const (
	// AttestationSchemeBLS12381 is BLS12-381 with signature aggregation.
	AttestationSchemeBLS12381 AttestationScheme = "bls12-381"

	// AttestationSchemeEd25519 is Ed25519, the default node scheme.
	AttestationSchemeEd25519 AttestationScheme = "ed25519"
)

// String returns the string representation of the scheme.
func (s AttestationScheme) String() string {
	return string(s)
}

// IsValid reports whether s is a known scheme.
func (s AttestationScheme) IsValid() bool {
	switch s {
	case AttestationSchemeBLS12381, AttestationSchemeEd25519:
		return true
	default:
		return false
	}
}

// AttestationMessage is the canonical message a node attests to: that it
// observed a given ledger event (or sealed a given checkpoint window) at a
// given height, using its hardware-rooted key.
type AttestationMessage struct {
	// NodeID is the attesting node.
	NodeID string `json:"node_id"`

	// DeviceID is the physical unit the node is acting on behalf of.
	DeviceID string `json:"device_id"`

	// Purpose distinguishes what is being attested: "event", "checkpoint",
	// or "heartbeat".
	Purpose string `json:"purpose"`

	// SubjectHash is the hash of the thing being attested (event hash or
	// checkpoint Merkle root).
	SubjectHash [32]byte `json:"subject_hash"`

	// Height is the chain height or window index the attestation applies to.
	Height uint64 `json:"height"`

	// Timestamp is the Unix millisecond timestamp the message was created.
	Timestamp int64 `json:"timestamp"`
}

// Attestation represents a single node's attestation over a message.
type Attestation struct {
	AttestationID uuid.UUID           `json:"attestation_id"`
	Scheme        AttestationScheme   `json:"scheme"`
	NodeID        string              `json:"node_id"`
	PublicKey     []byte              `json:"public_key"`
	Signature     []byte              `json:"signature"`
	Message       *AttestationMessage `json:"message"`
	MessageHash   [32]byte            `json:"message_hash"`
	Timestamp     time.Time           `json:"timestamp"`
	Verified      bool                `json:"verified,omitempty"`
	VerifiedAt    *time.Time          `json:"verified_at,omitempty"`
}

// AggregatedAttestation represents multiple attestations over the same
// message combined. For BLS, signatures are cryptographically aggregated;
// for Ed25519, attestations are collected and verified individually.
type AggregatedAttestation struct {
	AggregationID        uuid.UUID      `json:"aggregation_id"`
	Scheme               AttestationScheme `json:"scheme"`
	MessageHash          [32]byte       `json:"message_hash"`
	AggregatedSignature  []byte         `json:"aggregated_signature,omitempty"`
	AggregatedPublicKey  []byte         `json:"aggregated_public_key,omitempty"`
	Attestations         []*Attestation `json:"attestations"`
	ParticipantIDs       []string       `json:"participant_ids"`
	ParticipantCount     int            `json:"participant_count"`
	FirstAttestation     time.Time      `json:"first_attestation"`
	LastAttestation      time.Time      `json:"last_attestation"`
	AggregatedAt         time.Time      `json:"aggregated_at"`
	Verified             bool           `json:"verified,omitempty"`
}

// AttestationStrategy is the interface every attestation scheme implements.
// Implementations must be safe for concurrent use.
type AttestationStrategy interface {
	// Scheme returns the attestation scheme identifier.
	Scheme() AttestationScheme

	// Sign creates an attestation for the given message.
	Sign(ctx context.Context, message *AttestationMessage) (*Attestation, error)

	// Verify verifies a single attestation's signature.
	Verify(ctx context.Context, attestation *Attestation) (bool, error)

	// Aggregate combines multiple attestations over the same message.
	Aggregate(ctx context.Context, attestations []*Attestation) (*AggregatedAttestation, error)

	// VerifyAggregated verifies an aggregated attestation.
	VerifyAggregated(ctx context.Context, agg *AggregatedAttestation) (bool, error)

	// SupportsAggregation reports whether the scheme supports cryptographic
	// signature aggregation (true for BLS, false for Ed25519).
	SupportsAggregation() bool

	// PublicKey returns this node's public key for the scheme.
	PublicKey() []byte

	// NodeID returns the node identifier this strategy signs on behalf of.
	NodeID() string

	// ComputeMessageHash computes the canonical hash of a message for signing.
	ComputeMessageHash(message *AttestationMessage) ([32]byte, error)
}
