package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fourmik/aethercore/pkg/crypto/bls"
)

// BLSStrategyConfig configures the BLS12-381 attestation strategy.
type BLSStrategyConfig struct {
	// NodeID is the node identifier this strategy signs on behalf of.
	NodeID string

	// PrivateKeyBytes is the BLS private key. If empty, a new key pair is
	// generated (or loaded/derived via KeyPath below).
	PrivateKeyBytes []byte

	// KeyPath, when set and PrivateKeyBytes is empty, persists the node's
	// BLS key on disk across restarts: an existing key at this path is
	// loaded, otherwise one is derived deterministically from NodeID and
	// saved there.
	KeyPath string

	// Domain is the signing domain. Defaults to bls.DomainAttestation.
	Domain string
}

// BLSStrategy implements AttestationStrategy for BLS12-381, enabling
// signature aggregation across a coalition attesting to the same event or
// checkpoint.
type BLSStrategy struct {
	mu sync.RWMutex

	config *BLSStrategyConfig

	privateKey *bls.PrivateKey
	publicKey  *bls.PublicKey

	publicKeyBytes []byte
}

// NewBLSStrategy creates a new BLS attestation strategy.
func NewBLSStrategy(config *BLSStrategyConfig) (*BLSStrategy, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.NodeID == "" {
		return nil, fmt.Errorf("node ID is required")
	}
	if config.Domain == "" {
		config.Domain = bls.DomainAttestation
	}

	if err := bls.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize BLS library: %w", err)
	}

	s := &BLSStrategy{config: config}

	switch {
	case len(config.PrivateKeyBytes) > 0:
		sk, err := bls.PrivateKeyFromBytes(config.PrivateKeyBytes)
		if err != nil {
			return nil, fmt.Errorf("load BLS private key: %w", err)
		}
		s.privateKey = sk
		s.publicKey = sk.PublicKey()
	case config.KeyPath != "":
		km := bls.NewKeyManager(config.KeyPath)
		if _, err := os.Stat(config.KeyPath); err == nil {
			if err := km.LoadKey(); err != nil {
				return nil, fmt.Errorf("load persisted BLS key: %w", err)
			}
		} else {
			if err := km.GenerateFromNodeID(config.NodeID); err != nil {
				return nil, fmt.Errorf("derive BLS key: %w", err)
			}
			if err := km.SaveKey(); err != nil {
				return nil, fmt.Errorf("persist BLS key: %w", err)
			}
		}
		s.privateKey = km.GetPrivateKey()
		s.publicKey = km.GetPublicKey()
	default:
		sk, pk, err := bls.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate BLS key pair: %w", err)
		}
		s.privateKey = sk
		s.publicKey = pk
	}

	s.publicKeyBytes = s.publicKey.Bytes()
	return s, nil
}

func (s *BLSStrategy) Scheme() AttestationScheme { return AttestationSchemeBLS12381 }

func (s *BLSStrategy) Sign(ctx context.Context, message *AttestationMessage) (*Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messageHash, err := s.ComputeMessageHash(message)
	if err != nil {
		return nil, fmt.Errorf("compute message hash: %w", err)
	}

	signature := s.privateKey.SignWithDomain(messageHash[:], s.config.Domain)

	return &Attestation{
		AttestationID: uuid.New(),
		Scheme:        AttestationSchemeBLS12381,
		NodeID:        s.config.NodeID,
		PublicKey:     s.publicKeyBytes,
		Signature:     signature.Bytes(),
		Message:       message,
		MessageHash:   messageHash,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (s *BLSStrategy) Verify(ctx context.Context, attestation *Attestation) (bool, error) {
	if attestation == nil {
		return false, fmt.Errorf("attestation is nil")
	}
	if attestation.Scheme != AttestationSchemeBLS12381 {
		return false, fmt.Errorf("invalid scheme: expected %s, got %s", AttestationSchemeBLS12381, attestation.Scheme)
	}

	publicKey, err := bls.PublicKeyFromBytes(attestation.PublicKey)
	if err != nil {
		return false, fmt.Errorf("invalid public key: %w", err)
	}
	signature, err := bls.SignatureFromBytes(attestation.Signature)
	if err != nil {
		return false, fmt.Errorf("invalid signature: %w", err)
	}

	return publicKey.VerifyWithDomain(signature, attestation.MessageHash[:], s.config.Domain), nil
}

// Aggregate combines BLS attestations over the same message into a single
// aggregated signature and public key — a coalition of nodes attesting to
// one event collapses to one verification.
func (s *BLSStrategy) Aggregate(ctx context.Context, attestations []*Attestation) (*AggregatedAttestation, error) {
	if len(attestations) == 0 {
		return nil, fmt.Errorf("no attestations to aggregate")
	}

	baseHash := attestations[0].MessageHash
	signatures := make([]*bls.Signature, len(attestations))
	publicKeys := make([]*bls.PublicKey, len(attestations))
	participantIDs := make([]string, len(attestations))
	seen := make(map[string]bool, len(attestations))

	for i, att := range attestations {
		if att.Scheme != AttestationSchemeBLS12381 {
			return nil, fmt.Errorf("attestation %d has wrong scheme: %s", i, att.Scheme)
		}
		if att.MessageHash != baseHash {
			return nil, fmt.Errorf("attestation %d has different message hash", i)
		}
		if seen[string(att.PublicKey)] {
			return nil, fmt.Errorf("duplicate attestation from public key at index %d", i)
		}
		seen[string(att.PublicKey)] = true

		sig, err := bls.SignatureFromBytes(att.Signature)
		if err != nil {
			return nil, fmt.Errorf("invalid signature at index %d: %w", i, err)
		}
		signatures[i] = sig

		pk, err := bls.PublicKeyFromBytes(att.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid public key at index %d: %w", i, err)
		}
		publicKeys[i] = pk

		participantIDs[i] = att.NodeID
	}

	aggSig, err := bls.AggregateSignatures(signatures)
	if err != nil {
		return nil, fmt.Errorf("aggregate signatures: %w", err)
	}
	aggPk, err := bls.AggregatePublicKeys(publicKeys)
	if err != nil {
		return nil, fmt.Errorf("aggregate public keys: %w", err)
	}

	var firstTime, lastTime time.Time
	for _, att := range attestations {
		if firstTime.IsZero() || att.Timestamp.Before(firstTime) {
			firstTime = att.Timestamp
		}
		if att.Timestamp.After(lastTime) {
			lastTime = att.Timestamp
		}
	}

	return &AggregatedAttestation{
		AggregationID:       uuid.New(),
		Scheme:              AttestationSchemeBLS12381,
		MessageHash:         baseHash,
		AggregatedSignature: aggSig.Bytes(),
		AggregatedPublicKey: aggPk.Bytes(),
		Attestations:        attestations,
		ParticipantIDs:      participantIDs,
		ParticipantCount:    len(attestations),
		FirstAttestation:    firstTime,
		LastAttestation:     lastTime,
		AggregatedAt:        time.Now().UTC(),
	}, nil
}

func (s *BLSStrategy) VerifyAggregated(ctx context.Context, agg *AggregatedAttestation) (bool, error) {
	if agg == nil {
		return false, fmt.Errorf("aggregated attestation is nil")
	}
	if agg.Scheme != AttestationSchemeBLS12381 {
		return false, fmt.Errorf("invalid scheme: expected %s, got %s", AttestationSchemeBLS12381, agg.Scheme)
	}

	aggSig, err := bls.SignatureFromBytes(agg.AggregatedSignature)
	if err != nil {
		return false, fmt.Errorf("invalid aggregated signature: %w", err)
	}
	aggPk, err := bls.PublicKeyFromBytes(agg.AggregatedPublicKey)
	if err != nil {
		return false, fmt.Errorf("invalid aggregated public key: %w", err)
	}

	return aggPk.VerifyWithDomain(aggSig, agg.MessageHash[:], s.config.Domain), nil
}

func (s *BLSStrategy) SupportsAggregation() bool { return true }

func (s *BLSStrategy) PublicKey() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publicKeyBytes
}

func (s *BLSStrategy) NodeID() string { return s.config.NodeID }

func (s *BLSStrategy) ComputeMessageHash(message *AttestationMessage) ([32]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return [32]byte{}, fmt.Errorf("marshal message: %w", err)
	}
	return sha256.Sum256(data), nil
}
