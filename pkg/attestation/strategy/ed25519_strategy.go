package strategy

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DomainAttestation is the signing domain for node attestations.
const DomainAttestation = "AETHERCORE_ATTESTATION_V1"

// Ed25519StrategyConfig configures the Ed25519 attestation strategy.
type Ed25519StrategyConfig struct {
	// NodeID is the node identifier this strategy signs on behalf of.
	NodeID string

	// PrivateKey is the Ed25519 private key. If nil, a new key pair is
	// generated.
	PrivateKey ed25519.PrivateKey

	// Domain is the signing domain. Defaults to DomainAttestation.
	Domain string
}

// Ed25519Strategy implements AttestationStrategy for Ed25519.
type Ed25519Strategy struct {
	mu sync.RWMutex

	config *Ed25519StrategyConfig

	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewEd25519Strategy creates a new Ed25519 attestation strategy.
func NewEd25519Strategy(config *Ed25519StrategyConfig) (*Ed25519Strategy, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.NodeID == "" {
		return nil, fmt.Errorf("node ID is required")
	}
	if config.Domain == "" {
		config.Domain = DomainAttestation
	}

	s := &Ed25519Strategy{config: config}

	if len(config.PrivateKey) > 0 {
		if len(config.PrivateKey) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid private key size: expected %d, got %d",
				ed25519.PrivateKeySize, len(config.PrivateKey))
		}
		s.privateKey = config.PrivateKey
		s.publicKey = config.PrivateKey.Public().(ed25519.PublicKey)
	} else {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key pair: %w", err)
		}
		s.privateKey = priv
		s.publicKey = pub
	}

	return s, nil
}

// NewEd25519StrategyFromSeed creates an Ed25519 strategy from a deterministic
// seed, e.g. derived from a hardware key slot.
func NewEd25519StrategyFromSeed(nodeID string, seed []byte) (*Ed25519Strategy, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size: expected %d, got %d", ed25519.SeedSize, len(seed))
	}
	return NewEd25519Strategy(&Ed25519StrategyConfig{
		NodeID:     nodeID,
		PrivateKey: ed25519.NewKeyFromSeed(seed),
	})
}

func (s *Ed25519Strategy) Scheme() AttestationScheme { return AttestationSchemeEd25519 }

func (s *Ed25519Strategy) Sign(ctx context.Context, message *AttestationMessage) (*Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messageHash, err := s.ComputeMessageHash(message)
	if err != nil {
		return nil, fmt.Errorf("compute message hash: %w", err)
	}

	domainMsg := s.createDomainMessage(messageHash[:])
	signature := ed25519.Sign(s.privateKey, domainMsg)

	return &Attestation{
		AttestationID: uuid.New(),
		Scheme:        AttestationSchemeEd25519,
		NodeID:        s.config.NodeID,
		PublicKey:     []byte(s.publicKey),
		Signature:     signature,
		Message:       message,
		MessageHash:   messageHash,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (s *Ed25519Strategy) Verify(ctx context.Context, attestation *Attestation) (bool, error) {
	if attestation == nil {
		return false, fmt.Errorf("attestation is nil")
	}
	if attestation.Scheme != AttestationSchemeEd25519 {
		return false, fmt.Errorf("invalid scheme: expected %s, got %s", AttestationSchemeEd25519, attestation.Scheme)
	}
	if len(attestation.PublicKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size: expected %d, got %d",
			ed25519.PublicKeySize, len(attestation.PublicKey))
	}
	if len(attestation.Signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size: expected %d, got %d",
			ed25519.SignatureSize, len(attestation.Signature))
	}

	domainMsg := s.createDomainMessage(attestation.MessageHash[:])
	return ed25519.Verify(attestation.PublicKey, domainMsg, attestation.Signature), nil
}

// Aggregate collects Ed25519 attestations without cryptographic combination;
// each one must still be verified individually by VerifyAggregated.
func (s *Ed25519Strategy) Aggregate(ctx context.Context, attestations []*Attestation) (*AggregatedAttestation, error) {
	if len(attestations) == 0 {
		return nil, fmt.Errorf("no attestations to aggregate")
	}

	baseHash := attestations[0].MessageHash
	participantIDs := make([]string, len(attestations))
	seen := make(map[string]bool, len(attestations))

	for i, att := range attestations {
		if att.Scheme != AttestationSchemeEd25519 {
			return nil, fmt.Errorf("attestation %d has wrong scheme: %s", i, att.Scheme)
		}
		if att.MessageHash != baseHash {
			return nil, fmt.Errorf("attestation %d has different message hash", i)
		}
		pkHex := hex.EncodeToString(att.PublicKey)
		if seen[pkHex] {
			return nil, fmt.Errorf("duplicate attestation from public key at index %d", i)
		}
		seen[pkHex] = true
		participantIDs[i] = att.NodeID
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
		AggregationID:    uuid.New(),
		Scheme:           AttestationSchemeEd25519,
		MessageHash:      baseHash,
		Attestations:     attestations,
		ParticipantIDs:   participantIDs,
		ParticipantCount: len(attestations),
		FirstAttestation: firstTime,
		LastAttestation:  lastTime,
		AggregatedAt:     time.Now().UTC(),
	}, nil
}

func (s *Ed25519Strategy) VerifyAggregated(ctx context.Context, agg *AggregatedAttestation) (bool, error) {
	if agg == nil {
		return false, fmt.Errorf("aggregated attestation is nil")
	}
	if agg.Scheme != AttestationSchemeEd25519 {
		return false, fmt.Errorf("invalid scheme: expected %s, got %s", AttestationSchemeEd25519, agg.Scheme)
	}
	if len(agg.Attestations) == 0 {
		return false, fmt.Errorf("no attestations to verify")
	}
	for i, att := range agg.Attestations {
		valid, err := s.Verify(ctx, att)
		if err != nil {
			return false, fmt.Errorf("verify attestation %d: %w", i, err)
		}
		if !valid {
			return false, nil
		}
	}
	return true, nil
}

func (s *Ed25519Strategy) SupportsAggregation() bool { return false }

func (s *Ed25519Strategy) PublicKey() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return []byte(s.publicKey)
}

func (s *Ed25519Strategy) NodeID() string { return s.config.NodeID }

func (s *Ed25519Strategy) ComputeMessageHash(message *AttestationMessage) ([32]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return [32]byte{}, fmt.Errorf("marshal message: %w", err)
	}
	return sha256.Sum256(data), nil
}

func (s *Ed25519Strategy) createDomainMessage(messageHash []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(s.config.Domain)
	buf.Write(messageHash)
	hash := sha256.Sum256(buf.Bytes())
	return hash[:]
}
