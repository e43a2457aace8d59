package quorum

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/fourmik/aethercore/pkg/crypto"
	"github.com/fourmik/aethercore/pkg/logging"
)

// AuthoritySignature is one signer's attestation over a command hash.
type AuthoritySignature struct {
	AuthorityID string `json:"authority_id"`
	Signature   []byte `json:"signature"`
	PublicKey   []byte `json:"public_key,omitempty"`
	TimestampNs uint64 `json:"timestamp_ns"`
}

// AuthorityVerifier holds the registry of known authority public keys and
// verifies single and multi-signer command authorizations against it.
type AuthorityVerifier struct {
	mu     sync.RWMutex
	known  map[string][]byte // authority_id -> ed25519 public key
	strict bool
	logger zerolog.Logger
}

// Option configures optional AuthorityVerifier behavior at construction time.
type Option func(*AuthorityVerifier)

// WithLogger sets the structured logger used for denied commands. Defaults
// to a discarding logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(v *AuthorityVerifier) {
		v.logger = logger
	}
}

// WithStrictRegistry controls whether an unregistered authority_id is
// rejected outright (strict, the default) or may still verify using the
// public key embedded in its own AuthoritySignature (bearer-style).
func WithStrictRegistry(strict bool) Option {
	return func(v *AuthorityVerifier) {
		v.strict = strict
	}
}

// NewAuthorityVerifier creates an empty verifier. Strict registry mode is
// on by default: only registered authority_ids are admitted.
func NewAuthorityVerifier(opts ...Option) *AuthorityVerifier {
	v := &AuthorityVerifier{known: make(map[string][]byte), strict: true, logger: logging.Nop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// RegisterAuthority adds or replaces a known authority's public key.
func (v *AuthorityVerifier) RegisterAuthority(authorityID string, publicKey []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.known[authorityID] = append([]byte{}, publicKey...)
}

// IsKnown reports whether authorityID is registered.
func (v *AuthorityVerifier) IsKnown(authorityID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.known[authorityID]
	return ok
}

// Verify checks a single AuthoritySignature over commandHash against the
// registered public key for its authority_id. If the signature carries its
// own PublicKey field (bearer-style, not yet registered), the registry's
// key — when present — takes precedence so callers cannot impersonate a
// known authority with an arbitrary key. An authority_id that isn't
// registered at all is rejected unless the verifier was built with
// WithStrictRegistry(false) and the signature embeds its own public key.
func (v *AuthorityVerifier) Verify(sig AuthoritySignature, commandHash crypto.Digest) error {
	v.mu.RLock()
	registered, known := v.known[sig.AuthorityID]
	strict := v.strict
	v.mu.RUnlock()

	if len(sig.Signature) != 64 {
		return &InvalidSignatureError{AuthorityID: sig.AuthorityID, Reason: "signature must be 64 bytes"}
	}

	pub := registered
	if !known {
		if strict || len(sig.PublicKey) == 0 {
			return ErrUnknownAuthority
		}
		pub = sig.PublicKey
	} else if len(sig.PublicKey) > 0 && !crypto.ConstantTimeEqual(sig.PublicKey, registered) {
		return &InvalidSignatureError{AuthorityID: sig.AuthorityID, Reason: "public key mismatch with registered authority"}
	}

	if !crypto.Verify(pub, commandHash[:], sig.Signature) {
		return &InvalidSignatureError{AuthorityID: sig.AuthorityID, Reason: "verification failed"}
	}
	return nil
}

// VerifyMultiple verifies every signature in sigs over commandHash,
// rejecting duplicate signer ids and failing fast on the first invalid or
// unknown authority. On success it returns the distinct, verified
// authority ids.
func (v *AuthorityVerifier) VerifyMultiple(sigs []AuthoritySignature, commandHash crypto.Digest) ([]string, error) {
	seen := make(map[string]bool, len(sigs))
	verified := make([]string, 0, len(sigs))

	for _, sig := range sigs {
		if seen[sig.AuthorityID] {
			return nil, ErrDuplicateNode
		}
		seen[sig.AuthorityID] = true

		if err := v.Verify(sig, commandHash); err != nil {
			return nil, err
		}
		verified = append(verified, sig.AuthorityID)
	}

	return verified, nil
}

// AdmitCommand runs the full quorum check for a scope: verifies every
// signature, rejects duplicates/unknowns, and compares the number of
// distinct verified signers against the scope's required threshold. An
// emergency-scope command bypasses the quorum count: one verified signature
// admits it, and every signature present is still verified.
func (v *AuthorityVerifier) AdmitCommand(scope Scope, sigs []AuthoritySignature, commandHash crypto.Digest) error {
	req := RequirementFor(scope)

	verified, err := v.VerifyMultiple(sigs, commandHash)
	if err != nil {
		v.logger.Warn().Str("scope", string(scope)).Str("error_kind", "Security").Err(err).Msg("command denied")
		return err
	}

	if req.BypassesQuorum && len(verified) > 0 {
		return nil
	}

	if len(verified) < req.Threshold {
		err := &InsufficientSignaturesError{Got: len(verified), Required: req.Threshold}
		v.logger.Warn().Str("scope", string(scope)).Str("error_kind", "Security").Err(err).Msg("command denied")
		return err
	}
	return nil
}
