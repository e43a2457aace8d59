package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
)

// Signer wraps an Ed25519 key pair and signs message digests in constant
// time with respect to key material (Go's ed25519 implementation already
// avoids key-dependent branching and table lookups).
type Signer struct {
	keyID      string
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewSigner generates a fresh Ed25519 key pair for the given key identifier.
func NewSigner(keyID string) (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Signer{keyID: keyID, privateKey: priv, publicKey: pub}, nil
}

// NewSignerFromSeed derives a deterministic Ed25519 key pair from a 32-byte seed.
func NewSignerFromSeed(keyID string, seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrBadKey
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{
		keyID:      keyID,
		privateKey: priv,
		publicKey:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// KeyID returns the signer's public key identifier.
func (s *Signer) KeyID() string {
	return s.keyID
}

// PublicKey returns the raw 32-byte Ed25519 public key.
func (s *Signer) PublicKey() []byte {
	out := make([]byte, len(s.publicKey))
	copy(out, s.publicKey)
	return out
}

// Sign signs a digest (or any message) and returns a 64-byte Ed25519 signature.
func (s *Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.privateKey, message)
}

// Verify verifies a signature produced by Sign against this signer's own
// public key.
func (s *Signer) Verify(message, signature []byte) bool {
	return Verify(s.publicKey, message, signature)
}

// Verify checks an Ed25519 signature against an arbitrary public key. It
// returns false (never an error) for malformed inputs so callers can treat
// "invalid" and "forged" uniformly as verification failure.
func Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// ConstantTimeEqual compares two byte slices without leaking timing
// information about where they first differ. Used to compare recomputed
// hashes against stored ones during ledger integrity checks.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
