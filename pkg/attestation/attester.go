// Package attestation defines the external contract a node's hardware root
// of trust must satisfy (an opaque quote plus the public key it covers) and
// the pluggable signing schemes (pkg/attestation/strategy) a node uses to
// prove possession of that key over ledger events and checkpoints. The
// hardware side — TPM/secure-element drivers, quote parsing — is out of
// scope here; only the interface and the adjunct commitment math are
// implemented.
package attestation

import (
	"context"
	"time"
)

// Quote is an opaque hardware attestation quote: a vendor-specific blob the
// Attester produces that a verifier elsewhere in the fleet can check against
// the hardware manufacturer's root certificate. This package does not parse
// or validate quote contents.
type Quote struct {
	// Format identifies the quote structure, e.g. "tpm2-quote", "sgx-report".
	Format string

	// Data is the raw quote bytes.
	Data []byte

	// PublicKey is the public key the quote attests possession of.
	PublicKey []byte

	// GeneratedAt is when the hardware produced the quote.
	GeneratedAt time.Time
}

// Attester is the hardware root-of-trust contract a node depends on. A real
// implementation talks to a TPM or secure element; this package only
// specifies the shape so pkg/safety and pkg/quorum can depend on it without
// depending on any concrete hardware driver.
type Attester interface {
	// NodeID identifies the node this attester speaks for.
	NodeID() string

	// Quote produces a fresh hardware attestation quote over nonce (to
	// prevent replay of a stale quote as fresh proof of liveness).
	Quote(ctx context.Context, nonce []byte) (*Quote, error)

	// PublicKey returns the node's hardware-rooted public key.
	PublicKey() []byte
}
