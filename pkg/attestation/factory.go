package attestation

import (
	"fmt"

	"github.com/fourmik/aethercore/pkg/attestation/strategy"
)

// NewStrategy constructs the attestation strategy named by scheme ("ed25519"
// or "bls12-381") for nodeID. The Ed25519 strategy ignores keyPath and
// generates a fresh key pair. The BLS strategy, when keyPath is non-empty,
// loads its key from that file, or derives one from nodeID and saves it
// there if the file is absent.
func NewStrategy(scheme, nodeID, keyPath string) (strategy.AttestationStrategy, error) {
	switch strategy.AttestationScheme(scheme) {
	case strategy.AttestationSchemeEd25519:
		return strategy.NewEd25519Strategy(&strategy.Ed25519StrategyConfig{NodeID: nodeID})
	case strategy.AttestationSchemeBLS12381:
		return strategy.NewBLSStrategy(&strategy.BLSStrategyConfig{NodeID: nodeID, KeyPath: keyPath})
	default:
		return nil, fmt.Errorf("unsupported attestation scheme %q", scheme)
	}
}
