package server

import (
	"encoding/hex"
	"fmt"

	"github.com/fourmik/aethercore/pkg/crypto"
)

// decodeHexDigest parses a hex-encoded 32-byte digest from the wire.
func decodeHexDigest(s string) (crypto.Digest, error) {
	var d crypto.Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(raw) != crypto.DigestSize {
		return d, fmt.Errorf("digest must be %d bytes, got %d", crypto.DigestSize, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}
