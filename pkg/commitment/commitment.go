// Package commitment provides RFC8785-like deterministic JSON canonicalization
// shared across the codebase wherever a stable, hash-comparable encoding of
// a structured value is needed (canonical events, gossip summaries).
package commitment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// CanonicalizeJSON takes arbitrary JSON bytes and returns a canonical encoding
// (deterministic key order, stable formatting). This is a simplified RFC8785-like approach.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	canonical := canonicalizeValue(v)
	return json.Marshal(canonical)
}

// canonicalizeValue recursively sorts map keys; arrays retain order.
func canonicalizeValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(map[string]interface{}, len(vv))
		for _, k := range keys {
			ordered[k] = canonicalizeValue(vv[k])
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return vv
	}
}

// HashConcat returns SHA256 of concatenated byte slices.
func HashConcat(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// HashHex returns hex-encoded SHA256 of concatenated byte slices
func HashHex(parts ...[]byte) string {
	return hex.EncodeToString(HashConcat(parts...))
}

// CanonicalizeJSONFromMap takes a map and returns canonical JSON bytes
func CanonicalizeJSONFromMap(m map[string]interface{}) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return CanonicalizeJSON(b)
}

// Note: this package has no four-input hash; pkg/attestation's Hash4
// combines four digests.

// HashBytes returns hex-encoded SHA256 of bytes with 0x prefix
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(h[:])
}

// SHA256Hex is an alias for HashBytes for compatibility
func SHA256Hex(data []byte) string {
	return HashBytes(data)
}

// MarshalCanonical performs simplified RFC 8785-like canonical JSON encoding
func MarshalCanonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return CanonicalizeJSON(raw)
}

// HashCanonical performs canonical JSON encoding and returns SHA-256 hex hash
func HashCanonical(v interface{}) (string, error) {
	canon, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return HashBytes(canon), nil
}