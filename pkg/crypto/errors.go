// Package crypto provides the domain-separated hashing and Ed25519
// signing primitives shared by every other package in the trust mesh.
package crypto

import "errors"

var (
	// ErrBadKey is returned when a key has the wrong length or is otherwise malformed.
	ErrBadKey = errors.New("crypto: bad key")

	// ErrBadSignature is returned when a signature fails verification or has the wrong length.
	ErrBadSignature = errors.New("crypto: bad signature")
)
