package bls

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// KeyManager handles BLS key persistence for a single node: load an
// existing key from disk, or generate and save a new one.
type KeyManager struct {
	keyPath    string
	privateKey *PrivateKey
	publicKey  *PublicKey
}

// NewKeyManager creates a key manager rooted at keyPath. An empty keyPath
// means the key is never persisted.
func NewKeyManager(keyPath string) *KeyManager {
	return &KeyManager{
		keyPath: keyPath,
	}
}

// LoadOrGenerateKey loads the key at keyPath if it exists, otherwise
// generates and persists a new one.
func (km *KeyManager) LoadOrGenerateKey() error {
	if err := Initialize(); err != nil {
		return fmt.Errorf("initialize BLS: %w", err)
	}

	if km.keyPath != "" {
		if _, err := os.Stat(km.keyPath); err == nil {
			return km.LoadKey()
		}
	}

	return km.GenerateNewKey()
}

// LoadKey loads an existing BLS key from the key path.
func (km *KeyManager) LoadKey() error {
	if km.keyPath == "" {
		return fmt.Errorf("no key path specified")
	}

	data, err := os.ReadFile(km.keyPath)
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}

	keyBytes, err := hex.DecodeString(string(data))
	if err != nil {
		return fmt.Errorf("decode key hex: %w", err)
	}

	km.privateKey, err = PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}

	km.publicKey = km.privateKey.PublicKey()
	return nil
}

// GenerateNewKey generates a new BLS key pair, saving it if a path was
// configured.
func (km *KeyManager) GenerateNewKey() error {
	var err error
	km.privateKey, km.publicKey, err = GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}

	if km.keyPath != "" {
		return km.SaveKey()
	}

	return nil
}

// GenerateFromSeed generates a deterministic key pair from a seed.
func (km *KeyManager) GenerateFromSeed(seed []byte) error {
	var err error
	km.privateKey, km.publicKey, err = GenerateKeyPairFromSeed(seed)
	if err != nil {
		return fmt.Errorf("generate from seed: %w", err)
	}
	return nil
}

// GenerateFromNodeID derives a deterministic key from a node ID, so a
// node's BLS identity is stable across restarts even without a persisted
// key file.
func (km *KeyManager) GenerateFromNodeID(nodeID string) error {
	seed := sha256.Sum256([]byte(fmt.Sprintf("AETHERCORE_BLS_KEY_V1:%s", nodeID)))
	return km.GenerateFromSeed(seed[:])
}

// SaveKey saves the private key to the key path.
func (km *KeyManager) SaveKey() error {
	if km.keyPath == "" {
		return fmt.Errorf("no key path specified")
	}
	if km.privateKey == nil {
		return fmt.Errorf("no private key to save")
	}

	dir := filepath.Dir(km.keyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	keyHex := hex.EncodeToString(km.privateKey.Bytes())
	if err := os.WriteFile(km.keyPath, []byte(keyHex), 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}

	return nil
}

// GetPrivateKey returns the private key.
func (km *KeyManager) GetPrivateKey() *PrivateKey {
	return km.privateKey
}

// GetPublicKey returns the public key.
func (km *KeyManager) GetPublicKey() *PublicKey {
	return km.publicKey
}

// GetPublicKeyBytes returns the public key as bytes.
func (km *KeyManager) GetPublicKeyBytes() []byte {
	if km.publicKey == nil {
		return nil
	}
	return km.publicKey.Bytes()
}

// GetPublicKeyHex returns the public key as a hex string.
func (km *KeyManager) GetPublicKeyHex() string {
	if km.publicKey == nil {
		return ""
	}
	return km.publicKey.Hex()
}

// Sign signs a message with the private key.
func (km *KeyManager) Sign(message []byte) (*Signature, error) {
	if km.privateKey == nil {
		return nil, fmt.Errorf("no private key loaded")
	}
	return km.privateKey.Sign(message), nil
}

// SignWithDomain signs a message with domain separation.
func (km *KeyManager) SignWithDomain(message []byte, domain string) (*Signature, error) {
	if km.privateKey == nil {
		return nil, fmt.Errorf("no private key loaded")
	}
	return km.privateKey.SignWithDomain(message, domain), nil
}

// GetPrivateKeyBytes returns the private key as bytes.
func (km *KeyManager) GetPrivateKeyBytes() []byte {
	if km.privateKey == nil {
		return nil
	}
	return km.privateKey.Bytes()
}
