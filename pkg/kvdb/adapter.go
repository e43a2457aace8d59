// Package kvdb wraps a CometBFT-db handle behind the small Get/Set/Iterator
// surface that pkg/ledger needs, so the ledger store stays storage-engine
// agnostic.
package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"

	"github.com/fourmik/aethercore/pkg/ledger"
)

// KVAdapter wraps a CometBFT dbm.DB and exposes the ledger.KV interface.
// This allows ledger.Ledger to use CometBFT's persistent storage directly.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter creates a new KVAdapter for the given underlying DB.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// Get implements ledger.KV.Get
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}

	// CometBFT DB returns (val, error)
	if v, err := a.db.Get(key); err != nil {
		return nil, err
	} else {
		// v may be nil if key not found – that's fine, ledger treats nil as "not present".
		return v, nil
	}
}

// Set implements ledger.KV.Set
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}

	// Use SetSync for durable writes at commit time
	if err := a.db.SetSync(key, value); err != nil {
		return err
	}
	return nil
}

// Iterator implements ledger.KV.Iterator, returning keys in [start, end)
// in ascending order.
func (a *KVAdapter) Iterator(start, end []byte) (ledger.Iterator, error) {
	it, err := a.db.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Iterator mirrors dbm.Iterator's read surface so callers of pkg/kvdb never
// need to import cometbft-db directly.
type Iterator interface {
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}