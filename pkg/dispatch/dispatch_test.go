package dispatch

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fourmik/aethercore/pkg/crypto"
	"github.com/fourmik/aethercore/pkg/ledger"
)

type memKV struct{ data map[string][]byte }

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (m *memKV) Set(key, value []byte) error {
	m.data[string(key)] = append([]byte{}, value...)
	return nil
}

func (m *memKV) Iterator(start, end []byte) (ledger.Iterator, error) {
	var keys []string
	for k := range m.data {
		if k >= string(start) && k < string(end) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return &memIterator{keys: keys, kv: m}, nil
}

type memIterator struct {
	keys []string
	pos  int
	kv   *memKV
}

func (it *memIterator) Valid() bool   { return it.pos < len(it.keys) }
func (it *memIterator) Next()         { it.pos++ }
func (it *memIterator) Key() []byte   { return []byte(it.keys[it.pos]) }
func (it *memIterator) Value() []byte { return it.kv.data[it.keys[it.pos]] }
func (it *memIterator) Error() error  { return nil }
func (it *memIterator) Close() error  { return nil }

func newTestDispatcher(t *testing.T, execute Executor) *Dispatcher {
	t.Helper()
	signer, err := crypto.NewSigner("node-1-key")
	require.NoError(t, err)

	resolver := func(string) ([]byte, error) { return signer.PublicKey(), nil }
	l, err := ledger.Open(newMemKV(), "node-1", "mem://", resolver)
	require.NoError(t, err)

	return New("node-1", "device-1", signer, l, execute, 5, 8)
}

func TestDispatchUnitCommand_Success(t *testing.T) {
	d := newTestDispatcher(t, func(ctx context.Context, unitID string, command []byte) UnitDispatchResult {
		return UnitDispatchResult{UnitID: unitID, Kind: UnitSuccess}
	})

	result, err := d.DispatchUnitCommand(context.Background(), "unit-1", []byte("navigate"), nil, 1, 1, crypto.ZeroDigest)
	require.NoError(t, err)
	require.Equal(t, UnitSuccess, result.Kind)

	history := d.History()
	require.Len(t, history, 1)
	require.Equal(t, "unit-1", history[0].TargetID)
}

func TestDispatchSwarmCommand_Aggregates(t *testing.T) {
	d := newTestDispatcher(t, func(ctx context.Context, unitID string, command []byte) UnitDispatchResult {
		if unitID == "unit-2" {
			return UnitDispatchResult{UnitID: unitID, Kind: UnitFailed, Reason: "unreachable"}
		}
		return UnitDispatchResult{UnitID: unitID, Kind: UnitSuccess}
	})

	status, err := d.DispatchSwarmCommand(context.Background(), "swarm-1", []byte("recall"),
		[]string{"unit-1", "unit-2", "unit-3"}, nil, 1, 1, crypto.ZeroDigest)
	require.NoError(t, err)
	require.Equal(t, 2, status.SuccessCount)
	require.Equal(t, 1, status.FailureCount)
	require.Equal(t, 3, status.TotalUnits)
	require.InDelta(t, 66.66, status.CompletionPercent, 0.1)
}

func TestDispatchSwarmCommand_RejectsOverBatchLimit(t *testing.T) {
	d := newTestDispatcher(t, func(ctx context.Context, unitID string, command []byte) UnitDispatchResult {
		return UnitDispatchResult{UnitID: unitID, Kind: UnitSuccess}
	})

	targets := make([]string, 10)
	for i := range targets {
		targets[i] = "unit"
	}

	_, err := d.DispatchSwarmCommand(context.Background(), "swarm-1", []byte("area-scan"), targets, nil, 1, 1, crypto.ZeroDigest)
	var exceeded *BatchSizeExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, 10, exceeded.Got)
	require.Equal(t, 5, exceeded.Limit)
}
