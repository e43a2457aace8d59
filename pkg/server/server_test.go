package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/fourmik/aethercore/pkg/crypto"
	"github.com/fourmik/aethercore/pkg/dispatch"
	"github.com/fourmik/aethercore/pkg/event"
	"github.com/fourmik/aethercore/pkg/ledger"
	"github.com/fourmik/aethercore/pkg/merkle"
	"github.com/fourmik/aethercore/pkg/quorum"
	"github.com/fourmik/aethercore/pkg/safety"
	"github.com/fourmik/aethercore/pkg/trust"
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

func TestHandleHealthz(t *testing.T) {
	s := New("node-1", nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["node_id"] != "node-1" {
		t.Errorf("expected node_id node-1, got %q", resp["node_id"])
	}
}

func TestHandleLedgerHealth_NotConfigured(t *testing.T) {
	s := New("node-1", nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/health", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleLedgerEvents_NotConfigured(t *testing.T) {
	s := New("node-1", nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/events?limit=0", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for nil ledger before limit validation, got %d", rr.Code)
	}
}

func TestHandleTrustScore_NotConfigured(t *testing.T) {
	s := New("node-1", nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/trust/", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for nil scorer, got %d", rr.Code)
	}
}

func TestHandlePeers_NotConfigured(t *testing.T) {
	s := New("node-1", nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/peers", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleLedgerProof_NotConfigured(t *testing.T) {
	s := New("node-1", nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/proof?seq=1", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandleLedgerProof_ReturnsProofForRetainedWindow(t *testing.T) {
	signer, err := crypto.NewSigner("node-1")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	resolver := func(string) ([]byte, error) { return signer.PublicKey(), nil }
	l, err := ledger.Open(newMemKV(), "node-1", "mem://", resolver)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}

	ev := event.New("evt-1", event.Telemetry, "node-1", "device-1", 1, 1, crypto.ZeroDigest, map[string]interface{}{"k": "v"})
	if err := ev.Seal(signer); err != nil {
		t.Fatalf("seal event: %v", err)
	}
	if _, err := l.AppendSignedEvent(ev); err != nil {
		t.Fatalf("append event: %v", err)
	}

	window := merkle.NewCheckpointWindow("node-1", 0, 0, 1)
	if err := window.Add(ev.Hash, ev.Timestamp, ev.ChainHeight); err != nil {
		t.Fatalf("add to window: %v", err)
	}
	if _, err := window.Seal(); err != nil {
		t.Fatalf("seal window: %v", err)
	}

	idx := merkle.NewProofIndex(4)
	idx.Add(window)

	s := New("node-1", l, nil, nil, nil, nil, WithProofIndex(idx))

	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/proof?seq=1", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleLedgerProof_UnretainedSequence(t *testing.T) {
	signer, err := crypto.NewSigner("node-1")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	resolver := func(string) ([]byte, error) { return signer.PublicKey(), nil }
	l, err := ledger.Open(newMemKV(), "node-1", "mem://", resolver)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}

	ev := event.New("evt-1", event.Telemetry, "node-1", "device-1", 1, 1, crypto.ZeroDigest, nil)
	if err := ev.Seal(signer); err != nil {
		t.Fatalf("seal event: %v", err)
	}
	if _, err := l.AppendSignedEvent(ev); err != nil {
		t.Fatalf("append event: %v", err)
	}

	s := New("node-1", l, nil, nil, nil, nil, WithProofIndex(merkle.NewProofIndex(4)))

	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/proof?seq=1", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHandleCommands_MethodNotAllowed(t *testing.T) {
	s := New("node-1", nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/commands", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHandleCommands_InvalidHash(t *testing.T) {
	authority := quorum.NewAuthorityVerifier()
	s := New("node-1", nil, nil, nil, nil, authority)

	body := `{"scope":"swarm_small","command_hash":"not-hex","signatures":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestHandleCommands_DeniedInsufficientSignatures(t *testing.T) {
	authority := quorum.NewAuthorityVerifier()
	s := New("node-1", nil, nil, nil, nil, authority)

	hash := strings.Repeat("00", 32)
	body := `{"scope":"swarm_small","command_hash":"` + hash + `","signatures":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a scope requiring signatures with none supplied, got %d", rr.Code)
	}
}

func newTestPipelineServer(t *testing.T) (*Server, *ledger.Ledger, *quorum.AuthorityVerifier, *crypto.Signer, *trust.Scorer, *safety.Supervisor) {
	t.Helper()
	signer, err := crypto.NewSigner("node-1")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	resolver := func(string) ([]byte, error) { return signer.PublicKey(), nil }
	l, err := ledger.Open(newMemKV(), "node-1", "mem://", resolver)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}

	operator, err := crypto.NewSigner("operator-1")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	authority := quorum.NewAuthorityVerifier()
	authority.RegisterAuthority("operator-1", operator.PublicKey())

	executor := func(ctx context.Context, unitID string, command []byte) dispatch.UnitDispatchResult {
		return dispatch.UnitDispatchResult{UnitID: unitID, Kind: dispatch.UnitSuccess}
	}
	dispatcher := dispatch.New("node-1", "device-1", signer, l, executor, 0, 0)

	scorer := trust.NewScorer(trust.DefaultThresholds(), trust.DefaultScoreDeltas(), time.Now)
	supervisor := safety.New(nil)

	s := New("node-1", l, scorer, nil, supervisor, authority, WithDispatcher(dispatcher))
	return s, l, authority, operator, scorer, supervisor
}

func signedCommandBody(t *testing.T, operator *crypto.Signer, targetUnitID string) []byte {
	t.Helper()
	commandHash := crypto.HashBytes([]byte("navigate"))
	sig := quorum.AuthoritySignature{AuthorityID: "operator-1", Signature: operator.Sign(commandHash[:])}
	body, err := json.Marshal(map[string]interface{}{
		"scope":          quorum.ScopeSingleUnitNonCritical,
		"command_hash":   hex.EncodeToString(commandHash[:]),
		"signatures":     []quorum.AuthoritySignature{sig},
		"target_unit_id": targetUnitID,
		"command":        []byte("navigate"),
	})
	if err != nil {
		t.Fatalf("marshal command body: %v", err)
	}
	return body
}

func TestHandleCommands_FullPipelineDispatchesAndAudits(t *testing.T) {
	s, l, _, operator, _, _ := newTestPipelineServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/commands", bytes.NewReader(signedCommandBody(t, operator, "unit-1")))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	latest, err := l.GetLatestEvent()
	if err != nil {
		t.Fatalf("get latest event: %v", err)
	}
	if latest.EventType != event.Audit {
		t.Fatalf("expected an Audit event appended for the dispatch, got %s", latest.EventType)
	}
}

func TestHandleCommands_DeniedByFailVisibleSafetyMode(t *testing.T) {
	s, _, _, operator, _, supervisor := newTestPipelineServer(t)
	supervisor.TriggerSafeState()

	req := httptest.NewRequest(http.MethodPost, "/v1/commands", bytes.NewReader(signedCommandBody(t, operator, "unit-1")))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 while the safety supervisor is fail-visible, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleCommands_DeniedQuarantinedAuthority(t *testing.T) {
	s, _, _, operator, scorer, _ := newTestPipelineServer(t)
	scorer.Revoke("operator-1")

	req := httptest.NewRequest(http.MethodPost, "/v1/commands", bytes.NewReader(signedCommandBody(t, operator, "unit-1")))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a quarantined signer, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleCommands_MissingTargetUnitID(t *testing.T) {
	s, _, _, operator, _, _ := newTestPipelineServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/commands", bytes.NewReader(signedCommandBody(t, operator, "")))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when dispatching without a target, got %d", rr.Code)
	}
}
