// Package server exposes the node's HTTP status surface: liveness, ledger
// health and event browsing, trust scores, the gossip peer table, safety
// mode, and a dev/test command submission endpoint. Registration follows
// the teacher's preference for explicit http.ServeMux wiring over a router
// framework.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fourmik/aethercore/pkg/crypto"
	"github.com/fourmik/aethercore/pkg/dispatch"
	"github.com/fourmik/aethercore/pkg/gossip"
	"github.com/fourmik/aethercore/pkg/ledger"
	"github.com/fourmik/aethercore/pkg/logging"
	"github.com/fourmik/aethercore/pkg/merkle"
	"github.com/fourmik/aethercore/pkg/quorum"
	"github.com/fourmik/aethercore/pkg/safety"
	"github.com/fourmik/aethercore/pkg/trust"
)

// Metrics holds the process-wide Prometheus counters the server exposes at
// /metrics, named directly per the event-ledger component's counters.
type Metrics struct {
	EventsAppendedTotal    prometheus.Counter
	CommandsDispatchedTotal *prometheus.CounterVec
	CommandsDeniedTotal    prometheus.Counter
}

// NewMetrics registers and returns the server's metric set against reg. Pass
// prometheus.NewRegistry() for an isolated registry, or nil to use the
// default global one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		EventsAppendedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_events_appended_total",
			Help: "Total number of events appended to the local ledger.",
		}),
		CommandsDispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commands_dispatched_total",
			Help: "Total number of commands dispatched, by outcome.",
		}, []string{"outcome"}),
		CommandsDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commands_denied_total",
			Help: "Total number of commands denied by the quorum gate.",
		}),
	}
	reg.MustRegister(m.EventsAppendedTotal, m.CommandsDispatchedTotal, m.CommandsDeniedTotal)
	return m
}

// Server wires the node's core components to HTTP handlers.
type Server struct {
	nodeID     string
	ledger     *ledger.Ledger
	scorer     *trust.Scorer
	table      *gossip.Table
	supervisor *safety.Supervisor
	authority  *quorum.AuthorityVerifier
	dispatcher *dispatch.Dispatcher
	proofIndex *merkle.ProofIndex
	metrics    *Metrics
	logger     zerolog.Logger

	mux *http.ServeMux
}

// Option configures optional Server behavior at construction time.
type Option func(*Server)

// WithLogger sets the structured logger used for request logging.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics attaches a Metrics set, enabling /metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithDispatcher attaches the command dispatcher backing POST /v1/commands.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(s *Server) { s.dispatcher = d }
}

// WithProofIndex attaches the recently-sealed-checkpoint index backing
// GET /v1/ledger/proof.
func WithProofIndex(idx *merkle.ProofIndex) Option {
	return func(s *Server) { s.proofIndex = idx }
}

// New creates a Server and registers its routes against a fresh ServeMux.
func New(nodeID string, l *ledger.Ledger, scorer *trust.Scorer, table *gossip.Table, supervisor *safety.Supervisor, authority *quorum.AuthorityVerifier, opts ...Option) *Server {
	s := &Server{
		nodeID:     nodeID,
		ledger:     l,
		scorer:     scorer,
		table:      table,
		supervisor: supervisor,
		authority:  authority,
		logger:     logging.Nop(),
		mux:        http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Handler returns the server's http.Handler for use with http.Server or
// httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/ledger/health", s.handleLedgerHealth)
	s.mux.HandleFunc("/v1/ledger/events", s.handleLedgerEvents)
	s.mux.HandleFunc("/v1/ledger/proof", s.handleLedgerProof)
	s.mux.HandleFunc("/v1/trust/", s.handleTrustScore)
	s.mux.HandleFunc("/v1/peers", s.handlePeers)
	s.mux.HandleFunc("/v1/safety", s.handleSafety)
	s.mux.HandleFunc("/v1/commands", s.handleCommands)
	if s.metrics != nil {
		s.mux.Handle("/metrics", promhttp.Handler())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "node_id": s.nodeID})
}

func (s *Server) handleLedgerHealth(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.GetLedgerHealth())
}

func (s *Server) handleLedgerEvents(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}

	from := uint64(1)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from parameter")
			return
		}
		from = parsed
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	rows, err := s.ledger.IterateEvents(from, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleLedgerProof returns a Merkle inclusion proof for the event at the
// given sequence number against the sealed checkpoint window that covers
// it, if one is still retained in the proof index.
func (s *Server) handleLedgerProof(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil || s.proofIndex == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger proof serving not configured")
		return
	}

	seqStr := r.URL.Query().Get("seq")
	if seqStr == "" {
		writeError(w, http.StatusBadRequest, "seq is required")
		return
	}
	seqNo, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid seq parameter")
		return
	}

	row, err := s.ledger.GetEventBySeqNo(seqNo)
	if err != nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	window, ok := s.proofIndex.FindBySeq(seqNo)
	if !ok {
		writeError(w, http.StatusNotFound, "no retained checkpoint covers this sequence number")
		return
	}

	proof, err := window.Proof(row.EventHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"node_id":      window.NodeID,
		"window_index": window.WindowIndex,
		"merkle_root":  window.MerkleRoot,
		"proof":        proof,
	})
}

func (s *Server) handleTrustScore(w http.ResponseWriter, r *http.Request) {
	if s.scorer == nil {
		writeError(w, http.StatusServiceUnavailable, "trust scorer not configured")
		return
	}
	nodeID := r.URL.Path[len("/v1/trust/"):]
	if nodeID == "" {
		writeError(w, http.StatusBadRequest, "node_id is required")
		return
	}
	score, ok := s.scorer.ScoreOf(nodeID)
	if !ok {
		writeError(w, http.StatusNotFound, "no trust score recorded for node")
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if s.table == nil {
		writeError(w, http.StatusServiceUnavailable, "gossip table not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.table.Peers())
}

func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	if s.supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "safety supervisor not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode": s.supervisor.Mode(),
	})
}

// commandRequest is the dev/test wire shape for POST /v1/commands. A
// production transport is out of scope; this exists so the quorum gate,
// safety supervisor, trust scorer, and dispatcher can be exercised
// end-to-end without a real field link. Command is JSON base64 per
// encoding/json's standard []byte handling.
type commandRequest struct {
	Scope         quorum.Scope                `json:"scope"`
	CommandHash   string                      `json:"command_hash"`
	Signatures    []quorum.AuthoritySignature `json:"signatures"`
	Action        string                      `json:"action,omitempty"`
	Command       []byte                      `json:"command,omitempty"`
	TargetUnitID  string                      `json:"target_unit_id,omitempty"`
	TargetUnitIDs []string                    `json:"target_unit_ids,omitempty"`
	SwarmID       string                      `json:"swarm_id,omitempty"`
}

func (r *commandRequest) safetyCommand() safety.Command {
	switch r.Action {
	case "close":
		return safety.CommandClose
	case "emergency_shutdown":
		return safety.CommandEmergencyShutdown
	default:
		if r.Scope == quorum.ScopeEmergencyStop {
			return safety.CommandEmergencyShutdown
		}
		return safety.CommandOpen
	}
}

// handleCommands runs an admitted command through the full pipeline: the
// quorum gate (C8) verifies signatures and threshold, the safety supervisor
// (C10) gates the action against the current system mode, the trust scorer
// (C7) rejects any signer that has been quarantined, and the dispatcher (C9)
// fans the command out and appends its own audit event to the ledger. Any
// stage whose dependency was not supplied to New is skipped rather than
// failing the request, so this endpoint degrades to quorum-only admission
// when wired with just an AuthorityVerifier (see the server package tests).
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if s.authority == nil {
		writeError(w, http.StatusServiceUnavailable, "authority verifier not configured")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hashBytes, err := decodeHexDigest(req.CommandHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid command_hash")
		return
	}

	if err := s.authority.AdmitCommand(req.Scope, req.Signatures, hashBytes); err != nil {
		if s.metrics != nil {
			s.metrics.CommandsDeniedTotal.Inc()
		}
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	if s.supervisor != nil {
		if err := s.supervisor.CheckCommand(req.safetyCommand()); err != nil {
			if s.metrics != nil {
				s.metrics.CommandsDeniedTotal.Inc()
			}
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
	}

	if s.scorer != nil {
		verified, _ := s.authority.VerifyMultiple(req.Signatures, hashBytes)
		for _, authorityID := range verified {
			score, hasScore := s.scorer.ScoreOf(authorityID)
			if hasScore && score.Level == trust.LevelQuarantined {
				if s.metrics != nil {
					s.metrics.CommandsDeniedTotal.Inc()
				}
				writeError(w, http.StatusForbidden, "authority "+authorityID+" is quarantined")
				return
			}
		}
	}

	if s.dispatcher == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "admitted"})
		return
	}

	seq, height, prevHash, err := s.nextChainPosition()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	swarm := len(req.TargetUnitIDs) > 0
	outcome := "dispatched"
	var result interface{}
	if swarm {
		status, err := s.dispatcher.DispatchSwarmCommand(r.Context(), req.SwarmID, req.Command, req.TargetUnitIDs, req.Signatures, seq, height, prevHash)
		if err != nil {
			outcome = "failed"
			if s.metrics != nil {
				s.metrics.CommandsDispatchedTotal.WithLabelValues(outcome).Inc()
			}
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		result = status
	} else {
		if req.TargetUnitID == "" {
			writeError(w, http.StatusBadRequest, "target_unit_id or target_unit_ids is required")
			return
		}
		dispatchResult, err := s.dispatcher.DispatchUnitCommand(r.Context(), req.TargetUnitID, req.Command, req.Signatures, seq, height, prevHash)
		if err != nil {
			outcome = "failed"
			if s.metrics != nil {
				s.metrics.CommandsDispatchedTotal.WithLabelValues(outcome).Inc()
			}
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		result = dispatchResult
	}

	if s.metrics != nil {
		s.metrics.CommandsDispatchedTotal.WithLabelValues(outcome).Inc()
	}
	writeJSON(w, http.StatusOK, result)
}

// nextChainPosition returns the (seq, height, prevHash) a freshly dispatched
// command's audit event must carry to extend the ledger's current tail,
// genesis values on an empty ledger.
func (s *Server) nextChainPosition() (seq, height uint64, prevHash crypto.Digest, err error) {
	latest, err := s.ledger.GetLatestEvent()
	if err == ledger.ErrNotFound {
		return 1, 1, crypto.ZeroDigest, nil
	}
	if err != nil {
		return 0, 0, crypto.Digest{}, err
	}
	return latest.SeqNo + 1, latest.ChainHeight + 1, latest.EventHash, nil
}
