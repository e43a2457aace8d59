package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/rs/zerolog"

	"github.com/fourmik/aethercore/pkg/attestation"
	"github.com/fourmik/aethercore/pkg/chain"
	"github.com/fourmik/aethercore/pkg/config"
	"github.com/fourmik/aethercore/pkg/crypto"
	"github.com/fourmik/aethercore/pkg/database"
	"github.com/fourmik/aethercore/pkg/dispatch"
	"github.com/fourmik/aethercore/pkg/gossip"
	"github.com/fourmik/aethercore/pkg/kvdb"
	"github.com/fourmik/aethercore/pkg/ledger"
	"github.com/fourmik/aethercore/pkg/logging"
	"github.com/fourmik/aethercore/pkg/merkle"
	"github.com/fourmik/aethercore/pkg/quorum"
	"github.com/fourmik/aethercore/pkg/safety"
	"github.com/fourmik/aethercore/pkg/server"
	"github.com/fourmik/aethercore/pkg/trust"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		nodeIDFlag = flag.String("node-id", "", "node ID (overrides config/NODE_ID)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Default.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *nodeIDFlag != "" {
		cfg.NodeID = *nodeIDFlag
	}

	log := logging.New(os.Stderr, cfg.LogLevel)
	log.Info().Str("node_id", cfg.NodeID).Str("device_id", cfg.DeviceID).Msg("starting node")

	signer, err := loadOrCreateSigner(cfg.NodeID, cfg.LedgerPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize node signing key")
	}

	publicKeys := map[string][]byte{signer.KeyID(): signer.PublicKey()}
	resolver := func(keyID string) ([]byte, error) {
		if pk, ok := publicKeys[keyID]; ok {
			return pk, nil
		}
		return nil, nil
	}

	dbDir := filepath.Dir(cfg.LedgerPath)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", dbDir).Msg("failed to create ledger directory")
	}
	rawDB, err := dbm.NewGoLevelDB(filepath.Base(cfg.LedgerPath), dbDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger database")
	}
	kv := kvdb.NewKVAdapter(rawDB)

	store, err := ledger.Open(kv, cfg.NodeID, cfg.LedgerPath, ledger.PublicKeyResolver(resolver), ledger.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger store")
	}
	if health := store.GetLedgerHealth(); !health.Status.Ok {
		log.Warn().Str("error_type", health.Status.ErrorType).Str("details", health.Status.Details).Msg("ledger opened in a degraded state")
	}

	// chainManager rebuilds hash-chain continuity in memory: startAggregator
	// feeds it every ledger row from seq 1 on startup, then each newly
	// appended row. The ledger itself is the durable source of truth and
	// re-verifies its own tail on every Open.
	chainManager := chain.NewManager(cfg.NodeID, chain.PublicKeyResolver(resolver))

	scorer := trust.NewScorer(trust.DefaultThresholds(), trust.DefaultScoreDeltas(), time.Now)

	peerTable := gossip.NewTable(cfg.GossipPeerCapacity, gossip.DefaultQuarantineFloor,
		func(nodeID string) float64 {
			score, ok := scorer.ScoreOf(nodeID)
			if !ok {
				return 1.0
			}
			return score.Score
		},
		gossip.WithLogger(log),
	)

	authority := quorum.NewAuthorityVerifier(quorum.WithLogger(log), quorum.WithStrictRegistry(cfg.StrictAuthorityRegistry))

	supervisor := safety.New(func(actuatorID string) {
		log.Warn().Str("actuator_id", actuatorID).Msg("closing actuator due to safe state")
	}, safety.WithLogger(log))

	dispatcher := dispatch.New(cfg.NodeID, cfg.DeviceID, signer, store, fieldExecutor(log), cfg.BatchSizeLimit, 256, dispatch.WithLogger(log))

	attestationStrategy, err := attestation.NewStrategy(cfg.AttestationScheme, cfg.NodeID, cfg.LedgerPath+".attestation.key")
	if err != nil {
		log.Fatal().Err(err).Str("scheme", cfg.AttestationScheme).Msg("failed to initialize attestation strategy")
	}
	log.Info().Str("scheme", string(attestationStrategy.Scheme())).Msg("attestation strategy ready")

	var dbClient *database.Client
	if cfg.Postgres.Enabled() {
		dbClient, err = database.NewClient(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("audit database unavailable, continuing without archival mirror")
			dbClient = nil
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := dbClient.MigrateUp(ctx); err != nil {
				log.Warn().Err(err).Msg("audit database migration failed")
			}
			cancel()
		}
	}

	proofIndex := merkle.NewProofIndex(merkle.DefaultProofIndexCapacity)

	metrics := server.NewMetrics(nil)
	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.New(cfg.NodeID, store, scorer, peerTable, supervisor, authority,
			server.WithLogger(log),
			server.WithMetrics(metrics),
			server.WithDispatcher(dispatcher),
			server.WithProofIndex(proofIndex),
		).Handler(),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stopHeartbeatMonitor := startHeartbeatMonitor(supervisor)
	defer stopHeartbeatMonitor()

	stopAggregator := startAggregator(cfg.NodeID, cfg.WindowSize, store, chainManager, signer, proofIndex, dbClient, log)
	defer stopAggregator()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if dbClient != nil {
		if err := dbClient.Close(); err != nil {
			log.Error().Err(err).Msg("audit database close error")
		}
	}
	if err := rawDB.Close(); err != nil {
		log.Error().Err(err).Msg("ledger database close error")
	}
	log.Info().Msg("stopped")
}

// loadOrCreateSigner loads the node's Ed25519 key from the seed in
// <ledgerPath>.key if that file exists, otherwise generates a new one. A
// generated key is never written to disk, so without that file every run
// uses a fresh key.
func loadOrCreateSigner(nodeID, ledgerPath string) (*crypto.Signer, error) {
	keyPath := ledgerPath + ".key"
	if seed, err := os.ReadFile(keyPath); err == nil {
		return crypto.NewSignerFromSeed(nodeID, seed)
	}
	return crypto.NewSigner(nodeID)
}

// fieldExecutor is the Executor used when no real unit transport is
// configured: it reports success for every command. A deployment with
// actual field units replaces this with a transport that reaches them.
func fieldExecutor(log zerolog.Logger) dispatch.Executor {
	return func(ctx context.Context, unitID string, command []byte) dispatch.UnitDispatchResult {
		log.Debug().Str("unit_id", unitID).Msg("dispatching command (loopback executor)")
		return dispatch.UnitDispatchResult{UnitID: unitID, Kind: dispatch.UnitSuccess}
	}
}

// startHeartbeatMonitor runs the safety supervisor's periodic Evaluate loop
// and returns a function that stops it.
func startHeartbeatMonitor(supervisor *safety.Supervisor) func() {
	ticker := time.NewTicker(time.Second)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				supervisor.Evaluate(time.Now())
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

// startAggregator polls the ledger for events appended since it last ran,
// feeds each into the in-memory chain manager (C4), and folds its hash into
// the current checkpoint window (C5). A full window is sealed and signed
// immediately, then retained in proofIndex so inclusion proofs can still be
// served for its events; broadcasting the resulting checkpoint summary to
// peers is a transport concern left to the gossip engine's caller, which
// this single-process bootstrap does not yet provide. When dbClient is
// non-nil, every polled event and every sealed checkpoint is also mirrored
// into Postgres for archival query access; a mirror failure is logged and
// skipped rather than blocking the ledger, which remains the source of
// truth regardless of the mirror's availability.
func startAggregator(nodeID string, windowSize int, store *ledger.Ledger, manager *chain.Manager, signer *crypto.Signer, proofIndex *merkle.ProofIndex, dbClient *database.Client, log zerolog.Logger) func() {
	ticker := time.NewTicker(2 * time.Second)
	done := make(chan struct{})

	nextSeq := uint64(1)
	windowIndex := uint64(0)
	window := merkle.NewCheckpointWindow(nodeID, windowIndex, 0, windowSize)

	seal := func() {
		if window.Count == 0 {
			return
		}
		if _, err := window.Seal(); err != nil {
			log.Error().Err(err).Msg("failed to seal checkpoint window")
			return
		}
		checkpoint, err := merkle.NewLedgerCheckpoint(nodeID, window)
		if err != nil {
			log.Error().Err(err).Msg("failed to build ledger checkpoint")
			return
		}
		checkpoint.Sign(signer)
		log.Info().
			Uint64("window_index", window.WindowIndex).
			Uint64("start_seq", window.StartSeq).
			Uint64("end_seq", checkpoint.EndSeq).
			Msg("checkpoint window sealed")

		proofIndex.Add(window)

		if dbClient != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := dbClient.MirrorCheckpoint(ctx, checkpoint); err != nil {
				log.Warn().Err(err).Uint64("window_index", checkpoint.Window.WindowIndex).Msg("failed to mirror checkpoint to audit database")
			}
			cancel()
		}

		windowIndex++
		window = merkle.NewCheckpointWindow(nodeID, windowIndex, checkpoint.EndSeq, windowSize)
	}

	poll := func() {
		rows, err := store.IterateEvents(nextSeq, 500)
		if err != nil {
			log.Error().Err(err).Msg("aggregator failed to read ledger events")
			return
		}
		for _, row := range rows {
			ev := row.ToEvent(nodeID)
			if err := manager.AppendToChain(ev); err != nil {
				log.Error().Err(err).Uint64("seq_no", row.SeqNo).Msg("chain manager rejected event")
				continue
			}
			if dbClient != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := dbClient.MirrorEvent(ctx, nodeID, row); err != nil {
					log.Warn().Err(err).Uint64("seq_no", row.SeqNo).Msg("failed to mirror event to audit database")
				}
				cancel()
			}
			if err := window.Add(row.EventHash, row.Timestamp, row.ChainHeight); err != nil {
				log.Error().Err(err).Msg("failed to add event to checkpoint window")
				continue
			}
			if window.Full() {
				seal()
			}
		}
		if len(rows) > 0 {
			nextSeq = rows[len(rows)-1].SeqNo + 1
		}
	}

	go func() {
		for {
			select {
			case <-ticker.C:
				poll()
			case <-done:
				seal() // flush a short window on shutdown
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}
