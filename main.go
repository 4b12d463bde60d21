// Copyright 2025 Certen Protocol
//
// Entry point for a single validator node: loads configuration, opens
// the database and KV safety store, wires the epoch oracle and signing
// strategy registries, and exposes the consensus engine's health and
// metrics surface. The consensus task loop itself (gossip transport,
// view timers) is owned by the networking layer and is out of scope
// for this binary.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen-shard/validator-core/pkg/blockstore"
	"github.com/certen-shard/validator-core/pkg/config"
	"github.com/certen-shard/validator-core/pkg/consensus"
	"github.com/certen-shard/validator-core/pkg/crypto/bls"
	"github.com/certen-shard/validator-core/pkg/crypto/sign"
	"github.com/certen-shard/validator-core/pkg/crossshard"
	"github.com/certen-shard/validator-core/pkg/database"
	"github.com/certen-shard/validator-core/pkg/epoch"
	"github.com/certen-shard/validator-core/pkg/kvdb"
	"github.com/certen-shard/validator-core/pkg/ledger"
	"github.com/certen-shard/validator-core/pkg/metrics"
	"github.com/certen-shard/validator-core/pkg/pool"
	"github.com/certen-shard/validator-core/pkg/substate"
	"github.com/certen-shard/validator-core/pkg/types"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to node configuration")
	flag.Parse()

	logger := log.New(os.Stdout, "[validator] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	n, err := newNode(cfg, logger)
	if err != nil {
		logger.Fatalf("initialize node: %v", err)
	}
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go n.serveMonitoring(ctx, cfg.Monitoring)

	logger.Printf("validator node up (shard_group=%d, identifier=%s)", cfg.Identity.ShardGroup, n.self.Hex())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("received signal %s, shutting down", sig)
}

// node bundles every component wired at startup for one (shard_group)
// validator process.
type node struct {
	logger *log.Logger

	db     *database.Client
	kvDB   dbm.DB
	ledger *ledger.Store

	metricsRegistry *prometheus.Registry
	metrics         *metrics.Metrics

	self types.PublicKey

	oracleRegistry *epoch.Registry
	signRegistry   *sign.Registry

	substates  *substate.Store
	blocks     *blockstore.Store
	pool       *pool.Pool
	crossShard *crossshard.Coordinator
	engine     *consensus.Engine
}

func newNode(cfg *config.NodeConfig, logger *log.Logger) (*node, error) {
	dbClient, err := database.NewClient(&cfg.Database, database.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := dbClient.MigrateUp(context.Background()); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	kvPath := fmt.Sprintf("validator-shard-%d", cfg.Identity.ShardGroup)
	kvDB, err := dbm.NewGoLevelDB(kvPath, ".")
	if err != nil {
		return nil, fmt.Errorf("open kv safety store: %w", err)
	}
	ledgerStore := ledger.NewStore(kvdb.NewKVAdapter(kvDB))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	keyManager := bls.NewKeyManager(cfg.Identity.BLSKeyPath)
	if err := keyManager.LoadOrGenerateKey(); err != nil {
		return nil, fmt.Errorf("load validator key: %w", err)
	}
	self := sign.IdentifierForBLSKey(keyManager.GetPublicKey())

	blockRepo := database.NewBlockRepository(dbClient)
	substateRepo := database.NewSubstateRepository(dbClient)
	lockRepo := database.NewLockRepository(dbClient)
	poolRepo := database.NewPoolRepository(dbClient)
	crossShardRepo := database.NewCrossShardRepository(dbClient)
	singletonRepo := database.NewSingletonRepository(dbClient)

	substateStore := substate.NewStore(substateRepo, lockRepo)
	txPool := pool.New(poolRepo, m, cfg.CrossShard.MinForeignQuorumFraction)
	blockStore := blockstore.New(blockRepo, ledgerStore, substateStore, txPool, singletonRepo, m)
	shardGroup := types.ShardGroup(cfg.Identity.ShardGroup)
	coordinator := crossshard.New(crossShardRepo, txPool, m, shardGroup)

	committee := &epoch.Committee{
		Epoch:           types.Epoch(0),
		ShardGroup:      shardGroup,
		Members:         []types.PublicKey{self},
		QuorumThreshold: 1,
	}
	staticOracle := epoch.NewStaticOracle(types.Epoch(0), map[types.ShardGroup]*epoch.Committee{shardGroup: committee})

	oracleRegistry := epoch.NewRegistry()
	if err := oracleRegistry.Register(cfg.Identity.OracleSource, staticOracle); err != nil {
		return nil, fmt.Errorf("register epoch oracle: %w", err)
	}
	activeOracle, err := oracleRegistry.Active()
	if err != nil {
		return nil, fmt.Errorf("resolve active oracle: %w", err)
	}

	keyDirectory := epoch.NewStaticKeyDirectory([]*bls.PublicKey{keyManager.GetPublicKey()})
	blsStrategy := sign.NewBLSStrategy(keyManager, keyDirectory)
	signRegistry := sign.NewRegistry()
	if err := signRegistry.Register(blsStrategy); err != nil {
		return nil, fmt.Errorf("register signing strategy: %w", err)
	}

	engine := consensus.New(self, shardGroup, activeOracle, blsStrategy, ledgerStore, blockStore, txPool, m, consensus.Config{
		MaxProposalBytes:     cfg.Consensus.MaxProposalBytes,
		MaxCommandsPerBlock:  cfg.Consensus.MaxCommandsPerBlock,
		MaxLeaderFeePerBlock: cfg.Consensus.MaxLeaderFeePerBlock,
		StalenessBound:       cfg.Consensus.ViewTimeout.Duration(),
		MissedProposalCap:    cfg.Consensus.MissedProposalCap,
	})
	consensus.SetCommandMerkleRootFunc(substate.CommandMerkleRoot)

	return &node{
		logger:          logger,
		db:              dbClient,
		kvDB:            kvDB,
		ledger:          ledgerStore,
		metricsRegistry: reg,
		metrics:         m,
		self:            self,
		oracleRegistry:  oracleRegistry,
		signRegistry:    signRegistry,
		substates:       substateStore,
		blocks:          blockStore,
		pool:            txPool,
		crossShard:      coordinator,
		engine:          engine,
	}, nil
}

func (n *node) Close() {
	if n.kvDB != nil {
		_ = n.kvDB.Close()
	}
	if n.db != nil {
		_ = n.db.Close()
	}
}

// serveMonitoring exposes Prometheus metrics and a liveness/health
// endpoint for the lifetime of the process.
func (n *node) serveMonitoring(ctx context.Context, cfg config.MonitoringSettings) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.metricsRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, err := n.db.Health(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	addr := cfg.HealthAddr
	if addr == "" {
		addr = ":8081"
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	n.logger.Printf("monitoring endpoint listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Printf("monitoring server stopped: %v", err)
	}
}
