// Command server runs the talent discovery engine: HTTP/WebSocket API,
// background index maintenance, memory consolidation and health loops.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/castmesh/castmesh/pkg/api"
	"github.com/castmesh/castmesh/pkg/cache"
	"github.com/castmesh/castmesh/pkg/completion"
	"github.com/castmesh/castmesh/pkg/config"
	"github.com/castmesh/castmesh/pkg/conversation"
	"github.com/castmesh/castmesh/pkg/embedding"
	"github.com/castmesh/castmesh/pkg/experiment"
	"github.com/castmesh/castmesh/pkg/health"
	"github.com/castmesh/castmesh/pkg/indexer"
	"github.com/castmesh/castmesh/pkg/memory"
	"github.com/castmesh/castmesh/pkg/nlp"
	"github.com/castmesh/castmesh/pkg/observability"
	"github.com/castmesh/castmesh/pkg/profiles"
	"github.com/castmesh/castmesh/pkg/ranking"
	"github.com/castmesh/castmesh/pkg/search"
	"github.com/castmesh/castmesh/pkg/vector"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger("castmesh")
	metrics := observability.NewMetricsClient()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// cache tiers: in-process LRU in front of optional Redis
	local, err := cache.NewLRUStore(cfg.Cache.LocalLRUSize)
	if err != nil {
		return err
	}
	var remote cache.Store
	if cfg.Cache.RedisURL != "" {
		remote, err = cache.NewRedisStore(cfg.Cache.RedisURL)
		if err != nil {
			return err
		}
	}
	tiered := cache.NewTieredCache(local, remote, cache.NewCompressor(cfg.Cache.CompressMin), logger, metrics)
	embedCache := cache.NewEmbeddingCache(tiered, cfg.Cache.EmbeddingTTL)
	convCache := cache.NewConversationCache(tiered, cfg.Cache.ConversationTTL)

	// embedding: remote provider when configured, deterministic local otherwise
	var embedProvider embedding.Provider
	if cfg.Embedding.Endpoint != "" {
		embedProvider, err = embedding.NewHTTPProvider(embedding.HTTPProviderConfig{
			Endpoint:   cfg.Embedding.Endpoint,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout,
		}, logger)
		if err != nil {
			return err
		}
	} else {
		embedProvider = embedding.NewLocalProvider(cfg.Embedding.Dimensions)
	}
	embedder := embedding.NewService(embedProvider, embedCache, cfg.Embedding.BatchSize, logger, metrics)

	index, err := buildIndex(cfg.Vector, cfg.Embedding.Dimensions, logger, metrics)
	if err != nil {
		return err
	}
	defer func() { _ = index.Close() }()

	// persistence: postgres when a DSN is configured, in-memory otherwise
	var db *sqlx.DB
	var store profiles.Store
	var episodic memory.EpisodicStore
	if cfg.Database.DSN != "" {
		db, err = sqlx.Connect("postgres", cfg.Database.DSN)
		if err != nil {
			return err
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		defer func() { _ = db.Close() }()

		if _, err := db.Exec(profiles.Schema); err != nil {
			return err
		}
		store = profiles.NewPostgresStore(db, logger)
		episodic, err = memory.NewPostgresEpisodicStore(db)
		if err != nil {
			return err
		}
	} else {
		store = profiles.NewMemoryStore()
		episodic = memory.NewMemoryEpisodicStore()
	}
	defer func() { _ = episodic.Close() }()

	searcher := search.NewEngine(embedder, index, store, nil, search.DefaultWeights, logger, metrics)
	ranker := ranking.NewEngine(store, ranking.NewChemistryCache(), logger, metrics)

	// memory tiers and consolidation
	stm := memory.NewShortTermMemory(cfg.Memory.STMCapacity, cfg.Memory.STMTTL, convCache, logger, metrics)
	graph := memory.NewGraph()
	procedural := memory.NewProceduralStore(0)
	consolidator := memory.NewConsolidator(stm, episodic, graph, procedural, embedder, memory.ConsolidatorConfig{
		Period:             cfg.Memory.ConsolidationPeriod,
		Cutoff:             cfg.Memory.ConsolidationCutoff,
		PruneRetention:     cfg.Memory.PruneRetentionCutoff,
		PruneImportanceMax: cfg.Memory.PruneImportanceMax,
		CompressionCosine:  cfg.Memory.CompressionCosine,
	}, logger, metrics)

	// experiments with a durable result log
	resultLog, err := experiment.NewFileResultLog("data/experiments/results.jsonl")
	if err != nil {
		return err
	}
	harness := experiment.NewHarness(nil, resultLog, logger, metrics)
	if err := harness.Register(experiment.Experiment{
		Name: "ranking-v2",
		Variants: []experiment.Variant{
			{Name: "control", Weight: 0.5},
			{Name: "reranked", Weight: 0.5},
		},
		StartTime:            time.Now(),
		MinSamplesPerVariant: 100,
		PrimaryMetric:        "response_time_ms",
	}); err != nil {
		return err
	}

	var provider completion.Provider
	if cfg.Completion.Endpoint != "" {
		provider, err = completion.NewHTTPProvider(completion.HTTPProviderConfig{
			Endpoint:    cfg.Completion.Endpoint,
			APIKey:      cfg.Completion.APIKey,
			Model:       cfg.Completion.Model,
			MaxTokens:   cfg.Completion.MaxTokens,
			Temperature: cfg.Completion.Temperature,
			Timeout:     cfg.Completion.Timeout,
		}, logger)
		if err != nil {
			return err
		}
	} else {
		provider = completion.NewStaticProvider()
	}

	orch, err := conversation.NewOrchestrator(conversation.Config{
		Analyzer:     nlp.NewAnalyzer(embedder, logger, metrics),
		STM:          stm,
		STMCapacity:  cfg.Memory.STMCapacity,
		Episodic:     episodic,
		Consolidator: consolidator,
		Embedder:     embedder,
		Searcher:     searcher,
		Ranker:       ranker,
		Provider:     provider,
		Experiments:  harness,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}

	indexMgr := indexer.NewManager(indexer.Config{
		DrainInterval: cfg.Indexer.DrainInterval,
		BatchSize:     cfg.Indexer.BatchSize,
		QueueCapacity: cfg.Indexer.QueueCapacity,
		MaxRetries:    cfg.Indexer.MaxRetries,
	}, embedder, index, store, logger, metrics)

	checker := health.NewChecker(logger, metrics)
	checker.Register("cache", health.CacheCheck(tiered))
	checker.Register("vector_index", health.IndexCheck(index))
	checker.Register("embedding", health.EmbeddingCheck(embedder, cfg.Embedding.Timeout))
	checker.Register("persistence", health.PersistenceCheck(store))
	checker.Register("resources", health.ResourceCheck(0, 0))

	snapshots, err := buildSnapshotStore(ctx, cfg.Indexer)
	if err != nil {
		return err
	}

	// background loops
	go indexMgr.Run(ctx)
	go indexMgr.RunMaintenance(ctx, indexer.MaintenanceConfig{
		ArchiveAfter: cfg.Indexer.ArchiveAfter,
	}, snapshots)
	go consolidator.Run(ctx)
	go stm.Run(ctx, time.Minute)
	go checker.Run(ctx, 30*time.Second)

	server := api.NewServer(cfg.API, orch, searcher, ranker, indexMgr, checker, metrics, logger)
	logger.Info("engine started", map[string]interface{}{
		"environment": cfg.Environment,
		"backend":     cfg.Vector.Backend,
	})
	return server.Run(ctx)
}

func buildSnapshotStore(ctx context.Context, cfg config.IndexerConfig) (indexer.SnapshotStore, error) {
	if cfg.BackupBucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return indexer.NewS3SnapshotStore(s3.NewFromConfig(awsCfg), cfg.BackupBucket, "index-snapshots"), nil
	}
	if cfg.BackupDir != "" {
		return indexer.NewFileSnapshotStore(cfg.BackupDir)
	}
	return nil, nil
}

func buildIndex(cfg config.VectorConfig, dims int, logger observability.Logger, metrics observability.MetricsClient) (vector.Index, error) {
	switch cfg.Backend {
	case "remote":
		return vector.NewRemoteIndex(vector.RemoteIndexConfig{
			BaseURL:    cfg.RemoteURL,
			APIKey:     cfg.RemoteAPIKey,
			Dimensions: dims,
		}, logger)
	case "flat":
		return vector.NewFlatIndex(dims), nil
	default:
		return vector.NewLocalIndex(vector.LocalIndexConfig{
			Dimensions:   dims,
			DataDir:      cfg.DataDir,
			PersistEvery: cfg.PersistEvery,
			M:            cfg.HNSWM,
			EfConstruct:  cfg.HNSWEfConstruct,
			EfSearch:     cfg.HNSWEfSearch,
		}, logger, metrics)
	}
}
