// Package config loads the engine configuration from file and environment.
// Precedence: environment (CASTMESH_*) over config file over defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIConfig defines the HTTP server configuration
type APIConfig struct {
	ListenAddress  string        `mapstructure:"listen_address"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	EnableCORS     bool          `mapstructure:"enable_cors"`
}

// CacheConfig defines the two cache tiers
type CacheConfig struct {
	RedisURL        string        `mapstructure:"redis_url"`
	LocalLRUSize    int           `mapstructure:"local_lru_size"`
	EmbeddingTTL    time.Duration `mapstructure:"embedding_ttl"`
	ResponseTTL     time.Duration `mapstructure:"response_ttl"`
	ConversationTTL time.Duration `mapstructure:"conversation_ttl"`
	SearchTTL       time.Duration `mapstructure:"search_ttl"`
	CompressMin     int           `mapstructure:"compress_min_bytes"`
}

// EmbeddingConfig defines the embedding provider
type EmbeddingConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	BatchSize  int           `mapstructure:"batch_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// CompletionConfig defines the completion provider
type CompletionConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// VectorConfig defines the vector index back-end
type VectorConfig struct {
	Backend         string `mapstructure:"backend"` // local, remote, flat
	DataDir         string `mapstructure:"data_dir"`
	RemoteURL       string `mapstructure:"remote_url"`
	RemoteAPIKey    string `mapstructure:"remote_api_key"`
	PersistEvery    int    `mapstructure:"persist_every"`
	HNSWM           int    `mapstructure:"hnsw_m"`
	HNSWEfSearch    int    `mapstructure:"hnsw_ef_search"`
	HNSWEfConstruct int    `mapstructure:"hnsw_ef_construct"`
}

// MemoryConfig defines short- and long-term memory tunables
type MemoryConfig struct {
	STMCapacity          int           `mapstructure:"stm_capacity"`
	STMTTL               time.Duration `mapstructure:"stm_ttl"`
	ConsolidationPeriod  time.Duration `mapstructure:"consolidation_period"`
	ConsolidationCutoff  float64       `mapstructure:"consolidation_cutoff"`
	PruneRetentionCutoff float64       `mapstructure:"prune_retention_cutoff"`
	PruneImportanceMax   float64       `mapstructure:"prune_importance_max"`
	CompressionCosine    float64       `mapstructure:"compression_cosine"`
}

// IndexerConfig defines the index manager
type IndexerConfig struct {
	DrainInterval time.Duration `mapstructure:"drain_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BackupDir     string        `mapstructure:"backup_dir"`
	BackupBucket  string        `mapstructure:"backup_bucket"`
	ArchiveAfter  time.Duration `mapstructure:"archive_after"`
}

// DatabaseConfig defines the persistent store used by long-term memory,
// experiment logs and the profile store
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Config is the complete engine configuration
type Config struct {
	Environment string           `mapstructure:"environment"`
	API         APIConfig        `mapstructure:"api"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Embedding   EmbeddingConfig  `mapstructure:"embedding"`
	Completion  CompletionConfig `mapstructure:"completion"`
	Vector      VectorConfig     `mapstructure:"vector"`
	Memory      MemoryConfig     `mapstructure:"memory"`
	Indexer     IndexerConfig    `mapstructure:"indexer"`
	Database    DatabaseConfig   `mapstructure:"database"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 60*time.Second)
	v.SetDefault("api.idle_timeout", 90*time.Second)
	v.SetDefault("api.request_timeout", 30*time.Second)
	v.SetDefault("api.rate_limit_rps", 50.0)
	v.SetDefault("api.rate_limit_burst", 100)

	v.SetDefault("cache.local_lru_size", 1024)
	v.SetDefault("cache.embedding_ttl", time.Hour)
	v.SetDefault("cache.response_ttl", 30*time.Minute)
	v.SetDefault("cache.conversation_ttl", 30*time.Minute)
	v.SetDefault("cache.search_ttl", 5*time.Minute)
	v.SetDefault("cache.compress_min_bytes", 1024)

	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.timeout", 2*time.Second)

	v.SetDefault("completion.max_tokens", 1024)
	v.SetDefault("completion.temperature", 0.7)
	v.SetDefault("completion.timeout", 20*time.Second)

	v.SetDefault("vector.backend", "local")
	v.SetDefault("vector.data_dir", "data/vector")
	v.SetDefault("vector.persist_every", 100)
	v.SetDefault("vector.hnsw_m", 16)
	v.SetDefault("vector.hnsw_ef_search", 64)
	v.SetDefault("vector.hnsw_ef_construct", 200)

	v.SetDefault("memory.stm_capacity", 7)
	v.SetDefault("memory.stm_ttl", 30*time.Minute)
	v.SetDefault("memory.consolidation_period", 30*time.Minute)
	v.SetDefault("memory.consolidation_cutoff", 0.6)
	v.SetDefault("memory.prune_retention_cutoff", 0.1)
	v.SetDefault("memory.prune_importance_max", 0.5)
	v.SetDefault("memory.compression_cosine", 0.85)

	v.SetDefault("indexer.drain_interval", 60*time.Second)
	v.SetDefault("indexer.batch_size", 50)
	v.SetDefault("indexer.queue_capacity", 1000)
	v.SetDefault("indexer.max_retries", 5)
	v.SetDefault("indexer.backup_dir", "data/backups")
	v.SetDefault("indexer.archive_after", 365*24*time.Hour)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
}

// Load reads configuration from the optional file path and the environment
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CASTMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	if c.Memory.STMCapacity < 5 || c.Memory.STMCapacity > 9 {
		return fmt.Errorf("memory.stm_capacity must be in [5,9], got %d", c.Memory.STMCapacity)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive")
	}
	switch c.Vector.Backend {
	case "local", "remote", "flat":
	default:
		return fmt.Errorf("vector.backend must be local, remote or flat, got %q", c.Vector.Backend)
	}
	if c.Indexer.QueueCapacity <= 0 {
		return fmt.Errorf("indexer.queue_capacity must be positive")
	}
	return nil
}
