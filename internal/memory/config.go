package memory

// Config is the engine's recognized configuration surface. Parsing it from
// a file, environment variables, or flags is a CLI collaborator's job; this
// struct only defines the shape and its defaults, as a plain YAML-tagged
// struct with a DefaultConfig() constructor.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Quality    QualityConfig    `yaml:"quality"`
}

// DatabaseConfig names the durable and cache backends. TursoURL/TursoToken
// are accepted for forward config-surface compatibility, but this
// implementation's durable store speaks to a local SQLite file via
// modernc.org/sqlite; a Turso-backed libsql driver is a drop-in replacement
// left to deployment configuration, not a core behavior.
type DatabaseConfig struct {
	TursoURL   string `yaml:"turso_url,omitempty"`
	TursoToken string `yaml:"turso_token,omitempty"`
	SQLitePath string `yaml:"sqlite_path"`
	RedbPath   string `yaml:"redb_path"`
}

// AdaptivePoolConfig bounds the durable store's adaptive connection pool
// discipline.
type AdaptivePoolConfig struct {
	Min      int     `yaml:"min"`
	Max      int     `yaml:"max"`
	ScaleUp  float64 `yaml:"scale_up"`
	ScaleDown float64 `yaml:"scale_down"`
}

// KeepaliveConfig configures the durable store's keep-alive connection
// discipline.
type KeepaliveConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalS  int  `yaml:"interval_s"`
	StaleAfterS int `yaml:"stale_after_s"`
}

// CompressionConfig selects the per-entity-class compression algorithm.
type CompressionConfig struct {
	ThresholdBytes int    `yaml:"threshold_bytes"`
	Episodes       string `yaml:"episodes"`
	Patterns       string `yaml:"patterns"`
	Embeddings     string `yaml:"embeddings"`
}

// StorageConfig configures the cache and durable-store pools.
type StorageConfig struct {
	MaxEpisodesCache int                `yaml:"max_episodes_cache"`
	CacheTTLSeconds  int                `yaml:"cache_ttl_seconds"`
	PoolSize         int                `yaml:"pool_size"`
	AdaptivePool     AdaptivePoolConfig `yaml:"adaptive_pool"`
	Keepalive        KeepaliveConfig    `yaml:"keepalive"`
	Compression      CompressionConfig  `yaml:"compression"`
}

// EmbeddingsConfig configures the embedding port.
type EmbeddingsConfig struct {
	Enabled            bool    `yaml:"enabled"`
	Provider           string  `yaml:"provider"`
	Model              string  `yaml:"model"`
	Dimension          int     `yaml:"dimension"`
	APIKeyEnv          string  `yaml:"api_key_env"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TimeoutS           int     `yaml:"timeout_s"`
	Cache              bool    `yaml:"cache"`
}

// RetrievalConfig sets the retrieval pipeline's defaults.
type RetrievalConfig struct {
	DefaultK      int     `yaml:"default_k"`
	DefaultLambda float64 `yaml:"default_lambda"`
	DefaultAlpha  float64 `yaml:"default_alpha"`
}

// QualityConfig sets the quality assessor's reject threshold.
type QualityConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// DefaultConfig returns the engine's documented defaults as a single
// all-in-one constructor callers can start from and override.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			SQLitePath: "data/episodic_memory.db",
			RedbPath:   "data/episodic_memory_cache.db",
		},
		Storage: StorageConfig{
			MaxEpisodesCache: 10000,
			CacheTTLSeconds:  300,
			PoolSize:         8,
			AdaptivePool: AdaptivePoolConfig{
				Min: 2, Max: 16, ScaleUp: 0.8, ScaleDown: 0.3,
			},
			Keepalive: KeepaliveConfig{
				Enabled: true, IntervalS: 30, StaleAfterS: 120,
			},
			Compression: CompressionConfig{
				ThresholdBytes: 1024,
				Episodes:       "zstd",
				Patterns:       "gzip",
				Embeddings:     "none",
			},
		},
		Embeddings: EmbeddingsConfig{
			Enabled:             true,
			Provider:             "deterministic",
			Model:                "local-deterministic-v1",
			Dimension:            384,
			SimilarityThreshold: 0.2,
			TimeoutS:             30,
			Cache:                true,
		},
		Retrieval: RetrievalConfig{
			DefaultK:      10,
			DefaultLambda: 0.7,
			DefaultAlpha:  0.5,
		},
		Quality: QualityConfig{
			Threshold: 0.3,
		},
	}
}
