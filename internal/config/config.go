// Package config provides configuration loading for knowledged.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the root configuration for both the API server and workers.
type Config struct {
	Server           ServerConfig     `koanf:"server"`
	Database         DatabaseConfig   `koanf:"database"`
	Redis            RedisConfig      `koanf:"redis"`
	Vector           VectorConfig     `koanf:"vector"`
	SQLStore         SQLStoreConfig   `koanf:"sql_store"`
	Embeddings       EmbeddingsConfig `koanf:"embeddings"`
	Proxy            ProxyConfig      `koanf:"proxy"`
	Logging          LoggingConfig    `koanf:"logging"`
	InternalEndpoint string           `koanf:"internal_endpoint"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds the relational metadata store settings.
type DatabaseConfig struct {
	URL  string     `koanf:"url"`
	Pool PoolConfig `koanf:"pool"`
}

// PoolConfig controls the shared connection pool.
type PoolConfig struct {
	PoolSize    int `koanf:"pool_size"`
	PoolRecycle int `koanf:"pool_recycle"` // seconds before a connection is recycled
}

// RedisConfig selects one of three deployment modes.
type RedisConfig struct {
	Mode     string `koanf:"mode"` // standalone, cluster, sentinel
	Addr     string `koanf:"addr"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`

	// Cluster mode.
	Addrs []string `koanf:"addrs"`

	// Sentinel mode.
	MasterName    string   `koanf:"master_name"`
	SentinelAddrs []string `koanf:"sentinel_addrs"`
}

// VectorConfig selects and configures the vector store backend.
type VectorConfig struct {
	Type          string              `koanf:"type"` // elasticsearch, milvus, pgvector
	Elasticsearch ElasticsearchConfig `koanf:"elasticsearch"`
	Milvus        MilvusConfig        `koanf:"milvus"`
	PGVector      PGVectorConfig      `koanf:"pgvector"`
}

// ElasticsearchConfig holds Elasticsearch backend settings.
type ElasticsearchConfig struct {
	Addresses     []string `koanf:"addresses"`
	Username      string   `koanf:"username"`
	Password      string   `koanf:"password"`
	BatchSize     int      `koanf:"batch_size"`
	NumCandidates int      `koanf:"num_candidates"`
}

// MilvusConfig holds Milvus backend settings.
type MilvusConfig struct {
	Address  string `koanf:"address"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// PGVectorConfig holds PGVector backend settings.
type PGVectorConfig struct {
	URL       string `koanf:"url"`
	BatchSize int    `koanf:"batch_size"`
}

// SQLStoreConfig configures the SQL knowledge-base store.
type SQLStoreConfig struct {
	Type string `koanf:"type"` // sqlite
	Path string `koanf:"path"` // directory holding per-collection database files
}

// EmbeddingsConfig holds the embedder registry.
type EmbeddingsConfig struct {
	CacheDir string        `koanf:"cache_dir"`
	Models   []ModelConfig `koanf:"models"`
}

// ModelConfig describes one configured embedding model.
type ModelConfig struct {
	Name        string     `koanf:"name"`
	DisplayName string     `koanf:"displayName"`
	Dimension   int        `koanf:"dimension"`
	Enabled     bool       `koanf:"enabled"`
	Type        string     `koanf:"type"` // local, api
	ModelPath   string     `koanf:"modelPath"`
	APIConfig   *APIConfig `koanf:"apiConfig"`
}

// APIConfig describes a remote embedding endpoint for api-type models.
// Body is a JSON template; the {documents} placeholder is substituted
// with the input texts. ResultPath is a dotted path into the response.
type APIConfig struct {
	URL        string            `koanf:"url"`
	Headers    map[string]string `koanf:"headers"`
	Body       string            `koanf:"body"`
	ResultPath string            `koanf:"resultPath"`
}

// ProxyConfig configures the outbound HTTP proxy. The proxy is applied
// to a dedicated client, never to process-wide environment.
type ProxyConfig struct {
	Enabled bool     `koanf:"enabled"`
	URL     string   `koanf:"url"`
	Exclude []string `koanf:"exclude"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, console
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Database.Pool.PoolSize == 0 {
		cfg.Database.Pool.PoolSize = 30
	}
	if cfg.Database.Pool.PoolRecycle == 0 {
		cfg.Database.Pool.PoolRecycle = 3600
	}

	if cfg.Redis.Mode == "" {
		cfg.Redis.Mode = "standalone"
	}
	if cfg.Redis.Mode == "standalone" && cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	if cfg.Vector.Type == "" {
		cfg.Vector.Type = "elasticsearch"
	}
	if len(cfg.Vector.Elasticsearch.Addresses) == 0 {
		cfg.Vector.Elasticsearch.Addresses = []string{"http://localhost:9200"}
	}
	if cfg.Vector.Elasticsearch.BatchSize == 0 {
		cfg.Vector.Elasticsearch.BatchSize = 100
	}
	if cfg.Vector.Elasticsearch.NumCandidates == 0 {
		cfg.Vector.Elasticsearch.NumCandidates = 100
	}
	if cfg.Vector.Milvus.Address == "" {
		cfg.Vector.Milvus.Address = "localhost:19530"
	}
	if cfg.Vector.PGVector.BatchSize == 0 {
		cfg.Vector.PGVector.BatchSize = 100
	}

	if cfg.SQLStore.Type == "" {
		cfg.SQLStore.Type = "sqlite"
	}
	if cfg.SQLStore.Path == "" {
		cfg.SQLStore.Path = "./data/sqlkb"
	}

	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = "./local_cache"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for coherence.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Redis.Mode {
	case "standalone":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required in standalone mode")
		}
	case "cluster":
		if len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("redis.addrs is required in cluster mode")
		}
	case "sentinel":
		if c.Redis.MasterName == "" || len(c.Redis.SentinelAddrs) == 0 {
			return fmt.Errorf("redis.master_name and redis.sentinel_addrs are required in sentinel mode")
		}
	default:
		return fmt.Errorf("redis.mode must be one of standalone, cluster, sentinel, got %q", c.Redis.Mode)
	}

	switch c.Vector.Type {
	case "elasticsearch", "milvus":
	case "pgvector":
		if c.Vector.PGVector.URL == "" {
			return fmt.Errorf("vector.pgvector.url is required for the pgvector backend")
		}
	default:
		return fmt.Errorf("vector.type must be one of elasticsearch, milvus, pgvector, got %q", c.Vector.Type)
	}

	if c.SQLStore.Type != "sqlite" {
		return fmt.Errorf("sql_store.type must be sqlite, got %q", c.SQLStore.Type)
	}

	seen := make(map[string]bool, len(c.Embeddings.Models))
	for i, m := range c.Embeddings.Models {
		if m.Name == "" {
			return fmt.Errorf("embeddings.models[%d].name is required", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("embeddings.models: duplicate model %q", m.Name)
		}
		seen[m.Name] = true
		if m.Dimension <= 0 {
			return fmt.Errorf("embeddings.models[%d]: dimension must be positive, got %d", i, m.Dimension)
		}
		switch m.Type {
		case "local":
		case "api":
			if m.APIConfig == nil || m.APIConfig.URL == "" {
				return fmt.Errorf("embeddings.models[%d]: apiConfig.url is required for api models", i)
			}
		default:
			return fmt.Errorf("embeddings.models[%d]: type must be local or api, got %q", i, m.Type)
		}
	}

	if c.Proxy.Enabled {
		if c.Proxy.URL == "" {
			return fmt.Errorf("proxy.url is required when proxy.enabled is true")
		}
		if _, err := url.Parse(c.Proxy.URL); err != nil {
			return fmt.Errorf("proxy.url is not a valid URL: %w", err)
		}
	}

	return nil
}
