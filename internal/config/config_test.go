package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 30, cfg.Database.Pool.PoolSize)
	assert.Equal(t, 3600, cfg.Database.Pool.PoolRecycle)
	assert.Equal(t, "standalone", cfg.Redis.Mode)
	assert.Equal(t, "elasticsearch", cfg.Vector.Type)
	assert.Equal(t, 100, cfg.Vector.Elasticsearch.BatchSize)
	assert.Equal(t, 100, cfg.Vector.Elasticsearch.NumCandidates)
	assert.Equal(t, "sqlite", cfg.SQLStore.Type)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8088
redis:
  mode: sentinel
  master_name: mymaster
  sentinel_addrs:
    - sentinel-0:26379
    - sentinel-1:26379
vector:
  type: pgvector
  pgvector:
    url: postgres://localhost/vectors
embeddings:
  models:
    - name: bge-base-zh-v1.5
      displayName: BGE Base Chinese
      dimension: 768
      enabled: true
      type: local
      modelPath: /models/bge-base-zh-v1.5
    - name: text-embedding-ada-002
      dimension: 1536
      enabled: false
      type: api
      apiConfig:
        url: https://api.openai.com/v1/embeddings
        resultPath: data.#.embedding
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "sentinel", cfg.Redis.Mode)
	assert.Equal(t, "mymaster", cfg.Redis.MasterName)
	assert.Len(t, cfg.Redis.SentinelAddrs, 2)
	assert.Equal(t, "pgvector", cfg.Vector.Type)

	m, ok := cfg.ModelByName("bge-base-zh-v1.5")
	require.True(t, ok)
	assert.Equal(t, 768, m.Dimension)
	assert.Equal(t, "local", m.Type)
	assert.Equal(t, "BGE Base Chinese", m.DisplayName)

	_, ok = cfg.ModelByName("no-such-model")
	assert.False(t, ok)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KNOWLEDGED_SERVER_PORT", "7001")
	t.Setenv("KNOWLEDGED_REDIS_ADDR", "redis:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad redis mode",
			mutate:  func(c *Config) { c.Redis.Mode = "mirrored" },
			wantErr: "redis.mode",
		},
		{
			name:    "cluster without addrs",
			mutate:  func(c *Config) { c.Redis.Mode = "cluster"; c.Redis.Addrs = nil },
			wantErr: "redis.addrs",
		},
		{
			name:    "bad vector type",
			mutate:  func(c *Config) { c.Vector.Type = "pinecone" },
			wantErr: "vector.type",
		},
		{
			name:    "pgvector without url",
			mutate:  func(c *Config) { c.Vector.Type = "pgvector" },
			wantErr: "pgvector.url",
		},
		{
			name: "api model without url",
			mutate: func(c *Config) {
				c.Embeddings.Models = []ModelConfig{{Name: "m", Dimension: 4, Type: "api"}}
			},
			wantErr: "apiConfig.url",
		},
		{
			name: "duplicate model",
			mutate: func(c *Config) {
				c.Embeddings.Models = []ModelConfig{
					{Name: "m", Dimension: 4, Type: "local"},
					{Name: "m", Dimension: 4, Type: "local"},
				}
			},
			wantErr: "duplicate model",
		},
		{
			name:    "proxy enabled without url",
			mutate:  func(c *Config) { c.Proxy.Enabled = true },
			wantErr: "proxy.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			applyDefaults(&cfg)
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRejectsOversizeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	big := make([]byte, maxConfigFileSize+1)
	require.NoError(t, os.WriteFile(path, big, 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}
