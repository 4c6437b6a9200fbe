package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Memory.STMCapacity)
	assert.Equal(t, 30*time.Minute, cfg.Memory.STMTTL)
	assert.Equal(t, 30*time.Minute, cfg.Memory.ConsolidationPeriod)
	assert.Equal(t, 0.6, cfg.Memory.ConsolidationCutoff)
	assert.Equal(t, 60*time.Second, cfg.Indexer.DrainInterval)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
	assert.Equal(t, "local", cfg.Vector.Backend)
	assert.Equal(t, 100, cfg.Vector.PersistEvery)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("CASTMESH_MEMORY_STM_CAPACITY", "9")
	t.Setenv("CASTMESH_API_LISTEN_ADDRESS", ":9999")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Memory.STMCapacity)
	assert.Equal(t, ":9999", cfg.API.ListenAddress)
}

func TestValidateRejectsBadSTMCapacity(t *testing.T) {
	t.Setenv("CASTMESH_MEMORY_STM_CAPACITY", "3")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stm_capacity")
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CASTMESH_VECTOR_BACKEND", "pinecone")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector.backend")
}
