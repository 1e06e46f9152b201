package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpec(t *testing.T) {
	cfg := Default()
	assert.Equal(t, RoutingSession, cfg.RoutingMode)
	assert.Equal(t, 5, cfg.ContainerPoolSize)
	assert.Equal(t, 10, cfg.MaxConnectionsPerWorker)
	assert.Equal(t, 2, cfg.MinContainers)
	assert.EqualValues(t, 600_000, cfg.ScaleDownIdleTimeMillis)
	assert.Equal(t, ProviderOpenAI, cfg.TranslationProvider)
	assert.Equal(t, 2, cfg.ForceCommitTimeoutSecs)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROUTING_MODE", "autoscale")
	t.Setenv("MIN_CONTAINERS", "4")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, RoutingAutoscale, cfg.RoutingMode)
	assert.Equal(t, 4, cfg.MinContainers)
}

func TestLoadFromTOMLFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "proxy-*.toml")
	require.NoError(t, err)
	_, err = f.WriteString(`
routing_mode = "pool"
container_pool_size = 7
translation_provider = "gemini"
`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, RoutingPool, cfg.RoutingMode)
	assert.Equal(t, 7, cfg.ContainerPoolSize)
	assert.Equal(t, ProviderGemini, cfg.TranslationProvider)
}

func TestValidateRejectsBadRoutingMode(t *testing.T) {
	cfg := Default()
	cfg.RoutingMode = "bogus"
	assert.Error(t, cfg.Validate())
}
