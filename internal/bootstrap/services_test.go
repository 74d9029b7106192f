package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeforge/forge/config"
	"github.com/codeforge/forge/internal/data"
)

func testAppConfig() *config.AppConfig {
	cfg := &config.AppConfig{Services: "worker,janitor"}
	cfg.Sanitize()
	return cfg
}

func TestNewServices_WiresOrchestratorAndJanitor(t *testing.T) {
	services, err := NewServices(&ServiceDeps{
		Config: testAppConfig(),
		Store:  data.NewMemoryStore(data.MemoryStoreOptions{}),
	})
	require.NoError(t, err)
	assert.NotNil(t, services.Orchestrator)
	assert.NotNil(t, services.Janitor)
	assert.NotNil(t, services.Notifier)
	assert.Nil(t, services.Observability.MetricsSink, "metrics are off by default")
}

func TestNewServices_RequiresStore(t *testing.T) {
	_, err := NewServices(&ServiceDeps{Config: testAppConfig()})
	assert.Error(t, err)

	_, err = NewServices(nil)
	assert.Error(t, err)
}

func TestBuildStore_Memory(t *testing.T) {
	cfg := testAppConfig()
	cfg.Store.Backend = config.StoreBackendMemory

	store, client, err := BuildStore(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.Nil(t, client)
}

func TestBuildStore_RejectsUnknownBackend(t *testing.T) {
	cfg := testAppConfig()
	cfg.Store.Backend = "cassandra"

	_, _, err := BuildStore(cfg, nil)
	assert.Error(t, err)
}

func TestValidateServiceConfig(t *testing.T) {
	require.NoError(t, ValidateServiceConfig(testAppConfig()))

	assert.Error(t, ValidateServiceConfig(nil))

	bad := testAppConfig()
	bad.Services = "worker,mailer"
	assert.Error(t, ValidateServiceConfig(bad))
}

func TestGetEnabledServices(t *testing.T) {
	names := GetEnabledServices(testAppConfig())
	assert.ElementsMatch(t, []string{"worker", "janitor"}, names)

	assert.Empty(t, GetEnabledServices(nil))
}

func TestLoadConfig_ParsesEnvironment(t *testing.T) {
	t.Setenv("SERVICES", "janitor")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("PIPELINE_WORKERS", "8")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "janitor", cfg.Services)
	assert.Equal(t, config.StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, 8, cfg.Pipeline.WorkerCount)
}

func TestLoadConfig_RejectsInvalidBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "dynamo")

	_, err := LoadConfig()
	assert.Error(t, err)
}
