package config

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		Redis: RedisConfig{Dns: "localhost:6379"},
	}
	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
	}
	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	cnf = Configuration{
		ProjectName: "  Test Project ",
		DataSource:  DataSourceConfig{Dns: "some-dns"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
	}
	require.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, "Test Project", cnf.ProjectName)
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, DEFAULT_SNAPSHOT_THRESHOLD, cnf.Ledger.SnapshotThreshold)
	assert.Equal(t, 3, cnf.Ledger.DispatchRetry.MaxAttempts)
	assert.Equal(t, 2.0, cnf.Ledger.DispatchRetry.Multiplier)
	assert.Equal(t, DEFAULT_MAX_RETRIES, cnf.Retry.MaxRetries)
	assert.Equal(t, "@every 5m", cnf.Retry.SweepSchedule)
	assert.Equal(t, 1440, cnf.Retry.StaleThresholdMinutes)
	assert.Equal(t, "0 3 * * *", cnf.Consistency.Schedule)
	assert.Equal(t, "replay", cnf.Queue.ReplayQueue)
	assert.Equal(t, "maintenance", cnf.Queue.MaintenanceQueue)
	assert.Nil(t, cnf.RateLimit.RequestsPerSecond, "rate limiting stays disabled unless configured")
	require.NotNil(t, cnf.RateLimit.CleanupIntervalSec)
	assert.Equal(t, 10800, *cnf.RateLimit.CleanupIntervalSec)
}

func TestValidateAndAddDefaults_KeepsExplicitValues(t *testing.T) {
	rps := 10.0
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "some-dns"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		RateLimit:  RateLimitConfig{RequestsPerSecond: &rps},
		Ledger:     LedgerConfig{SnapshotThreshold: 25},
		Retry:      RetryConfig{MaxRetries: 2, SweepSchedule: "@every 1m"},
	}
	require.NoError(t, cnf.validateAndAddDefaults())

	assert.Equal(t, 25, cnf.Ledger.SnapshotThreshold)
	assert.Equal(t, 2, cnf.Retry.MaxRetries)
	assert.Equal(t, "@every 1m", cnf.Retry.SweepSchedule)
	require.NotNil(t, cnf.RateLimit.Burst)
	assert.Equal(t, 20, *cnf.RateLimit.Burst)
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "eventledger.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp-dns"},
		Redis:       RedisConfig{Dns: "temp-redis"},
		Ledger:      LedgerConfig{SnapshotThreshold: 50},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	t.Setenv("EVENTLEDGER_PROJECT_NAME", "Env Project")
	t.Setenv("EVENTLEDGER_RETRY_MAX_RETRIES", "7")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	require.NoError(t, err)

	assert.Equal(t, "Env Project", loadedConfig.ProjectName)
	assert.Equal(t, "temp-dns", loadedConfig.DataSource.Dns)
	assert.Equal(t, 50, loadedConfig.Ledger.SnapshotThreshold)
	assert.Equal(t, 7, loadedConfig.Retry.MaxRetries)
}

func TestInitConfig(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "eventledger.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "InitConfig Test",
		DataSource:  DataSourceConfig{Dns: "init-config-dns"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	if err := InitConfig(tmpFile.Name()); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	loadedConfig, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "InitConfig Test", loadedConfig.ProjectName)
	assert.Equal(t, "init-config-dns", loadedConfig.DataSource.Dns)
}

func TestSetOtelExporterEnvs(t *testing.T) {
	MockConfig(&Configuration{
		OtelExporter: OtelExporter{
			Protocol: "http/protobuf",
			Endpoint: "localhost:4318",
			Headers:  "api-key=12345",
		},
	})
	t.Cleanup(func() {
		os.Unsetenv("OTEL_EXPORTER_OTLP_PROTOCOL")
		os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		os.Unsetenv("OTEL_EXPORTER_OTLP_HEADERS")
	})

	require.NoError(t, SetOtelExporterEnvs())

	assert.Equal(t, "http/protobuf", os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"))
	assert.Equal(t, "localhost:4318", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	assert.Equal(t, "api-key=12345", os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
}
