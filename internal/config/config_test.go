package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
venues:
  hyperliquid:
    type: http
    base_url: http://localhost:5001
    api_key: ${TEST_VENUE_KEY}
  ostium:
    type: paper
    paper:
      balance: 1000
      markets:
        - token: SOL
          price: 150
          qty_decimals: 2
`

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "expand single env var",
			input:    "api_key: ${TEST_API_KEY}",
			envVars:  map[string]string{"TEST_API_KEY": "test_key_123"},
			expected: "api_key: test_key_123",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
		{
			name:     "mixed static and env vars",
			input:    "static_value: 123\napi_key: ${TEST_KEY}",
			envVars:  map[string]string{"TEST_KEY": "dynamic_key"},
			expected: "static_value: 123\napi_key: dynamic_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	t.Setenv("TEST_VENUE_KEY", "venue-secret")

	cfg, err := ParseConfig([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "simple", cfg.App.EngineType)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, []string{"HYPERLIQUID", "OSTIUM"}, cfg.Routing.DefaultPriority)
	assert.True(t, cfg.Routing.Failover())
	assert.Equal(t, 5*time.Second, cfg.Routing.AvailabilityTimeout)
	assert.Equal(t, 0.6, cfg.Generator.ConfidenceThreshold)
	assert.Equal(t, 6*time.Hour, cfg.Generator.BucketDuration)
	assert.Equal(t, 10.0, cfg.Monitor.HardStopLossPercent)
	assert.Equal(t, 3.0, cfg.Monitor.TrailingActivationPercent)
	assert.Equal(t, 5.0, cfg.Scoring.DefaultSizePercent)

	hl, ok := cfg.Venues["HYPERLIQUID"]
	require.True(t, ok, "venue names are normalised to upper case")
	assert.Equal(t, Secret("venue-secret"), hl.APIKey)
	assert.Equal(t, 10*time.Second, hl.Timeout)
}

func TestParseConfig_Durations(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalYAML + `
routing:
  failover_enabled: false
  availability_timeout: 2s
monitor:
  interval: 1m
`))
	require.NoError(t, err)
	assert.False(t, cfg.Routing.Failover())
	assert.Equal(t, 2*time.Second, cfg.Routing.AvailabilityTimeout)
	assert.Equal(t, time.Minute, cfg.Monitor.Interval)
}

func TestParseConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"no venues", "app:\n  name: x\n", "venues"},
		{"bad engine", minimalYAML + "app:\n  engine_type: kafka\n", "app.engine_type"},
		{"dbos without url", minimalYAML + "app:\n  engine_type: dbos\n", "app.database_url"},
		{"unknown priority venue", minimalYAML + "routing:\n  default_priority: [GMX]\n", "routing.default_priority"},
		{"bad driver", minimalYAML + "storage:\n  driver: mongo\n", "storage.driver"},
		{"scoring without url", minimalYAML + "scoring:\n  enabled: true\n", "scoring.base_url"},
		{"bad log level", minimalYAML + "system:\n  log_level: LOUD\n", "system.log_level"},
		{"sample ratio above one", minimalYAML + "telemetry:\n  trace_sample_ratio: 1.5\n", "telemetry.trace_sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Venues, 2)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigString_RedactsSecrets(t *testing.T) {
	t.Setenv("TEST_VENUE_KEY", "venue-secret")
	cfg, err := ParseConfig([]byte(minimalYAML))
	require.NoError(t, err)

	out := cfg.String()
	assert.NotContains(t, out, "venue-secret")
	assert.Contains(t, out, "[REDACTED]")
}
