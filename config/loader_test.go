package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `
environments:
  - id: dev
    name: Development
    urls: ["nats://localhost:4222"]
    internal_prefix: galapagos.internal.
  - id: prod
    urls: ["nats://prod-1:4222", "nats://prod-2:4222"]
    replication_factor: 3
    dry_run: true
production_environment: prod
replication:
  poll_timeout: 5s
reconcile:
  interval: 1m
  workers: 2
`

func TestLoader_LoadYAML(t *testing.T) {
	path := writeFile(t, "galapagos.yaml", yamlConfig)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	require.Len(t, cfg.Environments, 2)
	assert.Equal(t, "Development", cfg.Environments[0].Name)
	assert.Equal(t, "galapagos.internal.", cfg.Environments[0].InternalPrefix)
	assert.Equal(t, []string{"nats://prod-1:4222", "nats://prod-2:4222"}, cfg.Environments[1].URLs)
	assert.True(t, cfg.Environments[1].DryRun)
	assert.Equal(t, 3, cfg.Environments[1].ReplicationFactor)
	assert.Equal(t, "prod", cfg.ProductionEnvironment)

	// Overridden values
	assert.Equal(t, 5*time.Second, cfg.Replication.PollTimeout.Std())
	assert.Equal(t, time.Minute, cfg.Reconcile.Interval.Std())
	assert.Equal(t, 2, cfg.Reconcile.Workers)

	// Defaults survive the merge
	assert.Equal(t, 30*time.Second, cfg.Replication.ErrorBackoff.Std())
	assert.Equal(t, 2*time.Second, cfg.Replication.ReadyInitialDelay.Std())
	assert.Equal(t, 5.0, cfg.Reconcile.RatePerSecond)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoader_LayersJSONOverYAML(t *testing.T) {
	base := writeFile(t, "base.yml", yamlConfig)
	override := writeFile(t, "override.json", `{
		"metrics": {"port": 9200},
		"replication": {"error_backoff": "45s"}
	}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 45*time.Second, cfg.Replication.ErrorBackoff.Std())
	assert.Equal(t, 5*time.Second, cfg.Replication.PollTimeout.Std())
	assert.Len(t, cfg.Environments, 2)
}

func TestLoader_SchemaRejectsDocument(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{
			name:    "unknown top-level key",
			content: `{"environments": [{"id": "dev", "urls": ["nats://x"]}], "platform": {}}`,
			field:   "platform",
		},
		{
			name:    "missing urls",
			content: `{"environments": [{"id": "dev"}]}`,
			field:   "urls",
		},
		{
			name:    "bad duration",
			content: `{"environments": [{"id": "dev", "urls": ["nats://x"]}], "replication": {"poll_timeout": "soon"}}`,
			field:   "poll_timeout",
		},
		{
			name:    "replication factor too high",
			content: `{"environments": [{"id": "dev", "urls": ["nats://x"], "replication_factor": 9}]}`,
			field:   "replication_factor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "config.json", tt.content)
			_, err := NewLoader().LoadFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema validation failed")
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeFile(t, "galapagos.yaml", yamlConfig)

	t.Setenv("GALAPAGOS_PRODUCTION_ENVIRONMENT", "dev")
	t.Setenv("GALAPAGOS_METRICS_PORT", "9300")
	t.Setenv("GALAPAGOS_ENV_PROD_USERNAME", "galapagos")
	t.Setenv("GALAPAGOS_ENV_PROD_PASSWORD", "secret")
	t.Setenv("GALAPAGOS_ENV_DEV_URLS", "nats://a:4222,nats://b:4222")

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.ProductionEnvironment)
	assert.Equal(t, 9300, cfg.Metrics.Port)
	assert.Equal(t, "galapagos", cfg.Environments[1].Auth.Username)
	assert.Equal(t, "secret", cfg.Environments[1].Auth.Password)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.Environments[0].URLs)
}

func TestLoader_EnvOverrideInvalidPort(t *testing.T) {
	path := writeFile(t, "galapagos.yaml", yamlConfig)
	t.Setenv("GALAPAGOS_METRICS_PORT", "ninety")

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "METRICS_PORT")
}

func TestLoader_ValidationCanBeDisabled(t *testing.T) {
	path := writeFile(t, "partial.json", `{"metrics": {"port": 9100}}`)

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err, "no environments configured")

	loader := NewLoader()
	loader.EnableValidation(false)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Metrics.Port)
}

func TestLoader_FileSafety(t *testing.T) {
	_, err := NewLoader().LoadFile(writeFile(t, "config.toml", "x = 1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only JSON or YAML")

	_, err = NewLoader().LoadFile("/nonexistent/config.yaml")
	require.Error(t, err)

	deep := strings.Repeat("[", 101) + strings.Repeat("]", 101)
	_, err = NewLoader().LoadFile(writeFile(t, "deep.json", deep))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting too deep")
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": "[[[[", "b": [1, {"c": 2}]}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": [}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": 1}}`)))
}
