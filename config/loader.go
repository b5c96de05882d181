package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

// DefaultEnvPrefix prefixes every environment variable override
const DefaultEnvPrefix = "GALAPAGOS"

// Loader reads configuration files in layers, JSON or YAML by extension.
// Later layers override earlier ones key by key.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a loader with validation enabled
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
	}
}

// AddLayer appends a file to the layers
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation toggles Validate after loading
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges the defaults and all layers, applies environment overrides and
// validates the result.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Defaults())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Defaults returns the built-in configuration every layer is merged onto
func Defaults() *Config {
	return &Config{
		Replication: ReplicationConfig{
			ReadyInitialDelay: Duration(2 * time.Second),
			ReadyIdleWindow:   Duration(500 * time.Millisecond),
			PollTimeout:       Duration(10 * time.Second),
			ErrorBackoff:      Duration(30 * time.Second),
		},
		Reconcile: ReconcileConfig{
			Enabled:       true,
			Interval:      Duration(10 * time.Minute),
			RatePerSecond: 5,
			Burst:         1,
			Workers:       4,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// loadRaw reads one layer, validates it against the schema and returns it
// as a generic map.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("convert YAML: %w", err)
		}
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// validateSchema checks a raw document against the embedded JSON Schema
func validateSchema(document []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var b strings.Builder
		b.WriteString("schema validation failed:")
		for _, desc := range result.Errors() {
			fmt.Fprintf(&b, "\n  - %s: %s", desc.Field(), desc.Description())
		}
		return fmt.Errorf("%s", b.String())
	}
	return nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMergeMaps merges override into base. Nested objects merge, everything
// else (including arrays) is replaced.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// envKey turns an environment ID into its variable segment: "pre-prod" -> "PRE_PROD"
func envKey(id string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
}

// applyEnvOverrides applies PREFIX_* variables. Per-environment variables use
// PREFIX_ENV_<ID>_<FIELD>, e.g. GALAPAGOS_ENV_PROD_PASSWORD.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(key string) (string, error) {
		name := l.envPrefix + "_" + key
		val := os.Getenv(name)
		if err := validateEnvVar(name, val); err != nil {
			return "", err
		}
		return val, nil
	}

	if val, err := get("PRODUCTION_ENVIRONMENT"); err != nil {
		return err
	} else if val != "" {
		cfg.ProductionEnvironment = val
	}

	if val, err := get("METRICS_PORT"); err != nil {
		return err
	} else if val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_METRICS_PORT: %w", l.envPrefix, err)
		}
		cfg.Metrics.Port = port
	}

	for i := range cfg.Environments {
		env := &cfg.Environments[i]
		prefix := "ENV_" + envKey(env.ID) + "_"

		fields := []struct {
			key    string
			target *string
		}{
			{"USERNAME", &env.Auth.Username},
			{"PASSWORD", &env.Auth.Password},
			{"TOKEN", &env.Auth.Token},
			{"CREDS_FILE", &env.Auth.CredsFile},
		}
		for _, f := range fields {
			val, err := get(prefix + f.key)
			if err != nil {
				return err
			}
			if val != "" {
				*f.target = val
			}
		}

		val, err := get(prefix + "URLS")
		if err != nil {
			return err
		}
		if val != "" {
			env.URLs = strings.Split(val, ",")
		}
	}
	return nil
}
