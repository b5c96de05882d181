package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/HermesGermany/galapagos-sub000/pkg/security"
)

// Config represents the complete daemon configuration
type Config struct {
	Environments          []EnvironmentConfig `json:"environments"`
	ProductionEnvironment string              `json:"production_environment,omitempty"`
	Replication           ReplicationConfig   `json:"replication"`
	Reconcile             ReconcileConfig     `json:"reconcile"`
	Metrics               MetricsConfig       `json:"metrics"`
}

// EnvironmentConfig describes one governed messaging cluster
type EnvironmentConfig struct {
	ID                string                   `json:"id"`
	Name              string                   `json:"name,omitempty"`
	URLs              []string                 `json:"urls"`
	InternalPrefix    string                   `json:"internal_prefix,omitempty"` // prepended to every internal topic
	ReplicationFactor int                      `json:"replication_factor,omitempty"`
	DryRun            bool                     `json:"dry_run,omitempty"` // mutations are logged, never sent
	Auth              AuthConfig               `json:"auth,omitempty"`
	TLS               security.ClientTLSConfig `json:"tls,omitempty"`
}

// AuthConfig holds the credentials for one environment. At most one method
// may be configured.
type AuthConfig struct {
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Token     string `json:"token,omitempty"`
	CredsFile string `json:"creds_file,omitempty"`
}

// ReplicationConfig tunes the ingest loops of all environments
type ReplicationConfig struct {
	ReadyInitialDelay Duration `json:"ready_initial_delay"`
	ReadyIdleWindow   Duration `json:"ready_idle_window"`
	PollTimeout       Duration `json:"poll_timeout"`
	ErrorBackoff      Duration `json:"error_backoff"`
}

// ReconcileConfig tunes the periodic permission sweep
type ReconcileConfig struct {
	Enabled       bool     `json:"enabled"`
	Interval      Duration `json:"interval"`
	RatePerSecond float64  `json:"rate_per_second"`
	Burst         int      `json:"burst"`
	Workers       int      `json:"workers"`
}

// MetricsConfig configures the metrics and health endpoint
type MetricsConfig struct {
	Enabled bool                     `json:"enabled"`
	Port    int                      `json:"port"`
	Path    string                   `json:"path"`
	TLS     security.ServerTLSConfig `json:"tls,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("30s")
type Duration time.Duration

// Std returns the value as time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts duration strings and integer nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for direct YAML decoding
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Environment returns the environment with the given ID
func (c *Config) Environment(id string) (EnvironmentConfig, bool) {
	for _, env := range c.Environments {
		if env.ID == id {
			return env, true
		}
	}
	return EnvironmentConfig{}, false
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if len(c.Environments) == 0 {
		return errors.New("at least one environment is required")
	}

	seen := make(map[string]bool, len(c.Environments))
	for i := range c.Environments {
		env := &c.Environments[i]
		if err := env.validate(); err != nil {
			return fmt.Errorf("environments[%d]: %w", i, err)
		}
		if seen[env.ID] {
			return fmt.Errorf("environments[%d]: duplicate id %q", i, env.ID)
		}
		seen[env.ID] = true
	}

	if c.ProductionEnvironment != "" && !seen[c.ProductionEnvironment] {
		return fmt.Errorf("production_environment %q is not a configured environment", c.ProductionEnvironment)
	}

	r := c.Replication
	if r.ReadyInitialDelay < 0 || r.ReadyIdleWindow < 0 {
		return errors.New("replication: readiness durations cannot be negative")
	}
	if r.PollTimeout <= 0 {
		return errors.New("replication.poll_timeout must be positive")
	}
	if r.ErrorBackoff <= 0 {
		return errors.New("replication.error_backoff must be positive")
	}

	if c.Reconcile.Enabled {
		if c.Reconcile.Interval <= 0 {
			return errors.New("reconcile.interval must be positive")
		}
		if c.Reconcile.RatePerSecond <= 0 {
			return errors.New("reconcile.rate_per_second must be positive")
		}
		if c.Reconcile.Workers < 1 {
			return errors.New("reconcile.workers must be at least 1")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
		}
		if err := validateServerTLS(c.Metrics.TLS); err != nil {
			return fmt.Errorf("metrics.tls: %w", err)
		}
	}

	return nil
}

func (e *EnvironmentConfig) validate() error {
	if e.ID == "" {
		return errors.New("id is required")
	}

	// Normalize ID to lowercase
	e.ID = strings.ToLower(e.ID)
	if !isValidNATSSubjectPart(e.ID) {
		return fmt.Errorf("id %q is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)", e.ID)
	}
	if e.InternalPrefix != "" && !isValidNATSSubjectPart(e.InternalPrefix) {
		return fmt.Errorf("internal_prefix %q is not valid for NATS subjects", e.InternalPrefix)
	}

	if len(e.URLs) == 0 {
		return errors.New("urls is required")
	}
	for i, url := range e.URLs {
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("urls[%d] is empty", i)
		}
	}

	if e.ReplicationFactor < 0 || e.ReplicationFactor > 5 {
		return fmt.Errorf("replication_factor %d out of range 1-5", e.ReplicationFactor)
	}

	methods := 0
	if e.Auth.Username != "" || e.Auth.Password != "" {
		if e.Auth.Username == "" || e.Auth.Password == "" {
			return errors.New("auth.username and auth.password must be set together")
		}
		methods++
	}
	if e.Auth.Token != "" {
		methods++
	}
	if e.Auth.CredsFile != "" {
		if _, err := os.Stat(e.Auth.CredsFile); err != nil {
			return fmt.Errorf("auth.creds_file: %w", err)
		}
		methods++
	}
	if methods > 1 {
		return errors.New("auth: configure only one of username/password, token or creds_file")
	}

	if err := validateClientTLS(e.TLS); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

func validateServerTLS(cfg security.ServerTLSConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.CertFile == "" {
		return errors.New("cert_file is required when TLS is enabled")
	}
	if cfg.KeyFile == "" {
		return errors.New("key_file is required when TLS is enabled")
	}
	if _, err := os.Stat(cfg.CertFile); err != nil {
		return fmt.Errorf("cert_file: %w", err)
	}
	if _, err := os.Stat(cfg.KeyFile); err != nil {
		return fmt.Errorf("key_file: %w", err)
	}
	if cfg.MinVersion != "" {
		return validateTLSVersion(cfg.MinVersion)
	}
	return nil
}

func validateClientTLS(cfg security.ClientTLSConfig) error {
	if !cfg.Enabled {
		return nil
	}
	for i, caFile := range cfg.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("ca_files[%d]: %w", i, err)
		}
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return errors.New("cert_file and key_file must be set together")
	}
	if cfg.InsecureSkipVerify {
		_, _ = fmt.Fprintf(
			os.Stderr,
			"WARNING: TLS certificate verification is disabled (insecure_skip_verify=true). This should only be used in development/testing!\n",
		)
	}
	if cfg.MinVersion != "" {
		return validateTLSVersion(cfg.MinVersion)
	}
	return nil
}

func validateTLSVersion(version string) error {
	switch version {
	case "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}

// String renders the configuration with secrets masked
func (c *Config) String() string {
	clone := c.Clone()
	for i := range clone.Environments {
		auth := &clone.Environments[i].Auth
		if auth.Password != "" {
			auth.Password = "***"
		}
		if auth.Token != "" {
			auth.Token = "***"
		}
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}
