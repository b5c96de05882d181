// Package config loads and validates the daemon configuration.
//
// A configuration lists the governed environments (one messaging cluster
// each) plus replication, reconciliation and metrics settings. Files may be
// JSON or YAML, chosen by extension, and are layered onto Defaults():
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/galapagos/base.yaml")
//	loader.AddLayer("/etc/galapagos/prod.yaml") // overrides base
//
//	cfg, err := loader.Load()
//
// Each layer is checked against an embedded JSON Schema before merging, and
// the merged result is checked by Config.Validate. Secrets usually come from
// the environment instead of files:
//
//	GALAPAGOS_PRODUCTION_ENVIRONMENT=prod
//	GALAPAGOS_METRICS_PORT=9100
//	GALAPAGOS_ENV_PROD_URLS=nats://a:4222,nats://b:4222
//	GALAPAGOS_ENV_PROD_USERNAME=galapagos
//	GALAPAGOS_ENV_PROD_PASSWORD=...
//	GALAPAGOS_ENV_PROD_TOKEN=...
//	GALAPAGOS_ENV_PROD_CREDS_FILE=/run/secrets/prod.creds
//
// Config files are read with path, size and nesting-depth limits. SafeConfig
// wraps a Config for concurrent readers.
package config
