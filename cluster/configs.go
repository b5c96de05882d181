package cluster

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/HermesGermany/galapagos-sub000/errors"
)

// Topic configuration keys understood by DescribeConfigs and AlterConfigs.
const (
	ConfigCleanupPolicy   = "cleanup.policy"
	ConfigRetentionMs     = "retention.ms"
	ConfigRetentionBytes  = "retention.bytes"
	ConfigMaxMessageBytes = "max.message.bytes"

	CleanupCompact = "compact"
	CleanupDelete  = "delete"
)

// maxReplicas is the JetStream replica limit.
const maxReplicas = 5

// streamConfigs reports the topic-level view of a stream configuration.
func streamConfigs(cfg jetstream.StreamConfig) map[string]string {
	configs := map[string]string{
		ConfigCleanupPolicy:   CleanupDelete,
		ConfigRetentionMs:     "-1",
		ConfigRetentionBytes:  "-1",
		ConfigMaxMessageBytes: "-1",
	}
	if cfg.MaxMsgsPerSubject == 1 {
		configs[ConfigCleanupPolicy] = CleanupCompact
	}
	if cfg.MaxAge > 0 {
		configs[ConfigRetentionMs] = strconv.FormatInt(cfg.MaxAge.Milliseconds(), 10)
	}
	if cfg.MaxBytes > 0 {
		configs[ConfigRetentionBytes] = strconv.FormatInt(cfg.MaxBytes, 10)
	}
	if cfg.MaxMsgSize > 0 {
		configs[ConfigMaxMessageBytes] = strconv.FormatInt(int64(cfg.MaxMsgSize), 10)
	}
	return configs
}

// applyConfigs writes topic-level settings into a stream configuration.
// Unknown keys and malformed values are rejected before anything changes.
func applyConfigs(cfg *jetstream.StreamConfig, configs map[string]string) error {
	next := *cfg
	for key, value := range configs {
		switch key {
		case ConfigCleanupPolicy:
			switch value {
			case CleanupCompact:
				next.MaxMsgsPerSubject = 1
			case CleanupDelete:
				next.MaxMsgsPerSubject = -1
			default:
				return invalidConfig(key, value)
			}
		case ConfigRetentionMs:
			ms, err := strconv.ParseInt(value, 10, 64)
			if err != nil || ms < -1 {
				return invalidConfig(key, value)
			}
			next.MaxAge = 0
			if ms > 0 {
				next.MaxAge = time.Duration(ms) * time.Millisecond
			}
		case ConfigRetentionBytes:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < -1 || n == 0 {
				return invalidConfig(key, value)
			}
			next.MaxBytes = n
		case ConfigMaxMessageBytes:
			n, err := strconv.ParseInt(value, 10, 32)
			if err != nil || n < -1 || n == 0 {
				return invalidConfig(key, value)
			}
			next.MaxMsgSize = int32(n)
		default:
			return errors.WrapInvalid(fmt.Errorf("%w: unsupported config %q", errors.ErrInvalidData, key),
				"cluster", "applyConfigs", "apply topic config")
		}
	}
	*cfg = next
	return nil
}

func invalidConfig(key, value string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s=%q", errors.ErrInvalidData, key, value),
		"cluster", "applyConfigs", "apply topic config")
}

// clampReplicas bounds a replication factor to what JetStream accepts.
func clampReplicas(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxReplicas {
		return maxReplicas
	}
	return n
}
