package cluster

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/HermesGermany/galapagos-sub000/errors"
)

// KeyHeader carries the raw record key on every published message.
const KeyHeader = "Galapagos-Key"

// TopicMetadataKey stores the unsanitized topic name on its stream.
const TopicMetadataKey = "galapagos.topic"

const aclBucketSuffix = "acls"

// ValidateTopicName rejects names that cannot be used as a subject prefix.
func ValidateTopicName(name string) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cluster", "ValidateTopicName", "topic name is empty")
	}
	if strings.ContainsAny(name, " \t\r\n*>") {
		return errors.WrapInvalid(fmt.Errorf("%w: %q contains wildcard or whitespace", errors.ErrInvalidData, name),
			"cluster", "ValidateTopicName", "check topic name")
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return errors.WrapInvalid(fmt.Errorf("%w: %q has an empty subject token", errors.ErrInvalidData, name),
			"cluster", "ValidateTopicName", "check topic name")
	}
	return nil
}

// StreamName maps a topic to its JetStream stream name.
func StreamName(topic string) string {
	return sanitize(topic)
}

// SubjectFilter captures every record of topic.
func SubjectFilter(topic string) string {
	return topic + ".>"
}

// RecordSubject is the subject a record with key is published on. Compaction
// keeps the last message per subject, hence per key.
func RecordSubject(topic, key string) string {
	return topic + "." + base64.RawURLEncoding.EncodeToString([]byte(key))
}

// KeyFromSubject recovers the record key from a subject of topic.
func KeyFromSubject(topic, subject string) (string, error) {
	token, ok := strings.CutPrefix(subject, topic+".")
	if !ok {
		return "", fmt.Errorf("%w: subject %q is not on topic %q", errors.ErrInvalidRecord, subject, topic)
	}
	key, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: subject %q: %v", errors.ErrInvalidRecord, subject, err)
	}
	return string(key), nil
}

// BucketName is the authorization bucket of an environment.
func BucketName(prefix string) string {
	return sanitize(prefix + aclBucketSuffix)
}

// sanitize keeps letters, digits, '-' and '_' and replaces everything else,
// which satisfies both stream and bucket naming rules.
func sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
