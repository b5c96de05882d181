package cluster

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/HermesGermany/galapagos-sub000/errors"
)

// TopicSpec describes a topic to create.
type TopicSpec struct {
	Name              string
	Partitions        int
	ReplicationFactor int
	Configs           map[string]string
}

// TopicDescription is the observed state of an existing topic.
type TopicDescription struct {
	Name              string
	Partitions        int
	ReplicationFactor int
}

// Node is one server of an environment's cluster.
type Node struct {
	ID  string
	URL string
}

// ClusterDescription lists the servers known to the connection.
type ClusterDescription struct {
	ClusterID string
	Nodes     []Node
}

// ResourceType is the kind of resource a binding applies to.
type ResourceType string

// Resource types. ResourceAny only appears in filters.
const (
	ResourceAny             ResourceType = "ANY"
	ResourceTopic           ResourceType = "TOPIC"
	ResourceGroup           ResourceType = "GROUP"
	ResourceCluster         ResourceType = "CLUSTER"
	ResourceTransactionalID ResourceType = "TRANSACTIONAL_ID"
)

// PatternType tells how a binding's resource name is matched.
type PatternType string

// Pattern types. PatternAny only appears in filters.
const (
	PatternAny      PatternType = "ANY"
	PatternLiteral  PatternType = "LITERAL"
	PatternPrefixed PatternType = "PREFIXED"
)

// Operation is the action a binding allows or denies.
type Operation string

// Operations. OperationAny only appears in filters.
const (
	OperationAny             Operation = "ANY"
	OperationAll             Operation = "ALL"
	OperationRead            Operation = "READ"
	OperationWrite           Operation = "WRITE"
	OperationCreate          Operation = "CREATE"
	OperationDelete          Operation = "DELETE"
	OperationAlter           Operation = "ALTER"
	OperationDescribe        Operation = "DESCRIBE"
	OperationDescribeConfigs Operation = "DESCRIBE_CONFIGS"
	OperationAlterConfigs    Operation = "ALTER_CONFIGS"
	OperationIdempotentWrite Operation = "IDEMPOTENT_WRITE"
)

// Permission is the effect of a binding.
type Permission string

// Permissions. PermissionAny only appears in filters.
const (
	PermissionAny   Permission = "ANY"
	PermissionAllow Permission = "ALLOW"
	PermissionDeny  Permission = "DENY"
)

// Binding is a single access rule. Bindings are compared by full equality.
type Binding struct {
	Principal    string       `json:"principal"`
	ResourceType ResourceType `json:"resourceType"`
	ResourceName string       `json:"resourceName"`
	PatternType  PatternType  `json:"patternType"`
	Operation    Operation    `json:"operation"`
	Permission   Permission   `json:"permission"`
}

// Validate rejects incomplete bindings and filter-only wildcard values.
func (b Binding) Validate() error {
	switch {
	case b.Principal == "":
		return errors.WrapInvalid(errors.ErrInvalidData, "Binding", "Validate", "principal is required")
	case b.ResourceName == "":
		return errors.WrapInvalid(errors.ErrInvalidData, "Binding", "Validate", "resource name is required")
	case b.ResourceType == "" || b.ResourceType == ResourceAny:
		return errors.WrapInvalid(errors.ErrInvalidData, "Binding", "Validate", "resource type is required")
	case b.PatternType == "" || b.PatternType == PatternAny:
		return errors.WrapInvalid(errors.ErrInvalidData, "Binding", "Validate", "pattern type is required")
	case b.Operation == "" || b.Operation == OperationAny:
		return errors.WrapInvalid(errors.ErrInvalidData, "Binding", "Validate", "operation is required")
	case b.Permission == "" || b.Permission == PermissionAny:
		return errors.WrapInvalid(errors.ErrInvalidData, "Binding", "Validate", "permission is required")
	}
	return nil
}

// Key is a stable identifier derived from every field of the binding.
func (b Binding) Key() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		b.Principal,
		string(b.ResourceType),
		string(b.PatternType),
		b.ResourceName,
		string(b.Operation),
		string(b.Permission),
	}, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Filter returns the filter matching exactly this binding.
func (b Binding) Filter() BindingFilter {
	return BindingFilter(b)
}

func (b Binding) String() string {
	return fmt.Sprintf("(%s, %s:%s:%s, %s, %s)",
		b.Principal, b.ResourceType, b.PatternType, b.ResourceName, b.Operation, b.Permission)
}

// BindingFilter selects bindings. Empty fields and the Any values match
// everything.
type BindingFilter struct {
	Principal    string
	ResourceType ResourceType
	ResourceName string
	PatternType  PatternType
	Operation    Operation
	Permission   Permission
}

// PrincipalFilter matches every binding of principal.
func PrincipalFilter(principal string) BindingFilter {
	return BindingFilter{Principal: principal}
}

// Matches reports whether b is selected by the filter.
func (f BindingFilter) Matches(b Binding) bool {
	return (f.Principal == "" || f.Principal == b.Principal) &&
		(f.ResourceType == "" || f.ResourceType == ResourceAny || f.ResourceType == b.ResourceType) &&
		(f.ResourceName == "" || f.ResourceName == b.ResourceName) &&
		(f.PatternType == "" || f.PatternType == PatternAny || f.PatternType == b.PatternType) &&
		(f.Operation == "" || f.Operation == OperationAny || f.Operation == b.Operation) &&
		(f.Permission == "" || f.Permission == PermissionAny || f.Permission == b.Permission)
}

// MatchesAny reports whether any of filters selects b.
func MatchesAny(filters []BindingFilter, b Binding) bool {
	for _, f := range filters {
		if f.Matches(b) {
			return true
		}
	}
	return false
}

// Record is one message read from a topic.
type Record struct {
	Topic     string
	Key       string
	Value     []byte
	Sequence  uint64
	Timestamp time.Time
}
