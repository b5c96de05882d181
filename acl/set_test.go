package acl

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/HermesGermany/galapagos-sub000/cluster"
)

func topicBinding(principal, topic string, op cluster.Operation) cluster.Binding {
	return cluster.Binding{
		Principal:    principal,
		ResourceType: cluster.ResourceTopic,
		ResourceName: topic,
		PatternType:  cluster.PatternLiteral,
		Operation:    op,
		Permission:   cluster.PermissionAllow,
	}
}

func TestBindingSet(t *testing.T) {
	a := topicBinding("User:app1", "a", cluster.OperationRead)
	b := topicBinding("User:app1", "b", cluster.OperationRead)
	c := topicBinding("User:app1", "c", cluster.OperationRead)

	s := NewBindingSet(b, a, a)
	assert.Len(t, s, 2)
	assert.True(t, s.Contains(a))
	assert.False(t, s.Contains(c))

	if diff := cmp.Diff([]cluster.Binding{a, b}, s.Bindings()); diff != "" {
		t.Errorf("Bindings() mismatch (-want +got):\n%s", diff)
	}

	other := NewBindingSet(b, c)
	if diff := cmp.Diff([]cluster.Binding{a}, s.Difference(other).Bindings()); diff != "" {
		t.Errorf("s - other mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]cluster.Binding{c}, other.Difference(s).Bindings()); diff != "" {
		t.Errorf("other - s mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []cluster.BindingFilter{a.Filter(), b.Filter()}, s.Filters())
	assert.Empty(t, NewBindingSet().Bindings())
}

func TestBindingSet_FullEquality(t *testing.T) {
	read := topicBinding("User:app1", "orders", cluster.OperationRead)
	deny := read
	deny.Permission = cluster.PermissionDeny
	prefixed := read
	prefixed.PatternType = cluster.PatternPrefixed

	s := NewBindingSet(read)
	assert.False(t, s.Contains(deny))
	assert.False(t, s.Contains(prefixed))
	assert.Len(t, NewBindingSet(read, deny, prefixed), 3)
}
