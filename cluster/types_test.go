package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func binding(principal, topic string, op Operation) Binding {
	return Binding{
		Principal:    principal,
		ResourceType: ResourceTopic,
		ResourceName: topic,
		PatternType:  PatternLiteral,
		Operation:    op,
		Permission:   PermissionAllow,
	}
}

func TestBinding_Validate(t *testing.T) {
	b := binding("User:app1", "orders", OperationRead)
	assert.NoError(t, b.Validate())

	tests := map[string]func(*Binding){
		"principal":  func(b *Binding) { b.Principal = "" },
		"resource":   func(b *Binding) { b.ResourceName = "" },
		"type":       func(b *Binding) { b.ResourceType = ResourceAny },
		"pattern":    func(b *Binding) { b.PatternType = "" },
		"operation":  func(b *Binding) { b.Operation = OperationAny },
		"permission": func(b *Binding) { b.Permission = PermissionAny },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			invalid := b
			mutate(&invalid)
			assert.Error(t, invalid.Validate())
		})
	}
}

func TestBinding_Key(t *testing.T) {
	a := binding("User:app1", "orders", OperationRead)
	b := binding("User:app1", "orders", OperationRead)
	c := binding("User:app1", "orders", OperationWrite)

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Len(t, a.Key(), 64)

	// Field boundaries are part of the key
	d := binding("User:app1o", "rders", OperationRead)
	assert.NotEqual(t, a.Key(), d.Key())
}

func TestBindingFilter_Matches(t *testing.T) {
	read := binding("User:app1", "orders", OperationRead)
	write := binding("User:app1", "orders", OperationWrite)
	other := binding("User:app2", "orders", OperationRead)

	assert.True(t, PrincipalFilter("User:app1").Matches(read))
	assert.True(t, PrincipalFilter("User:app1").Matches(write))
	assert.False(t, PrincipalFilter("User:app1").Matches(other))

	assert.True(t, read.Filter().Matches(read))
	assert.False(t, read.Filter().Matches(write))

	anyOp := BindingFilter{Principal: "User:app2", Operation: OperationAny, Permission: PermissionAny}
	assert.True(t, anyOp.Matches(other))
	assert.True(t, BindingFilter{}.Matches(read))

	assert.True(t, MatchesAny([]BindingFilter{write.Filter(), read.Filter()}, read))
	assert.False(t, MatchesAny(nil, read))
}
