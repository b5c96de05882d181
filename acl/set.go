package acl

import (
	"sort"

	"github.com/HermesGermany/galapagos-sub000/cluster"
)

// BindingSet is a set of bindings compared by full equality.
type BindingSet map[string]cluster.Binding

// NewBindingSet returns a set holding bindings. Duplicates collapse.
func NewBindingSet(bindings ...cluster.Binding) BindingSet {
	s := make(BindingSet, len(bindings))
	for _, b := range bindings {
		s.Add(b)
	}
	return s
}

// Add inserts b.
func (s BindingSet) Add(b cluster.Binding) {
	s[b.Key()] = b
}

// Contains reports whether b is in the set.
func (s BindingSet) Contains(b cluster.Binding) bool {
	_, ok := s[b.Key()]
	return ok
}

// Difference returns the bindings of s that are not in other.
func (s BindingSet) Difference(other BindingSet) BindingSet {
	diff := make(BindingSet)
	for k, b := range s {
		if _, ok := other[k]; !ok {
			diff[k] = b
		}
	}
	return diff
}

// Bindings returns the members in a stable order.
func (s BindingSet) Bindings() []cluster.Binding {
	bindings := make([]cluster.Binding, 0, len(s))
	for _, b := range s {
		bindings = append(bindings, b)
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].String() < bindings[j].String() })
	return bindings
}

// Filters returns one exact-match filter per member, in the order of Bindings.
func (s BindingSet) Filters() []cluster.BindingFilter {
	bindings := s.Bindings()
	filters := make([]cluster.BindingFilter, len(bindings))
	for i, b := range bindings {
		filters[i] = b.Filter()
	}
	return filters
}
