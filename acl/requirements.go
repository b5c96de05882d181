package acl

import (
	"context"
	"fmt"

	"github.com/HermesGermany/galapagos-sub000/cluster"
	"github.com/HermesGermany/galapagos-sub000/errors"
	"github.com/HermesGermany/galapagos-sub000/future"
	"github.com/HermesGermany/galapagos-sub000/replication"
)

// PrincipalsCollection is the collection holding the required bindings of
// every managed principal.
const PrincipalsCollection = "principals"

// PrincipalSpec is the desired binding set of one principal.
type PrincipalSpec struct {
	Name     string            `json:"name"`
	Bindings []cluster.Binding `json:"bindings"`
}

// GetKey implements replication.Record.
func (p PrincipalSpec) GetKey() string {
	return p.Name
}

// Validate checks that every binding is complete and belongs to the
// principal.
func (p PrincipalSpec) Validate() error {
	if p.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "PrincipalSpec", "Validate", "name is required")
	}
	for _, b := range p.Bindings {
		if err := b.Validate(); err != nil {
			return err
		}
		if b.Principal != p.Name {
			return errors.WrapInvalid(fmt.Errorf("%w: binding %s belongs to another principal", errors.ErrInvalidData, b),
				"PrincipalSpec", "Validate", "check binding principal")
		}
	}
	return nil
}

// StoreRequirements reads required bindings from the replicated principals
// collection. A principal without a spec requires no bindings.
type StoreRequirements struct {
	store *replication.Store[PrincipalSpec]
}

// NewStoreRequirements registers the principals collection on container.
func NewStoreRequirements(ctx context.Context, container *replication.Container) (*StoreRequirements, error) {
	store, err := replication.Register[PrincipalSpec](ctx, container, PrincipalsCollection, nil)
	if err != nil {
		return nil, err
	}
	return &StoreRequirements{store: store}, nil
}

// Store returns the backing collection.
func (s *StoreRequirements) Store() *replication.Store[PrincipalSpec] {
	return s.store
}

// RequiredBindings implements RequiredBindings. Bindings of other principals
// in a spec are ignored.
func (s *StoreRequirements) RequiredBindings(_ context.Context, principal string) ([]cluster.Binding, error) {
	spec, ok := s.store.Get(principal)
	if !ok {
		return nil, nil
	}
	bindings := make([]cluster.Binding, 0, len(spec.Bindings))
	for _, b := range spec.Bindings {
		if b.Principal == principal {
			bindings = append(bindings, b)
		}
	}
	return bindings, nil
}

// Principals returns the names of all principals with a spec.
func (s *StoreRequirements) Principals() []string {
	specs := s.store.List()
	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.Name
	}
	return names
}

// Put validates and stores spec.
func (s *StoreRequirements) Put(ctx context.Context, spec PrincipalSpec) *future.Future[struct{}] {
	if err := spec.Validate(); err != nil {
		return future.Failed[struct{}](err)
	}
	return s.store.Save(ctx, spec)
}

// Remove drops the spec of principal.
func (s *StoreRequirements) Remove(ctx context.Context, principal string) *future.Future[struct{}] {
	return s.store.Delete(ctx, PrincipalSpec{Name: principal})
}
