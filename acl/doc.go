// Package acl keeps the bindings granted to principals in line with the
// bindings they require.
//
// Reconciler.Reconcile reads the granted set C from the admin facade and the
// required set T from a RequiredBindings collaborator, then deletes C − T and
// creates T − C, one call each and only when non-empty. Running it twice
// without a change in T makes no admin call the second time.
//
// StoreRequirements serves T from the replicated principals collection and a
// Sweeper reconciles every known principal at a bounded rate.
package acl
