package acl

import (
	"context"
	"log/slog"
	"time"

	"github.com/HermesGermany/galapagos-sub000/cluster"
	"github.com/HermesGermany/galapagos-sub000/errors"
	"github.com/HermesGermany/galapagos-sub000/future"
)

// RequiredBindings computes the bindings a principal should hold.
type RequiredBindings interface {
	RequiredBindings(ctx context.Context, principal string) ([]cluster.Binding, error)
}

// RequiredFunc adapts a function to RequiredBindings.
type RequiredFunc func(ctx context.Context, principal string) ([]cluster.Binding, error)

// RequiredBindings implements RequiredBindings.
func (f RequiredFunc) RequiredBindings(ctx context.Context, principal string) ([]cluster.Binding, error) {
	return f(ctx, principal)
}

// Result describes the changes one reconciliation made.
type Result struct {
	Principal string
	Created   []cluster.Binding
	Deleted   []cluster.Binding
}

// Changed reports whether any binding was created or deleted.
func (r Result) Changed() bool {
	return len(r.Created) > 0 || len(r.Deleted) > 0
}

// Reconciler brings the bindings granted to a principal in line with the
// required ones using the fewest admin calls: at most one delete followed by
// at most one create. A failed step ends the reconciliation; earlier steps
// are not rolled back.
type Reconciler struct {
	environment string
	admin       cluster.Admin
	required    RequiredBindings
	logger      *slog.Logger
	metrics     *Metrics
}

// NewReconciler creates a reconciler for one environment.
func NewReconciler(environment string, admin cluster.Admin, required RequiredBindings, logger *slog.Logger, metrics *Metrics) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		environment: environment,
		admin:       admin,
		required:    required,
		logger:      logger.With("component", "acl", "environment", environment),
		metrics:     metrics,
	}
}

// Reconcile creates the missing bindings of principal and deletes the
// surplus ones. An empty principal is a successful no-op.
func (r *Reconciler) Reconcile(ctx context.Context, principal string) *future.Future[Result] {
	if principal == "" {
		return future.Completed(Result{})
	}

	start := time.Now()
	granted := r.admin.DescribeBindings(ctx, cluster.PrincipalFilter(principal))
	result := future.Compose(granted, func(current []cluster.Binding) *future.Future[Result] {
		required, err := r.required.RequiredBindings(ctx, principal)
		if err != nil {
			return future.Failed[Result](errors.Wrap(err, "Reconciler", "Reconcile", "compute required bindings"))
		}

		desired := NewBindingSet(required...)
		have := NewBindingSet(current...)
		return r.apply(ctx, principal, desired.Difference(have), have.Difference(desired))
	})

	return r.observe(result, "reconcile", principal, start)
}

// RemoveAll deletes every binding granted to principal. An empty principal is
// a successful no-op, as is a principal without bindings.
func (r *Reconciler) RemoveAll(ctx context.Context, principal string) *future.Future[Result] {
	if principal == "" {
		return future.Completed(Result{})
	}

	start := time.Now()
	granted := r.admin.DescribeBindings(ctx, cluster.PrincipalFilter(principal))
	result := future.Compose(granted, func(current []cluster.Binding) *future.Future[Result] {
		return r.apply(ctx, principal, BindingSet{}, NewBindingSet(current...))
	})

	return r.observe(result, "remove_all", principal, start)
}

// apply deletes toDelete, then creates toCreate, skipping empty steps.
func (r *Reconciler) apply(ctx context.Context, principal string, toCreate, toDelete BindingSet) *future.Future[Result] {
	res := Result{Principal: principal}

	deleted := future.Completed(struct{}{})
	if len(toDelete) > 0 {
		res.Deleted = toDelete.Bindings()
		deleted = future.Then(r.admin.DeleteBindings(ctx, toDelete.Filters()),
			func([]cluster.Binding) (struct{}, error) {
				r.metrics.bindingsChanged(r.environment, "delete", len(res.Deleted))
				return struct{}{}, nil
			})
	}

	return future.Compose(deleted, func(struct{}) *future.Future[Result] {
		if len(toCreate) == 0 {
			return future.Completed(res)
		}
		res.Created = toCreate.Bindings()
		return future.Then(r.admin.CreateBindings(ctx, res.Created), func(struct{}) (Result, error) {
			r.metrics.bindingsChanged(r.environment, "create", len(res.Created))
			return res, nil
		})
	})
}

func (r *Reconciler) observe(f *future.Future[Result], op, principal string, start time.Time) *future.Future[Result] {
	observed := future.NewPromise[Result]()
	f.OnComplete(func(res Result, err error) {
		r.metrics.reconciled(r.environment, op, err, time.Since(start))
		if err != nil {
			r.logger.Warn("Binding reconciliation failed", "operation", op, "principal", principal, "error", err)
		} else if res.Changed() {
			r.logger.Info("Reconciled bindings", "operation", op, "principal", principal,
				"created", len(res.Created), "deleted", len(res.Deleted))
		}
		observed.Resolve(res, err)
	})
	return observed.Future()
}
