package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HermesGermany/galapagos-sub000/future"
)

// DryRunCall is a mutating admin call that was recorded instead of executed.
type DryRunCall struct {
	ID     string
	Method string
	Args   any
	At     time.Time
}

// DryRunAdmin passes reads through to a delegate and records writes. Recorded
// writes complete immediately with empty results.
type DryRunAdmin struct {
	delegate Admin
	logger   *slog.Logger

	mu    sync.Mutex
	calls []DryRunCall
}

var _ Admin = (*DryRunAdmin)(nil)

// NewDryRunAdmin wraps delegate.
func NewDryRunAdmin(delegate Admin, logger *slog.Logger) *DryRunAdmin {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunAdmin{delegate: delegate, logger: logger.With("component", "dry-run-admin")}
}

// Calls returns the recorded writes in call order.
func (d *DryRunAdmin) Calls() []DryRunCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DryRunCall(nil), d.calls...)
}

// DryRun reports that writes through this admin are only simulated.
func (d *DryRunAdmin) DryRun() bool { return true }

func (d *DryRunAdmin) record(method string, args any) {
	call := DryRunCall{ID: uuid.NewString(), Method: method, Args: args, At: time.Now()}

	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()

	d.logger.Info("Dry run: skipping admin call", "method", method, "call_id", call.ID, "args", args)
}

// DescribeTopic implements Admin.
func (d *DryRunAdmin) DescribeTopic(ctx context.Context, name string) *future.Future[TopicDescription] {
	return d.delegate.DescribeTopic(ctx, name)
}

// CreateTopic implements Admin.
func (d *DryRunAdmin) CreateTopic(_ context.Context, spec TopicSpec) *future.Future[TopicDescription] {
	d.record("CreateTopic", spec)
	partitions := spec.Partitions
	if partitions < 1 {
		partitions = 1
	}
	return future.Completed(TopicDescription{
		Name:              spec.Name,
		Partitions:        partitions,
		ReplicationFactor: clampReplicas(spec.ReplicationFactor),
	})
}

// DeleteTopic implements Admin.
func (d *DryRunAdmin) DeleteTopic(_ context.Context, name string) *future.Future[struct{}] {
	d.record("DeleteTopic", name)
	return future.Completed(struct{}{})
}

// DescribeCluster implements Admin.
func (d *DryRunAdmin) DescribeCluster(ctx context.Context) *future.Future[ClusterDescription] {
	return d.delegate.DescribeCluster(ctx)
}

// DescribeConfigs implements Admin.
func (d *DryRunAdmin) DescribeConfigs(ctx context.Context, topic string) *future.Future[map[string]string] {
	return d.delegate.DescribeConfigs(ctx, topic)
}

// AlterConfigs implements Admin.
func (d *DryRunAdmin) AlterConfigs(_ context.Context, topic string, configs map[string]string) *future.Future[struct{}] {
	d.record("AlterConfigs", map[string]any{"topic": topic, "configs": configs})
	return future.Completed(struct{}{})
}

// DescribeBindings implements Admin.
func (d *DryRunAdmin) DescribeBindings(ctx context.Context, filter BindingFilter) *future.Future[[]Binding] {
	return d.delegate.DescribeBindings(ctx, filter)
}

// CreateBindings implements Admin.
func (d *DryRunAdmin) CreateBindings(_ context.Context, bindings []Binding) *future.Future[struct{}] {
	d.record("CreateBindings", append([]Binding(nil), bindings...))
	return future.Completed(struct{}{})
}

// DeleteBindings implements Admin.
func (d *DryRunAdmin) DeleteBindings(_ context.Context, filters []BindingFilter) *future.Future[[]Binding] {
	d.record("DeleteBindings", append([]BindingFilter(nil), filters...))
	return future.Completed([]Binding{})
}
