package cluster

import (
	"context"

	"github.com/HermesGermany/galapagos-sub000/future"
)

// Admin is the administrative surface of one environment. Every call returns
// a decoupled future: continuations never run on the client's own goroutine.
// Admin implementations are safe for concurrent use.
type Admin interface {
	// DescribeTopic fails with errors.ErrTopicNotFound for unknown topics.
	DescribeTopic(ctx context.Context, name string) *future.Future[TopicDescription]
	CreateTopic(ctx context.Context, spec TopicSpec) *future.Future[TopicDescription]
	DeleteTopic(ctx context.Context, name string) *future.Future[struct{}]
	DescribeCluster(ctx context.Context) *future.Future[ClusterDescription]

	DescribeConfigs(ctx context.Context, topic string) *future.Future[map[string]string]
	AlterConfigs(ctx context.Context, topic string, configs map[string]string) *future.Future[struct{}]

	DescribeBindings(ctx context.Context, filter BindingFilter) *future.Future[[]Binding]
	CreateBindings(ctx context.Context, bindings []Binding) *future.Future[struct{}]
	// DeleteBindings returns the bindings that were removed.
	DeleteBindings(ctx context.Context, filters []BindingFilter) *future.Future[[]Binding]
}
