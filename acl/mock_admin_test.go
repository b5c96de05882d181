package acl

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/HermesGermany/galapagos-sub000/cluster"
	"github.com/HermesGermany/galapagos-sub000/future"
)

// mockAdmin is a cluster.Admin whose results come from mock expectations:
// Return(value, err).
type mockAdmin struct {
	mock.Mock
}

var _ cluster.Admin = (*mockAdmin)(nil)

func resolve[T any](args mock.Arguments) *future.Future[T] {
	if err := args.Error(1); err != nil {
		return future.Failed[T](err)
	}
	v, _ := args.Get(0).(T)
	// Complete from another goroutine like a real client
	p := future.NewPromise[T]()
	go p.Complete(v)
	return future.Decouple(future.Default(), p.Future())
}

func (m *mockAdmin) DescribeTopic(_ context.Context, name string) *future.Future[cluster.TopicDescription] {
	return resolve[cluster.TopicDescription](m.Called(name))
}

func (m *mockAdmin) CreateTopic(_ context.Context, spec cluster.TopicSpec) *future.Future[cluster.TopicDescription] {
	return resolve[cluster.TopicDescription](m.Called(spec))
}

func (m *mockAdmin) DeleteTopic(_ context.Context, name string) *future.Future[struct{}] {
	return resolve[struct{}](m.Called(name))
}

func (m *mockAdmin) DescribeCluster(context.Context) *future.Future[cluster.ClusterDescription] {
	return resolve[cluster.ClusterDescription](m.Called())
}

func (m *mockAdmin) DescribeConfigs(_ context.Context, topic string) *future.Future[map[string]string] {
	return resolve[map[string]string](m.Called(topic))
}

func (m *mockAdmin) AlterConfigs(_ context.Context, topic string, configs map[string]string) *future.Future[struct{}] {
	return resolve[struct{}](m.Called(topic, configs))
}

func (m *mockAdmin) DescribeBindings(_ context.Context, filter cluster.BindingFilter) *future.Future[[]cluster.Binding] {
	return resolve[[]cluster.Binding](m.Called(filter))
}

func (m *mockAdmin) CreateBindings(_ context.Context, bindings []cluster.Binding) *future.Future[struct{}] {
	return resolve[struct{}](m.Called(bindings))
}

func (m *mockAdmin) DeleteBindings(_ context.Context, filters []cluster.BindingFilter) *future.Future[[]cluster.Binding] {
	return resolve[[]cluster.Binding](m.Called(filters))
}
