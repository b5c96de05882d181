package testutil

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HermesGermany/galapagos-sub000/cluster"
	"github.com/HermesGermany/galapagos-sub000/errors"
	"github.com/HermesGermany/galapagos-sub000/future"
)

// FakeCluster is an in-memory environment implementing cluster.Admin and
// handing out fake senders and consumers. Results of admin calls and sends
// are completed on a separate goroutine, like a real client would.
// Thread-safe for concurrent use from multiple goroutines.
type FakeCluster struct {
	mu        sync.Mutex
	servers   int
	topics    map[string]*fakeTopic
	bindings  map[string]cluster.Binding
	calls     map[string]int
	failures  map[string]error
	sendErr   error
	appended  chan struct{}
	decoupler *future.Decoupler
}

type fakeTopic struct {
	spec    cluster.TopicSpec
	configs map[string]string
	log     []cluster.Record
}

var _ cluster.Admin = (*FakeCluster)(nil)

// NewFakeCluster creates an empty cluster with the given number of servers.
func NewFakeCluster(servers int) *FakeCluster {
	if servers < 1 {
		servers = 1
	}
	return &FakeCluster{
		servers:   servers,
		topics:    make(map[string]*fakeTopic),
		bindings:  make(map[string]cluster.Binding),
		calls:     make(map[string]int),
		failures:  make(map[string]error),
		appended:  make(chan struct{}),
		decoupler: future.Default(),
	}
}

// SetDecoupler replaces the decoupler used for admin results.
func (c *FakeCluster) SetDecoupler(d *future.Decoupler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoupler = d
}

// FailNext makes the next call of method fail with err.
func (c *FakeCluster) FailNext(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[method] = err
}

// SetSendError makes every send fail with err until cleared with nil.
func (c *FakeCluster) SetSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Calls returns how often method was called.
func (c *FakeCluster) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// ResetCalls clears the call counters.
func (c *FakeCluster) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = make(map[string]int)
}

// Topic returns the spec a topic was created with.
func (c *FakeCluster) Topic(name string) (cluster.TopicSpec, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.topics[name]
	if !ok {
		return cluster.TopicSpec{}, false
	}
	return t.spec, true
}

// AddTopic creates a topic without going through the admin API.
func (c *FakeCluster) AddTopic(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.topics[name]; !ok {
		c.topics[name] = &fakeTopic{
			spec:    cluster.TopicSpec{Name: name, Partitions: 1, ReplicationFactor: 1},
			configs: map[string]string{cluster.ConfigCleanupPolicy: cluster.CleanupCompact},
		}
	}
}

// Records returns every record appended to topic, oldest first.
func (c *FakeCluster) Records(topic string) []cluster.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.topics[topic]
	if !ok {
		return nil
	}
	return append([]cluster.Record(nil), t.log...)
}

// Append writes a record to topic directly, as another process would.
func (c *FakeCluster) Append(topic, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(topic, key, value)
}

func (c *FakeCluster) appendLocked(topic, key string, value []byte) error {
	t, ok := c.topics[topic]
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrTopicNotFound, topic), "FakeCluster", "Append", "find topic")
	}
	t.log = append(t.log, cluster.Record{
		Topic:     topic,
		Key:       key,
		Value:     append([]byte(nil), value...),
		Sequence:  uint64(len(t.log) + 1),
		Timestamp: time.Now(),
	})
	close(c.appended)
	c.appended = make(chan struct{})
	return nil
}

// SetBindings replaces the granted bindings.
func (c *FakeCluster) SetBindings(bindings ...cluster.Binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = make(map[string]cluster.Binding, len(bindings))
	for _, b := range bindings {
		c.bindings[b.Key()] = b
	}
}

// Bindings returns the granted bindings in a stable order.
func (c *FakeCluster) Bindings() []cluster.Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedBindingsLocked(cluster.BindingFilter{})
}

func (c *FakeCluster) sortedBindingsLocked(filter cluster.BindingFilter) []cluster.Binding {
	result := make([]cluster.Binding, 0, len(c.bindings))
	for _, b := range c.bindings {
		if filter.Matches(b) {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].String() < result[j].String() })
	return result
}

// begin counts a call and returns an injected failure, if any.
func (c *FakeCluster) begin(method string) error {
	c.calls[method]++
	if err, ok := c.failures[method]; ok {
		delete(c.failures, method)
		return err
	}
	return nil
}

// fakeCall runs fn under the cluster lock and completes the result from
// another goroutine.
func fakeCall[T any](c *FakeCluster, method string, fn func() (T, error)) *future.Future[T] {
	c.mu.Lock()
	var v T
	err := c.begin(method)
	if err == nil {
		v, err = fn()
	}
	d := c.decoupler
	c.mu.Unlock()

	p := future.NewPromise[T]()
	go p.Resolve(v, err)
	return future.Decouple(d, p.Future())
}

// DescribeTopic implements cluster.Admin.
func (c *FakeCluster) DescribeTopic(_ context.Context, name string) *future.Future[cluster.TopicDescription] {
	return fakeCall(c, "DescribeTopic", func() (cluster.TopicDescription, error) {
		t, ok := c.topics[name]
		if !ok {
			return cluster.TopicDescription{}, errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrTopicNotFound, name), "FakeCluster", "DescribeTopic", "find topic")
		}
		return cluster.TopicDescription{
			Name:              name,
			Partitions:        t.spec.Partitions,
			ReplicationFactor: t.spec.ReplicationFactor,
		}, nil
	})
}

// CreateTopic implements cluster.Admin.
func (c *FakeCluster) CreateTopic(_ context.Context, spec cluster.TopicSpec) *future.Future[cluster.TopicDescription] {
	return fakeCall(c, "CreateTopic", func() (cluster.TopicDescription, error) {
		if _, ok := c.topics[spec.Name]; ok {
			return cluster.TopicDescription{}, errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrResourceConflict, spec.Name), "FakeCluster", "CreateTopic", "create topic")
		}
		if spec.ReplicationFactor > c.servers {
			return cluster.TopicDescription{}, errors.WrapInvalid(
				fmt.Errorf("%w: replication factor %d exceeds %d servers", errors.ErrInvalidData, spec.ReplicationFactor, c.servers),
				"FakeCluster", "CreateTopic", "create topic")
		}
		configs := make(map[string]string, len(spec.Configs))
		for k, v := range spec.Configs {
			configs[k] = v
		}
		c.topics[spec.Name] = &fakeTopic{spec: spec, configs: configs}
		return cluster.TopicDescription{
			Name:              spec.Name,
			Partitions:        spec.Partitions,
			ReplicationFactor: spec.ReplicationFactor,
		}, nil
	})
}

// DeleteTopic implements cluster.Admin.
func (c *FakeCluster) DeleteTopic(_ context.Context, name string) *future.Future[struct{}] {
	return fakeCall(c, "DeleteTopic", func() (struct{}, error) {
		if _, ok := c.topics[name]; !ok {
			return struct{}{}, errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrTopicNotFound, name), "FakeCluster", "DeleteTopic", "find topic")
		}
		delete(c.topics, name)
		return struct{}{}, nil
	})
}

// DescribeCluster implements cluster.Admin.
func (c *FakeCluster) DescribeCluster(context.Context) *future.Future[cluster.ClusterDescription] {
	return fakeCall(c, "DescribeCluster", func() (cluster.ClusterDescription, error) {
		desc := cluster.ClusterDescription{ClusterID: "fake"}
		for i := 0; i < c.servers; i++ {
			desc.Nodes = append(desc.Nodes, cluster.Node{
				ID:  strconv.Itoa(i),
				URL: fmt.Sprintf("nats://fake-%d:4222", i),
			})
		}
		return desc, nil
	})
}

// DescribeConfigs implements cluster.Admin.
func (c *FakeCluster) DescribeConfigs(_ context.Context, topic string) *future.Future[map[string]string] {
	return fakeCall(c, "DescribeConfigs", func() (map[string]string, error) {
		t, ok := c.topics[topic]
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrTopicNotFound, topic), "FakeCluster", "DescribeConfigs", "find topic")
		}
		configs := make(map[string]string, len(t.configs))
		for k, v := range t.configs {
			configs[k] = v
		}
		return configs, nil
	})
}

// AlterConfigs implements cluster.Admin.
func (c *FakeCluster) AlterConfigs(_ context.Context, topic string, configs map[string]string) *future.Future[struct{}] {
	return fakeCall(c, "AlterConfigs", func() (struct{}, error) {
		t, ok := c.topics[topic]
		if !ok {
			return struct{}{}, errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrTopicNotFound, topic), "FakeCluster", "AlterConfigs", "find topic")
		}
		for k, v := range configs {
			t.configs[k] = v
		}
		return struct{}{}, nil
	})
}

// DescribeBindings implements cluster.Admin.
func (c *FakeCluster) DescribeBindings(_ context.Context, filter cluster.BindingFilter) *future.Future[[]cluster.Binding] {
	return fakeCall(c, "DescribeBindings", func() ([]cluster.Binding, error) {
		return c.sortedBindingsLocked(filter), nil
	})
}

// CreateBindings implements cluster.Admin.
func (c *FakeCluster) CreateBindings(_ context.Context, bindings []cluster.Binding) *future.Future[struct{}] {
	return fakeCall(c, "CreateBindings", func() (struct{}, error) {
		for _, b := range bindings {
			if err := b.Validate(); err != nil {
				return struct{}{}, err
			}
		}
		for _, b := range bindings {
			c.bindings[b.Key()] = b
		}
		return struct{}{}, nil
	})
}

// DeleteBindings implements cluster.Admin.
func (c *FakeCluster) DeleteBindings(_ context.Context, filters []cluster.BindingFilter) *future.Future[[]cluster.Binding] {
	return fakeCall(c, "DeleteBindings", func() ([]cluster.Binding, error) {
		deleted := make([]cluster.Binding, 0)
		for key, b := range c.bindings {
			if cluster.MatchesAny(filters, b) {
				deleted = append(deleted, b)
				delete(c.bindings, key)
			}
		}
		return deleted, nil
	})
}

// Sender returns a sender appending to this cluster.
func (c *FakeCluster) Sender() *FakeSender {
	return &FakeSender{cluster: c}
}

// FakeSender implements cluster.Sender on a FakeCluster.
type FakeSender struct {
	cluster *FakeCluster
}

var _ cluster.Sender = (*FakeSender)(nil)

// Send implements cluster.Sender.
func (s *FakeSender) Send(_ context.Context, topic, key string, value []byte) *future.Future[struct{}] {
	c := s.cluster
	return fakeCall(c, "Send", func() (struct{}, error) {
		if c.sendErr != nil {
			return struct{}{}, c.sendErr
		}
		return struct{}{}, c.appendLocked(topic, key, value)
	})
}
