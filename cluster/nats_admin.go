package cluster

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/HermesGermany/galapagos-sub000/errors"
	"github.com/HermesGermany/galapagos-sub000/future"
	"github.com/HermesGermany/galapagos-sub000/natsclient"
)

// NATSAdmin implements Admin on a JetStream cluster. Calls are queued to a
// single client goroutine and executed one at a time; their results are
// decoupled before they reach the caller.
type NATSAdmin struct {
	client      *natsclient.Client
	prefix      string
	aclReplicas int
	callTimeout time.Duration
	decoupler   *future.Decoupler
	logger      *slog.Logger

	calls    chan func()
	loopDone chan struct{}
	mu       sync.RWMutex
	closed   bool

	// Owned by the client goroutine
	acls *natsclient.KVStore
}

// AdminOption configures a NATSAdmin.
type AdminOption func(*NATSAdmin)

// WithInternalPrefix sets the environment prefix used for the authorization bucket.
func WithInternalPrefix(prefix string) AdminOption {
	return func(a *NATSAdmin) {
		a.prefix = prefix
	}
}

// WithACLReplicas sets the desired replica count of the authorization bucket.
func WithACLReplicas(n int) AdminOption {
	return func(a *NATSAdmin) {
		a.aclReplicas = n
	}
}

// WithCallTimeout bounds every admin call.
func WithCallTimeout(d time.Duration) AdminOption {
	return func(a *NATSAdmin) {
		if d > 0 {
			a.callTimeout = d
		}
	}
}

// WithDecoupler replaces the process-wide decoupler.
func WithDecoupler(d *future.Decoupler) AdminOption {
	return func(a *NATSAdmin) {
		if d != nil {
			a.decoupler = d
		}
	}
}

// NewNATSAdmin starts the client goroutine for client.
func NewNATSAdmin(client *natsclient.Client, logger *slog.Logger, opts ...AdminOption) *NATSAdmin {
	if logger == nil {
		logger = slog.Default()
	}
	a := &NATSAdmin{
		client:      client,
		aclReplicas: 3,
		callTimeout: 10 * time.Second,
		decoupler:   future.Default(),
		logger:      logger.With("component", "cluster-admin"),
		calls:       make(chan func(), 64),
		loopDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	go a.clientLoop()
	return a
}

func (a *NATSAdmin) clientLoop() {
	defer close(a.loopDone)
	for task := range a.calls {
		task()
	}
}

// Close stops the client goroutine after running the calls already queued.
func (a *NATSAdmin) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.calls)
	a.mu.Unlock()

	<-a.loopDone
	return nil
}

// adminCall queues fn on the client goroutine and decouples its result.
func adminCall[T any](a *NATSAdmin, ctx context.Context, method string, fn func(ctx context.Context) (T, error)) *future.Future[T] {
	p := future.NewPromise[T]()
	task := func() {
		callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
		defer cancel()

		v, err := fn(callCtx)
		if err != nil {
			a.logger.Debug("Admin call failed", "method", method, "error", err)
		}
		p.Resolve(v, err)
	}

	if err := a.enqueue(ctx, task); err != nil {
		return future.Failed[T](errors.WrapClassified(err, "NATSAdmin", method, "queue admin call"))
	}
	return future.Decouple(a.decoupler, p.Future())
}

func (a *NATSAdmin) enqueue(ctx context.Context, task func()) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return errors.ErrDisposed
	}
	select {
	case a.calls <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DescribeTopic implements Admin.
func (a *NATSAdmin) DescribeTopic(ctx context.Context, name string) *future.Future[TopicDescription] {
	return adminCall(a, ctx, "DescribeTopic", func(ctx context.Context) (TopicDescription, error) {
		cfg, err := a.topicStream(ctx, name, "DescribeTopic")
		if err != nil {
			return TopicDescription{}, err
		}
		return describe(name, cfg), nil
	})
}

// CreateTopic implements Admin. Topics always have one partition; the
// replication factor is capped at the JetStream maximum.
func (a *NATSAdmin) CreateTopic(ctx context.Context, spec TopicSpec) *future.Future[TopicDescription] {
	return adminCall(a, ctx, "CreateTopic", func(ctx context.Context) (TopicDescription, error) {
		if err := ValidateTopicName(spec.Name); err != nil {
			return TopicDescription{}, err
		}
		if spec.Partitions > 1 {
			return TopicDescription{}, errors.WrapInvalid(
				fmt.Errorf("%w: %d partitions requested", errors.ErrInvalidData, spec.Partitions),
				"NATSAdmin", "CreateTopic", "check partitions")
		}

		cfg := jetstream.StreamConfig{
			Name:        StreamName(spec.Name),
			Description: "Galapagos topic " + spec.Name,
			Subjects:    []string{SubjectFilter(spec.Name)},
			Retention:   jetstream.LimitsPolicy,
			Discard:     jetstream.DiscardOld,
			Storage:     jetstream.FileStorage,
			Replicas:    clampReplicas(spec.ReplicationFactor),
			Metadata:    map[string]string{TopicMetadataKey: spec.Name},
		}
		if err := applyConfigs(&cfg, spec.Configs); err != nil {
			return TopicDescription{}, err
		}

		if _, err := a.client.CreateStream(ctx, cfg); err != nil {
			if stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
				return TopicDescription{}, errors.WrapInvalid(
					fmt.Errorf("%w: topic %s", errors.ErrResourceConflict, spec.Name),
					"NATSAdmin", "CreateTopic", "create stream")
			}
			return TopicDescription{}, errors.WrapClassified(err, "NATSAdmin", "CreateTopic", "create stream")
		}

		a.logger.Info("Created topic", "topic", spec.Name, "stream", cfg.Name, "replicas", cfg.Replicas)
		return describe(spec.Name, cfg), nil
	})
}

// DeleteTopic implements Admin.
func (a *NATSAdmin) DeleteTopic(ctx context.Context, name string) *future.Future[struct{}] {
	return adminCall(a, ctx, "DeleteTopic", func(ctx context.Context) (struct{}, error) {
		if _, err := a.topicStream(ctx, name, "DeleteTopic"); err != nil {
			return struct{}{}, err
		}
		if err := a.client.DeleteStream(ctx, StreamName(name)); err != nil {
			return struct{}{}, errors.WrapClassified(err, "NATSAdmin", "DeleteTopic", "delete stream")
		}
		a.logger.Info("Deleted topic", "topic", name)
		return struct{}{}, nil
	})
}

// DescribeCluster implements Admin.
func (a *NATSAdmin) DescribeCluster(ctx context.Context) *future.Future[ClusterDescription] {
	return adminCall(a, ctx, "DescribeCluster", func(context.Context) (ClusterDescription, error) {
		if _, err := a.client.ServerCount(); err != nil {
			return ClusterDescription{}, errors.WrapTransient(err, "NATSAdmin", "DescribeCluster", "list servers")
		}

		var desc ClusterDescription
		if conn := a.client.Conn(); conn != nil {
			desc.ClusterID = conn.ConnectedClusterName()
		}
		servers := a.client.Servers()
		for i, url := range servers {
			desc.Nodes = append(desc.Nodes, Node{ID: strconv.Itoa(i), URL: url})
		}
		if len(desc.Nodes) == 0 {
			// Standalone servers do not gossip their URL list
			connected := ""
			if conn := a.client.Conn(); conn != nil {
				connected = conn.ConnectedUrl()
			}
			desc.Nodes = []Node{standaloneNode(a.client.URLs(), connected)}
		}
		return desc, nil
	})
}

// standaloneNode describes the single server of a non-clustered deployment.
// The connected URL wins over the configured list.
func standaloneNode(configured []string, connected string) Node {
	url := connected
	if url == "" && len(configured) > 0 {
		url = configured[0]
	}
	return Node{ID: "0", URL: url}
}

// DescribeConfigs implements Admin.
func (a *NATSAdmin) DescribeConfigs(ctx context.Context, topic string) *future.Future[map[string]string] {
	return adminCall(a, ctx, "DescribeConfigs", func(ctx context.Context) (map[string]string, error) {
		cfg, err := a.topicStream(ctx, topic, "DescribeConfigs")
		if err != nil {
			return nil, err
		}
		return streamConfigs(cfg), nil
	})
}

// AlterConfigs implements Admin.
func (a *NATSAdmin) AlterConfigs(ctx context.Context, topic string, configs map[string]string) *future.Future[struct{}] {
	return adminCall(a, ctx, "AlterConfigs", func(ctx context.Context) (struct{}, error) {
		cfg, err := a.topicStream(ctx, topic, "AlterConfigs")
		if err != nil {
			return struct{}{}, err
		}
		if err := applyConfigs(&cfg, configs); err != nil {
			return struct{}{}, err
		}
		if _, err := a.client.UpdateStream(ctx, cfg); err != nil {
			return struct{}{}, errors.WrapClassified(err, "NATSAdmin", "AlterConfigs", "update stream")
		}
		a.logger.Info("Altered topic configuration", "topic", topic, "configs", configs)
		return struct{}{}, nil
	})
}

// DescribeBindings implements Admin. Bindings are returned in a stable order.
func (a *NATSAdmin) DescribeBindings(ctx context.Context, filter BindingFilter) *future.Future[[]Binding] {
	return adminCall(a, ctx, "DescribeBindings", func(ctx context.Context) ([]Binding, error) {
		all, err := a.listBindings(ctx, "DescribeBindings")
		if err != nil {
			return nil, err
		}
		matched := make([]Binding, 0, len(all))
		for _, entry := range all {
			if filter.Matches(entry.binding) {
				matched = append(matched, entry.binding)
			}
		}
		return matched, nil
	})
}

// CreateBindings implements Admin. Creating an existing binding is a no-op.
func (a *NATSAdmin) CreateBindings(ctx context.Context, bindings []Binding) *future.Future[struct{}] {
	return adminCall(a, ctx, "CreateBindings", func(ctx context.Context) (struct{}, error) {
		for _, b := range bindings {
			if err := b.Validate(); err != nil {
				return struct{}{}, err
			}
		}

		acls, err := a.ensureACLs(ctx)
		if err != nil {
			return struct{}{}, err
		}
		for _, b := range bindings {
			data, err := json.Marshal(b)
			if err != nil {
				return struct{}{}, errors.WrapFatal(err, "NATSAdmin", "CreateBindings", "marshal binding")
			}
			if _, err := acls.Put(ctx, b.Key(), data); err != nil {
				return struct{}{}, errors.WrapClassified(err, "NATSAdmin", "CreateBindings", "store binding")
			}
		}
		a.logger.Debug("Created bindings", "count", len(bindings))
		return struct{}{}, nil
	})
}

// DeleteBindings implements Admin.
func (a *NATSAdmin) DeleteBindings(ctx context.Context, filters []BindingFilter) *future.Future[[]Binding] {
	return adminCall(a, ctx, "DeleteBindings", func(ctx context.Context) ([]Binding, error) {
		if len(filters) == 0 {
			return []Binding{}, nil
		}
		all, err := a.listBindings(ctx, "DeleteBindings")
		if err != nil {
			return nil, err
		}

		deleted := make([]Binding, 0)
		for _, entry := range all {
			if !MatchesAny(filters, entry.binding) {
				continue
			}
			if err := a.acls.Delete(ctx, entry.key); err != nil && !natsclient.IsKVNotFoundError(err) {
				return deleted, errors.WrapClassified(err, "NATSAdmin", "DeleteBindings", "delete binding")
			}
			deleted = append(deleted, entry.binding)
		}
		a.logger.Debug("Deleted bindings", "count", len(deleted))
		return deleted, nil
	})
}

// topicStream loads the stream configuration of topic, checking that the
// stream really belongs to it.
func (a *NATSAdmin) topicStream(ctx context.Context, topic, method string) (jetstream.StreamConfig, error) {
	if err := ValidateTopicName(topic); err != nil {
		return jetstream.StreamConfig{}, err
	}

	stream, err := a.client.Stream(ctx, StreamName(topic))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrStreamNotFound) {
			return jetstream.StreamConfig{}, errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrTopicNotFound, topic), "NATSAdmin", method, "look up stream")
		}
		return jetstream.StreamConfig{}, errors.WrapClassified(err, "NATSAdmin", method, "look up stream")
	}

	cfg := stream.CachedInfo().Config
	if owner, ok := cfg.Metadata[TopicMetadataKey]; ok && owner != topic {
		return jetstream.StreamConfig{}, errors.WrapInvalid(
			fmt.Errorf("%w: stream %s belongs to topic %s", errors.ErrResourceConflict, cfg.Name, owner),
			"NATSAdmin", method, "look up stream")
	}
	return cfg, nil
}

type bindingEntry struct {
	key     string
	binding Binding
}

func (a *NATSAdmin) listBindings(ctx context.Context, method string) ([]bindingEntry, error) {
	acls, err := a.ensureACLs(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := acls.Entries(ctx)
	if err != nil {
		return nil, errors.WrapClassified(err, "NATSAdmin", method, "list bindings")
	}

	result := make([]bindingEntry, 0, len(entries))
	for _, entry := range entries {
		var b Binding
		if err := json.Unmarshal(entry.Value, &b); err != nil || b.Validate() != nil {
			a.logger.Warn("Skipping malformed binding entry", "key", entry.Key)
			continue
		}
		result = append(result, bindingEntry{key: entry.Key, binding: b})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].binding.String() < result[j].binding.String()
	})
	return result, nil
}

// ensureACLs opens the authorization bucket on first use.
func (a *NATSAdmin) ensureACLs(ctx context.Context) (*natsclient.KVStore, error) {
	if a.acls != nil {
		return a.acls, nil
	}

	servers, err := a.client.ServerCount()
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSAdmin", "ensureACLs", "count servers")
	}
	replicas := clampReplicas(min(a.aclReplicas, servers))

	bucket, err := a.client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketName(a.prefix),
		Description: "Galapagos permission bindings",
		History:     1,
		Replicas:    replicas,
	})
	if err != nil {
		return nil, errors.WrapClassified(err, "NATSAdmin", "ensureACLs", "open binding bucket")
	}

	a.acls = a.client.NewKVStore(bucket)
	return a.acls, nil
}

func describe(topic string, cfg jetstream.StreamConfig) TopicDescription {
	replicas := cfg.Replicas
	if replicas < 1 {
		replicas = 1
	}
	return TopicDescription{Name: topic, Partitions: 1, ReplicationFactor: replicas}
}
