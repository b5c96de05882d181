package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HermesGermany/galapagos-sub000/cluster"
	"github.com/HermesGermany/galapagos-sub000/errors"
)

// State is the lifecycle state of an ingest loop.
type State int32

// Ingest loop states.
const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ContainerConfig configures the ingest loop of one environment.
type ContainerConfig struct {
	// InternalPrefix is prepended to collection names to form topic names.
	InternalPrefix    string
	ReplicationFactor int
	PollTimeout       time.Duration
	ErrorBackoff      time.Duration
}

// DefaultContainerConfig returns the standard timings.
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		ReplicationFactor: 3,
		PollTimeout:       10 * time.Second,
		ErrorBackoff:      30 * time.Second,
	}
}

// collection is the type-erased view of a Store used by the loop.
type collection interface {
	Name() string
	topicName() string
	recordType() string
	apply(cluster.Record) error
}

// Container owns the collections of one environment and the single ingest
// loop that applies records read from their topics.
type Container struct {
	environment string
	cfg         ContainerConfig
	admin       cluster.Admin
	sender      cluster.Sender
	consumer    cluster.Consumer
	logger      *slog.Logger
	metrics     *Metrics

	regMu       sync.Mutex // serializes registration and provisioning
	mu          sync.Mutex
	collections map[string]collection // by logical name

	dirty      atomic.Bool
	state      atomic.Int32
	disposed   atomic.Bool
	registered chan struct{}
	stop       chan struct{}
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc

	errMu sync.Mutex
	err   error
}

// NewContainer starts the ingest loop for environment in the Idle state. The
// loop owns consumer and closes it on exit.
func NewContainer(
	environment string,
	cfg ContainerConfig,
	admin cluster.Admin,
	sender cluster.Sender,
	consumer cluster.Consumer,
	logger *slog.Logger,
	metrics *Metrics,
) *Container {
	defaults := DefaultContainerConfig()
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaults.PollTimeout
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaults.ErrorBackoff
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = defaults.ReplicationFactor
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Container{
		environment: environment,
		cfg:         cfg,
		admin:       admin,
		sender:      sender,
		consumer:    consumer,
		logger:      logger.With("component", "replication", "environment", environment),
		metrics:     metrics,
		collections: make(map[string]collection),
		registered:  make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.setState(StateIdle)

	go c.run()
	return c
}

// Environment returns the environment id.
func (c *Container) Environment() string {
	return c.environment
}

// State returns the current loop state.
func (c *Container) State() State {
	return State(c.state.Load())
}

// Err returns the error that stopped the loop, if any.
func (c *Container) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Done is closed once the loop has exited and closed its consumer.
func (c *Container) Done() <-chan struct{} {
	return c.done
}

// Collections returns the registered collection names.
func (c *Container) Collections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.collections))
	for name := range c.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register returns the store for name, provisioning its topic on first use.
// Registering an existing name with the same record type returns the same
// store; a different record type is an invalid error. Provisioning errors are
// returned as fatal errors and leave nothing registered.
func Register[T Record](ctx context.Context, c *Container, name string, codec Codec[T]) (*Store[T], error) {
	if codec == nil {
		codec = JSONCodec[T]{}
	}
	if c.disposed.Load() {
		return nil, errors.WrapFatal(errors.ErrDisposed, "Container", "Register", "check environment state")
	}
	if c.State() == StateStopped {
		return nil, errors.WrapFatal(fmt.Errorf("%w: ingest loop stopped: %v", errors.ErrShuttingDown, c.Err()),
			"Container", "Register", "check environment state")
	}

	c.regMu.Lock()
	defer c.regMu.Unlock()

	c.mu.Lock()
	existing, ok := c.collections[name]
	c.mu.Unlock()
	if ok {
		store, match := existing.(*Store[T])
		if !match {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s holds %s", errors.ErrTypeMismatch, name, existing.recordType()),
				"Container", "Register", "reuse collection")
		}
		return store, nil
	}

	topic := c.cfg.InternalPrefix + name
	if err := cluster.ValidateTopicName(topic); err != nil {
		return nil, err
	}
	if err := c.provision(ctx, topic); err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %s: %w", errors.ErrProvisioning, topic, err),
			"Container", "Register", "provision topic")
	}
	if c.disposed.Load() {
		return nil, errors.WrapFatal(errors.ErrDisposed, "Container", "Register", "check environment state")
	}

	store := newStore[T](c, name, topic, codec)

	c.mu.Lock()
	c.collections[name] = store
	c.mu.Unlock()

	c.logger.Info("Registered collection", "collection", name, "topic", topic)
	c.dirty.Store(true)
	select {
	case c.registered <- struct{}{}:
	default:
	}
	// Resubscribe now instead of after the current poll
	if c.State() == StateRunning {
		c.consumer.Wakeup()
	}
	return store, nil
}

// provision creates topic unless it exists: one partition, compacted,
// replication bounded by the live server count.
func (c *Container) provision(ctx context.Context, topic string) error {
	_, err := c.admin.DescribeTopic(ctx, topic).Get(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errors.ErrTopicNotFound) {
		return err
	}

	desc, err := c.admin.DescribeCluster(ctx).Get(ctx)
	if err != nil {
		return err
	}
	replicas := min(c.cfg.ReplicationFactor, len(desc.Nodes))
	if replicas < 1 {
		replicas = 1
	}

	_, err = c.admin.CreateTopic(ctx, cluster.TopicSpec{
		Name:              topic,
		Partitions:        1,
		ReplicationFactor: replicas,
		Configs:           map[string]string{cluster.ConfigCleanupPolicy: cluster.CleanupCompact},
	}).Get(ctx)
	if errors.Is(err, errors.ErrResourceConflict) {
		// Created concurrently by another process
		return nil
	}
	if err != nil {
		return err
	}
	if dry, ok := c.admin.(interface{ DryRun() bool }); ok && dry.DryRun() {
		c.logger.Warn("Collection topic not created in dry run, writes to it will fail",
			"topic", topic)
		return nil
	}
	c.logger.Info("Created collection topic", "topic", topic, "replication_factor", replicas)
	return nil
}

// Dispose stops the loop and waits until it has closed the consumer or ctx
// is done. Later calls only wait.
func (c *Container) Dispose(ctx context.Context) error {
	if c.disposed.CompareAndSwap(false, true) {
		c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		c.metrics.setState(c.environment, c.State())
		close(c.stop)
		c.cancel()
		c.consumer.Wakeup()
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Container", "Dispose", "wait for ingest loop")
	}
}

func (c *Container) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.setState(c.environment, s)
}

func (c *Container) run() {
	defer close(c.done)
	defer func() {
		if err := c.consumer.Close(); err != nil {
			c.logger.Warn("Closing consumer failed", "error", err)
		}
		c.setState(StateStopped)
		c.logger.Info("Ingest loop stopped")
	}()

	select {
	case <-c.registered:
	case <-c.stop:
		return
	}
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return
	}
	c.metrics.setState(c.environment, StateRunning)
	c.logger.Info("Ingest loop running")

	var byTopic map[string]collection
	for !c.stopping() {
		if c.dirty.Swap(false) {
			byTopic = c.snapshot()
			if err := c.consumer.Subscribe(c.ctx, topicNames(byTopic)); err != nil {
				c.dirty.Store(true)
				if c.stopping() || !c.recover(err) {
					return
				}
				continue
			}
			c.metrics.resubscribed(c.environment)
			c.logger.Debug("Resubscribed", "topics", len(byTopic))
		}

		records, err := c.consumer.Poll(c.ctx, c.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, cluster.ErrWakeup) || c.stopping() {
				continue
			}
			if !c.recover(err) {
				return
			}
			continue
		}

		for _, rec := range records {
			c.dispatch(byTopic, rec)
		}
	}
}

func (c *Container) stopping() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// recover handles a subscribe or poll error. It backs off and returns true
// for recoverable errors; authorization and other fatal errors stop the loop.
func (c *Container) recover(err error) bool {
	class := errors.Classify(err)
	c.metrics.pollError(c.environment, class.String())

	if class == errors.ErrorFatal {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		c.logger.Error("Ingest loop stopped by unrecoverable error, collections no longer receive updates",
			"auth", errors.IsAuth(err), "error", err)
		return false
	}

	c.logger.Warn("Ingest loop error, backing off", "backoff", c.cfg.ErrorBackoff, "error", err)
	timer := time.NewTimer(c.cfg.ErrorBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.stop:
		return false
	}
}

func (c *Container) dispatch(byTopic map[string]collection, rec cluster.Record) {
	coll, ok := byTopic[rec.Topic]
	if !ok {
		c.metrics.skipped(c.environment, "unknown_topic")
		c.logger.Warn("Dropping record for unknown topic", "topic", rec.Topic, "key", rec.Key)
		return
	}
	if err := coll.apply(rec); err != nil {
		c.metrics.skipped(c.environment, "invalid")
		c.logger.Warn("Skipping invalid record", "topic", rec.Topic, "key", rec.Key, "error", err)
		return
	}
	c.metrics.applied(c.environment, coll.Name())
}

func (c *Container) snapshot() map[string]collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	byTopic := make(map[string]collection, len(c.collections))
	for _, coll := range c.collections {
		byTopic[coll.topicName()] = coll
	}
	return byTopic
}

func topicNames(byTopic map[string]collection) []string {
	names := make([]string, 0, len(byTopic))
	for t := range byTopic {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}
