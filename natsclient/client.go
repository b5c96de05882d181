package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/HermesGermany/galapagos-sub000/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Client owns the connection to a single environment. It is safe for
// concurrent use.
type Client struct {
	urls   []string
	status atomic.Value // ConnectionStatus
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	// Circuit breaker
	failures         atomic.Int32
	circuitFailures  atomic.Int32
	circuitThreshold int32
	backoff          atomic.Int64 // time.Duration
	maxBackoff       time.Duration

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Authentication, cleared on close
	username  string
	password  string
	token     string
	credsFile string
	tlsConfig *tls.Config

	clientName string

	jsMetrics *jetstreamMetrics

	onHealthChange func(bool)

	mu     sync.RWMutex
	closed atomic.Bool
}

// NewClient creates a client for the given server URLs. Nothing is dialled
// until Connect.
func NewClient(urls []string, opts ...ClientOption) (*Client, error) {
	if len(urls) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "check server urls")
	}

	c := &Client{
		urls:             urls,
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(int64(time.Second))

	return c, nil
}

// URLs returns the configured server URLs
func (c *Client) URLs() []string {
	return c.urls
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
}

// IsHealthy returns true if the connection is up
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the total failure count since the last success
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// Backoff returns the current circuit breaker backoff
func (c *Client) Backoff() time.Duration {
	return time.Duration(c.backoff.Load())
}

// recordFailure counts a failed operation and opens the circuit once the
// threshold is reached within one round.
func (c *Client) recordFailure() {
	c.failures.Add(1)
	if c.circuitFailures.Add(1) < c.circuitThreshold {
		return
	}

	current := c.Status()
	if current != StatusCircuitOpen && !c.status.CompareAndSwap(current, StatusCircuitOpen) {
		return
	}

	wait := c.Backoff()
	next := wait * 2
	if next > c.maxBackoff {
		next = c.maxBackoff
	}
	c.backoff.Store(int64(next))
	c.circuitFailures.Store(0)

	if current != StatusCircuitOpen {
		c.logger.Warn("NATS circuit breaker opened", "backoff", wait)
		time.AfterFunc(wait, c.halfOpen)
	}
}

// resetCircuit clears the breaker after a successful operation.
func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(int64(time.Second))
	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// halfOpen lets the next operation through after the backoff elapsed.
func (c *Client) halfOpen() {
	if c.Status() != StatusCircuitOpen {
		return
	}
	if conn := c.Conn(); conn != nil && conn.IsConnected() {
		c.setStatus(StatusConnected)
		return
	}
	c.setStatus(StatusDisconnected)
}

// guard rejects calls while the circuit is open or the client is offline.
func (c *Client) guard() error {
	switch c.Status() {
	case StatusCircuitOpen:
		return ErrCircuitOpen
	case StatusConnected:
		return nil
	default:
		return ErrNotConnected
	}
}

func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.credsFile != "" {
		opts = append(opts, nats.UserCredentials(c.credsFile))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts
}

// Connect dials the cluster and initialises JetStream.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrDisposed, "Client", "Connect", "check client state")
	}
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	url := strings.Join(c.urls, ",")
	c.logger.Info("Connecting to NATS", "servers", len(c.urls))

	type result struct {
		conn *nats.Conn
		err  error
	}
	connectDone := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(url, c.buildConnectionOptions()...)
		connectDone <- result{conn: conn, err: err}
	}()

	var res result
	select {
	case res = <-connectDone:
	case <-ctx.Done():
		c.recordFailure()
		if c.Status() != StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
		// Close a connection that completes after we gave up
		go func() {
			if late := <-connectDone; late.conn != nil {
				late.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	if res.err != nil {
		c.recordFailure()
		if c.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		c.setStatus(StatusDisconnected)
		return errors.WrapClassified(res.err, "Client", "Connect", "establish connection")
	}

	js, err := jetstream.New(res.conn)
	if err != nil {
		res.conn.Close()
		c.setStatus(StatusDisconnected)
		return errors.WrapFatal(err, "Client", "Connect", "initialise JetStream")
	}

	c.mu.Lock()
	c.conn = res.conn
	c.js = js
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("Connected to NATS", "server", res.conn.ConnectedUrlRedacted())

	if c.onHealthChange != nil {
		c.onHealthChange(true)
	}
	return nil
}

// WaitForConnection waits until the connection is healthy
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
}

// Close drains and closes the connection. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.username, c.password, c.token = "", "", ""
	c.mu.Unlock()

	defer c.setStatus(StatusDisconnected)
	if conn == nil {
		return nil
	}

	drainTimeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- conn.Drain()
	}()

	var drainErr error
	select {
	case err := <-drainDone:
		if err != nil {
			drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
		}
	case <-time.After(drainTimeout):
		drainErr = errors.WrapTransient(fmt.Errorf("drain timeout after %v", drainTimeout),
			"Client", "Close", "drain connection")
	case <-ctx.Done():
		drainErr = errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}

	conn.Close()
	if drainErr != nil {
		c.logger.Error("NATS drain failed, connection force closed", "error", drainErr)
	}
	return drainErr
}

// Conn returns the underlying connection, nil while disconnected.
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// ServerCount returns the number of cluster servers known to the connection.
func (c *Client) ServerCount() (int, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	conn := c.Conn()
	if conn == nil {
		return 0, ErrNotConnected
	}
	servers := conn.Servers()
	if len(servers) == 0 {
		return 1, nil
	}
	return len(servers), nil
}

// Servers returns the URLs of all cluster servers known to the connection.
func (c *Client) Servers() []string {
	conn := c.Conn()
	if conn == nil {
		return nil
	}
	return conn.Servers()
}

// jetStreamCall runs fn with the breaker and failure accounting around it.
func (c *Client) jetStreamCall(operation string, fn func(js jetstream.JetStream) error) error {
	if err := c.guard(); err != nil {
		return err
	}
	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return err
	}
	if err := fn(js); err != nil {
		// Missing resources and bad requests say nothing about connectivity
		if errors.IsTransient(err) {
			c.recordFailure()
		}
		c.jsMetrics.recordError(operation)
		return err
	}
	c.resetCircuit()
	return nil
}

// Stream looks up an existing stream.
func (c *Client) Stream(ctx context.Context, name string) (jetstream.Stream, error) {
	var stream jetstream.Stream
	err := c.jetStreamCall("get_stream", func(js jetstream.JetStream) error {
		var err error
		stream, err = js.Stream(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.jsMetrics.trackStream(name, stream)
	return stream, nil
}

// CreateStream creates a stream, failing if one with the same name exists
// with a different configuration.
func (c *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	var stream jetstream.Stream
	err := c.jetStreamCall("create_stream", func(js jetstream.JetStream) error {
		var err error
		stream, err = js.CreateStream(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.jsMetrics.trackStream(cfg.Name, stream)
	return stream, nil
}

// UpdateStream applies a new configuration to an existing stream.
func (c *Client) UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	var stream jetstream.Stream
	err := c.jetStreamCall("update_stream", func(js jetstream.JetStream) error {
		var err error
		stream, err = js.UpdateStream(ctx, cfg)
		return err
	})
	return stream, err
}

// DeleteStream removes a stream and all of its messages.
func (c *Client) DeleteStream(ctx context.Context, name string) error {
	err := c.jetStreamCall("delete_stream", func(js jetstream.JetStream) error {
		return js.DeleteStream(ctx, name)
	})
	if err == nil {
		c.jsMetrics.untrackStream(name)
	}
	return err
}

// PublishAsync publishes msg without waiting for the acknowledgement. The
// returned future completes on the JetStream client's reply goroutine.
func (c *Client) PublishAsync(msg *nats.Msg) (jetstream.PubAckFuture, error) {
	var ack jetstream.PubAckFuture
	err := c.jetStreamCall("publish", func(js jetstream.JetStream) error {
		var err error
		ack, err = js.PublishMsgAsync(msg)
		return err
	})
	return ack, err
}

// OrderedConsumer creates an ordered, ephemeral consumer on stream. Ordered
// consumers are recreated transparently by the client after gaps.
func (c *Client) OrderedConsumer(
	ctx context.Context, stream string, cfg jetstream.OrderedConsumerConfig,
) (jetstream.Consumer, error) {
	var consumer jetstream.Consumer
	err := c.jetStreamCall("create_consumer", func(js jetstream.JetStream) error {
		var err error
		consumer, err = js.OrderedConsumer(ctx, stream, cfg)
		return err
	})
	return consumer, err
}

// EnsureKeyValue returns the bucket, creating it on first use.
func (c *Client) EnsureKeyValue(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	var bucket jetstream.KeyValue
	err := c.jetStreamCall("ensure_kv", func(js jetstream.JetStream) error {
		var err error
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
		if err == nil {
			return nil
		}
		if !stderrors.Is(err, jetstream.ErrBucketNotFound) {
			return err
		}

		bucket, err = js.CreateKeyValue(ctx, cfg)
		if err != nil && isAlreadyExistsError(err) {
			// Lost a creation race against another process
			bucket, err = js.KeyValue(ctx, cfg.Bucket)
		}
		if err == nil {
			c.logger.Info("Created KV bucket", "bucket", cfg.Bucket)
		}
		return err
	})
	return bucket, err
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	if err != nil {
		c.logger.Warn("NATS disconnected", "error", err)
	}
	if c.onHealthChange != nil {
		go c.onHealthChange(false)
	}
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("NATS reconnected", "server", conn.ConnectedUrlRedacted())
	if c.onHealthChange != nil {
		go c.onHealthChange(true)
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
	if c.onHealthChange != nil {
		go c.onHealthChange(false)
	}
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	c.logger.Error("NATS async error", "subject", subject, "error", err)
}

// isAlreadyExistsError checks if an error indicates a stream or bucket exists
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) || stderrors.Is(err, jetstream.ErrBucketExists) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "already in use") || strings.Contains(errStr, "already exists")
}
