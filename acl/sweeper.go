package acl

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/HermesGermany/galapagos-sub000/errors"
	"github.com/HermesGermany/galapagos-sub000/metric"
	"github.com/HermesGermany/galapagos-sub000/pkg/worker"
)

// SweeperConfig bounds the work of a sweep.
type SweeperConfig struct {
	Workers       int
	QueueSize     int
	RatePerSecond float64
	Burst         int
}

// DefaultSweeperConfig returns conservative limits for a shared cluster.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Workers:       4,
		QueueSize:     256,
		RatePerSecond: 10,
		Burst:         5,
	}
}

// SweepResult summarizes a sweep.
type SweepResult struct {
	Principals int
	Failed     int
	Created    int
	Deleted    int
}

type sweepTask struct {
	principal string
	done      func(Result, error)
}

// Sweeper reconciles many principals on a worker pool, throttled by a token
// bucket so a sweep cannot flood the admin client. Failures of single
// principals are logged and counted; they never abort the sweep.
type Sweeper struct {
	environment string
	reconciler  *Reconciler
	limiter     *rate.Limiter
	pool        *worker.Pool[sweepTask]
	logger      *slog.Logger
	metrics     *Metrics
}

// NewSweeper creates a sweeper. registry may be nil.
func NewSweeper(
	environment string,
	reconciler *Reconciler,
	cfg SweeperConfig,
	logger *slog.Logger,
	metrics *Metrics,
	registry *metric.MetricsRegistry,
) *Sweeper {
	defaults := DefaultSweeperConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaults.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sweeper{
		environment: environment,
		reconciler:  reconciler,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:      logger.With("component", "acl_sweeper", "environment", environment),
		metrics:     metrics,
	}

	var opts []worker.Option[sweepTask]
	if registry != nil {
		opts = append(opts, worker.WithMetricsRegistry[sweepTask](registry, "acl_sweep_"+metricSafe(environment)))
	}
	s.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, s.process, opts...)
	return s
}

// Start starts the workers. They stop when ctx ends or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	return s.pool.Start(ctx)
}

// Stop stops the workers, waiting at most timeout.
func (s *Sweeper) Stop(timeout time.Duration) error {
	return s.pool.Stop(timeout)
}

// Sweep reconciles every principal and waits for all of them. It returns an
// error only when ctx ends or the pool cannot accept work; the counts cover
// the principals processed so far.
func (s *Sweeper) Sweep(ctx context.Context, principals []string) (SweepResult, error) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result SweepResult
	)

	for _, principal := range principals {
		wg.Add(1)
		task := sweepTask{
			principal: principal,
			done: func(res Result, err error) {
				defer wg.Done()
				mu.Lock()
				defer mu.Unlock()
				result.Principals++
				if err != nil {
					result.Failed++
					return
				}
				result.Created += len(res.Created)
				result.Deleted += len(res.Deleted)
			},
		}
		if err := s.pool.SubmitWait(ctx, task); err != nil {
			wg.Done()
			return s.snapshot(&mu, &result), errors.WrapTransient(err, "Sweeper", "Sweep", "submit principal")
		}
	}

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-ctx.Done():
		return s.snapshot(&mu, &result), errors.WrapTransient(ctx.Err(), "Sweeper", "Sweep", "wait for principals")
	}

	s.metrics.swept(s.environment)
	s.logger.Info("Sweep completed", "principals", result.Principals, "failed", result.Failed,
		"created", result.Created, "deleted", result.Deleted)
	return result, nil
}

func (s *Sweeper) snapshot(mu *sync.Mutex, result *SweepResult) SweepResult {
	mu.Lock()
	defer mu.Unlock()
	return *result
}

func (s *Sweeper) process(ctx context.Context, task sweepTask) error {
	if err := s.limiter.Wait(ctx); err != nil {
		task.done(Result{}, err)
		return err
	}

	res, err := s.reconciler.Reconcile(ctx, task.principal).Get(ctx)
	if err != nil {
		s.logger.Warn("Reconciling principal failed", "principal", task.principal, "error", err)
	}
	task.done(res, err)
	return err
}

// metricSafe maps an environment id onto the metric name alphabet.
func metricSafe(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			return r
		}
		return '_'
	}, s)
}
