// Package worker provides the pool of background workers that drain the
// durable job store. Each worker claims a job for the registered types, runs
// the matching Handler while keeping its lease alive, and records the
// outcome through the store's complete/fail transitions.
//
// The pool holds no state that must survive a restart. A job left processing
// by a killed process is requeued once its lease expires. A pool with a
// configured NodeID also requeues every claim of that node at startup; two
// live processes must never share a configured NodeID.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/chronicle/pkg/eventstream"
	"github.com/papercomputeco/chronicle/pkg/eventstream/nop"
	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/logger"
	"github.com/papercomputeco/chronicle/pkg/storage"
)

var (
	defaultNumWorkers    uint = 3
	defaultPollInterval       = 2 * time.Second
	defaultLeaseDuration      = 5 * time.Minute
	defaultSweepInterval      = 30 * time.Second

	// finalizeTimeout bounds the store writes that record a job outcome.
	finalizeTimeout = 30 * time.Second
)

// Handler executes one job. A nil error completes the job with the returned
// result; any other error fails the attempt.
type Handler interface {
	Handle(ctx context.Context, job *jobs.Job) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *jobs.Job) (map[string]any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job *jobs.Job) (map[string]any, error) {
	return f(ctx, job)
}

// Classifier decides whether a handler error is worth retrying and what
// diagnostic payload to keep on the job.
type Classifier func(err error) (retryable bool, diagnostic map[string]any)

// Config is the configuration options for the worker pool.
type Config struct {
	// Store is the durable job store the pool drains.
	Store storage.JobStore

	// Handlers maps each job type the pool serves to its handler.
	Handlers map[jobs.Type]Handler

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// PollInterval is how long an idle worker waits before claiming again
	// when nobody calls Wake.
	PollInterval time.Duration

	// LeaseDuration is how long a claim stays live without a heartbeat.
	LeaseDuration time.Duration

	// SweepInterval is the period of the expired-lease sweep. Negative
	// disables the periodic sweep; the startup scan always runs.
	SweepInterval time.Duration

	// NodeID prefixes every worker id of this process. When set it must be
	// stable across restarts and unique among live processes sharing a
	// store; the startup scan then reclaims every job the node still holds.
	// When empty a per-process id is generated and only expired leases are
	// recovered.
	NodeID string

	// Backoff schedules retries of retryable failures.
	Backoff jobs.Backoff

	// Classify maps handler errors to retry decisions. Defaults to retrying
	// everything until attempts run out.
	Classify Classifier

	// Publisher receives job lifecycle events.
	Publisher eventstream.Publisher

	// Logger is the provided slog logger.
	Logger *slog.Logger
}

// Pool runs the workers and the stale-claim sweeper.
type Pool struct {
	config     *Config
	types      []jobs.Type
	logger     *slog.Logger
	stableNode bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
}

// NewPool validates c, fills defaults and returns an unstarted pool.
func NewPool(c *Config) (*Pool, error) {
	if c.Store == nil {
		return nil, errors.New("worker pool requires a job store")
	}
	if len(c.Handlers) == 0 {
		return nil, errors.New("worker pool requires at least one handler")
	}
	for t, h := range c.Handlers {
		if !t.Valid() {
			return nil, fmt.Errorf("handler registered for unknown job type %q", t)
		}
		if h == nil {
			return nil, fmt.Errorf("nil handler for job type %q", t)
		}
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.NumWorkers > uint(math.MaxInt32) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int32", c.NumWorkers)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaultLeaseDuration
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = defaultSweepInterval
	}
	stableNode := c.NodeID != ""
	if !stableNode {
		c.NodeID = ephemeralNodeID()
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = jobs.DefaultBackoff()
	}
	if c.Classify == nil {
		c.Classify = func(error) (bool, map[string]any) { return true, nil }
	}
	if c.Publisher == nil {
		c.Publisher = nop.NewPublisher()
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	types := make([]jobs.Type, 0, len(c.Handlers))
	for _, t := range jobs.AllTypes() {
		if _, ok := c.Handlers[t]; ok {
			types = append(types, t)
		}
	}

	return &Pool{
		config:     c,
		types:      types,
		logger:     c.Logger.With("node_id", c.NodeID),
		stableNode: stableNode,
		wake:       make(chan struct{}, c.NumWorkers),
		stop:       make(chan struct{}),
	}, nil
}

// ephemeralNodeID names a process that has no configured node id.
func ephemeralNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// NodeID returns the node id the pool's worker ids start with.
func (p *Pool) NodeID() string {
	return p.config.NodeID
}

// ownerPrefix is shared by every worker id of this node.
func (p *Pool) ownerPrefix() string {
	return p.config.NodeID + "/"
}

func (p *Pool) workerID(i uint) string {
	return fmt.Sprintf("%sworker-%d", p.ownerPrefix(), i)
}

// Start recovers expired claims, plus every claim of a configured node, and
// launches the workers and the sweeper. ctx is handed to handlers;
// cancelling it abandons in-flight jobs, which stay processing until their
// lease expires or the node restarts. Start may only
// be called once.
func (p *Pool) Start(ctx context.Context) error {
	started := false
	var err error
	p.startOnce.Do(func() {
		started = true
		err = p.start(ctx)
	})
	if !started {
		return errors.New("worker pool already started")
	}
	return err
}

func (p *Pool) start(ctx context.Context) error {
	q := jobs.StaleQuery{Now: time.Now().UTC()}
	if p.stableNode {
		q.OwnerPrefix = p.ownerPrefix()
	}
	n, err := p.config.Store.RequeueStale(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	if n > 0 {
		p.logger.Info("recovered stale jobs at startup", "count", n)
	}

	p.wg.Add(int(p.config.NumWorkers))
	for i := range p.config.NumWorkers {
		go p.worker(ctx, p.workerID(i))
	}

	if p.config.SweepInterval > 0 {
		p.wg.Add(1)
		go p.sweeper(ctx)
	}

	p.logger.Info("worker pool started",
		"workers", p.config.NumWorkers,
		"job_types", p.types,
	)
	return nil
}

// Wake nudges idle workers to claim immediately. It never blocks.
func (p *Pool) Wake() {
	for range p.config.NumWorkers {
		select {
		case p.wake <- struct{}{}:
		default:
			return
		}
	}
}

// Close stops claiming new jobs and waits for in-flight handlers to return.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
}

func (p *Pool) stopping(ctx context.Context) bool {
	select {
	case <-p.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// idle blocks until a wake signal, the poll interval, or shutdown. It
// reports false on shutdown.
func (p *Pool) idle(ctx context.Context) bool {
	timer := time.NewTimer(p.config.PollInterval)
	defer timer.Stop()

	select {
	case <-p.stop:
		return false
	case <-ctx.Done():
		return false
	case <-p.wake:
		return true
	case <-timer.C:
		return true
	}
}

// worker is the inner worker loop that continuously claims jobs.
func (p *Pool) worker(ctx context.Context, workerID string) {
	defer p.wg.Done()
	log := p.logger.With("worker_id", workerID)
	log.Debug("worker started")

	for !p.stopping(ctx) {
		job, err := p.config.Store.ClaimNext(ctx, workerID, p.types, p.config.LeaseDuration)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("failed to claim job", "error", err)
			}
			if !p.idle(ctx) {
				break
			}
			continue
		}
		if job == nil {
			if !p.idle(ctx) {
				break
			}
			continue
		}

		p.process(ctx, workerID, job)
	}

	log.Debug("worker stopped")
}

// sweeper periodically requeues claims whose lease expired, whichever node
// held them.
func (p *Pool) sweeper(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := p.config.Store.RequeueStale(ctx, jobs.StaleQuery{Now: time.Now().UTC()})
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("stale job sweep failed", "error", err)
			}
			continue
		}
		if n > 0 {
			p.logger.Warn("requeued stale jobs", "count", n)
			p.Wake()
		}
	}
}
