// Package worker runs the dispatcher loop: claim one pending job, route it
// to its handler, keep the lease alive while the handler works, and report
// the outcome. One dispatcher handles one job at a time; fleet throughput
// comes from running more worker processes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"shelfscan/internal/handlers"
	"shelfscan/internal/jobstore"
	"shelfscan/internal/logging"
	"shelfscan/internal/services"
)

// ClaimedJob is the dispatcher's view of one claimed job: the handler
// surface plus lease upkeep and failure reporting.
type ClaimedJob interface {
	handlers.JobHandle
	Heartbeat(ctx context.Context, cursor any) error
	Fail(ctx context.Context, jobErr error, submission jobstore.Submission) error
}

// Store claims pending work. A nil ClaimedJob with a nil error means no
// work is available.
type Store interface {
	Claim(ctx context.Context, workerID string, leaseSeconds int) (ClaimedJob, error)
}

// NewStore adapts the job store client to the dispatcher's Store.
func NewStore(client *jobstore.Client) Store {
	return clientStore{client: client}
}

type clientStore struct {
	client *jobstore.Client
}

func (s clientStore) Claim(ctx context.Context, workerID string, leaseSeconds int) (ClaimedJob, error) {
	claimed, err := s.client.Claim(ctx, workerID, leaseSeconds)
	if err != nil || claimed == nil {
		return nil, err
	}
	return claimed, nil
}

// Options configures dispatcher identity and timing.
type Options struct {
	// WorkerID identifies this process in claims; empty generates one.
	WorkerID string
	// LeaseSeconds is the claim lease requested from the store.
	LeaseSeconds int
	// PollInterval is the sleep between empty claim attempts.
	PollInterval time.Duration
	// HeartbeatInterval is the lease refresh cadence while a handler runs.
	HeartbeatInterval time.Duration
	// ErrorBackoff is the initial sleep after a failed job; it doubles per
	// consecutive failure up to ErrorBackoffMax and resets on success.
	ErrorBackoff    time.Duration
	ErrorBackoffMax time.Duration
	// LockPath guards against a second dispatcher on the same work dir;
	// empty disables the lock.
	LockPath string
	Logger   *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		o.WorkerID = host + "-" + uuid.NewString()[:8]
	}
	if o.LeaseSeconds <= 0 {
		o.LeaseSeconds = 120
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 10 * time.Second
	}
	if o.ErrorBackoffMax <= 0 {
		o.ErrorBackoffMax = 5 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
}

// Dispatcher is the poll/claim/route/submit loop.
type Dispatcher struct {
	store    Store
	registry *handlers.Registry
	opts     Options
	logger   *slog.Logger
	lock     *flock.Flock
}

// New constructs a dispatcher over the given store and handler registry.
func New(store Store, registry *handlers.Registry, opts Options) (*Dispatcher, error) {
	if store == nil || registry == nil {
		return nil, errors.New("worker: store and registry are required")
	}
	opts.applyDefaults()
	d := &Dispatcher{
		store:    store,
		registry: registry,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "dispatcher"),
	}
	if opts.LockPath != "" {
		d.lock = flock.New(opts.LockPath)
	}
	return d, nil
}

// WorkerID returns the identity used in claims.
func (d *Dispatcher) WorkerID() string { return d.opts.WorkerID }

// Run loops until the context is cancelled. It returns an error only when
// startup fails; a cancelled context is a clean shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.lock != nil {
		ok, err := d.lock.TryLock()
		if err != nil {
			return fmt.Errorf("worker: acquire lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("worker: another dispatcher holds %s", d.opts.LockPath)
		}
		defer func() {
			if err := d.lock.Unlock(); err != nil {
				d.logger.Warn("failed to release dispatcher lock", logging.Error(err))
			}
		}()
	}

	d.logger.Info("dispatcher started",
		logging.String(logging.FieldWorkerID, d.opts.WorkerID),
		logging.Any("types", d.registry.Types()))

	backoff := d.opts.ErrorBackoff
	for {
		if ctx.Err() != nil {
			d.logger.Info("dispatcher stopped")
			return nil
		}

		claimed, err := d.store.Claim(ctx, d.opts.WorkerID, d.opts.LeaseSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("claim failed", logging.Error(err))
			if !d.sleep(ctx, backoff) {
				return nil
			}
			backoff = d.nextBackoff(backoff)
			continue
		}
		if claimed == nil {
			if !d.sleep(ctx, d.opts.PollInterval) {
				return nil
			}
			continue
		}

		if err := d.process(ctx, claimed); err != nil {
			if !d.sleep(ctx, backoff) {
				return nil
			}
			backoff = d.nextBackoff(backoff)
			continue
		}
		backoff = d.opts.ErrorBackoff
	}
}

// process runs one claimed job under heartbeat. The returned error reflects
// the job's outcome and only drives the failure backoff; it is never fatal
// to the loop.
func (d *Dispatcher) process(ctx context.Context, claimed ClaimedJob) error {
	job := claimed.Job()
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, d.logger).With(
		logging.String(logging.FieldJobType, string(job.Type)))

	handler := d.registry.Lookup(job.Type)
	if handler == nil {
		err := services.Wrap(services.ErrValidation, "dispatcher", "route", "no handler for job type", nil)
		logger.Error("unroutable job",
			logging.String(logging.FieldEventType, "job_failed"),
			logging.Error(err))
		if failErr := claimed.Fail(ctx, err, jobstore.Submission{}); failErr != nil {
			logger.Warn("failed to report unroutable job", logging.Error(failErr))
		}
		return err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var leaseLost atomic.Bool
	heartbeatDone := d.startHeartbeat(jobCtx, cancel, claimed, &leaseLost, logger)

	logger.Info("job started", logging.String(logging.FieldEventType, "job_started"))
	started := time.Now()
	err := handler.Handle(jobCtx, claimed)
	cancel()
	<-heartbeatDone

	if err != nil {
		// When the heartbeat noticed the lost lease, the handler usually
		// surfaces a wrapped cancellation, not the lease error itself. Check
		// the flag as well, so the new owner's job never gets a stale Fail.
		if leaseLost.Load() || errors.Is(err, services.ErrLeaseLost) {
			logger.Warn("lease lost mid-job",
				logging.String(logging.FieldEventType, "lease_lost"),
				logging.Error(err))
			return err
		}
		attrs := []logging.Attr{
			logging.String(logging.FieldEventType, "job_failed"),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.Error(err),
			logging.Duration("elapsed", time.Since(started)),
		}
		if hint := services.Hint(err); hint != "" {
			attrs = append(attrs, logging.String(logging.FieldErrorHint, hint))
		}
		logger.Error("job failed", logging.Args(attrs...)...)
		if failErr := claimed.Fail(ctx, err, jobstore.Submission{}); failErr != nil {
			logger.Warn("failed to report job failure", logging.Error(failErr))
		}
		return err
	}

	logger.Info("job finished",
		logging.String(logging.FieldEventType, "job_completed"),
		logging.Duration("elapsed", time.Since(started)))
	return nil
}

// startHeartbeat refreshes the lease on a ticker until the job context
// ends. A heartbeat that reports the lease lost records the loss and cancels
// the job context so the handler stops issuing writes under a lease it no
// longer holds.
func (d *Dispatcher) startHeartbeat(ctx context.Context, cancel context.CancelFunc, claimed ClaimedJob, lost *atomic.Bool, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(d.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := claimed.Heartbeat(ctx, nil)
			if err == nil {
				continue
			}
			if errors.Is(err, services.ErrLeaseLost) || errors.Is(err, services.ErrNotFound) {
				logger.Warn("lease lost, aborting job", logging.Error(err))
				lost.Store(true)
				cancel()
				return
			}
			// Transient heartbeat trouble; the next tick retries.
			logger.Warn("heartbeat failed", logging.Error(err))
		}
	}()
	return done
}

func (d *Dispatcher) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > d.opts.ErrorBackoffMax {
		next = d.opts.ErrorBackoffMax
	}
	return next
}

// sleep waits for the duration or the context, reporting false on cancel.
func (d *Dispatcher) sleep(ctx context.Context, duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
