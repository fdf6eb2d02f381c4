package agent

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-co-op/gocron/v2"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"

	"github.com/scalaric/decryptor/internal/agentrpc"
	"github.com/scalaric/decryptor/internal/errs"
)

// pullRetryInterval and pullRetryAttempts bound the in-pass retry of a
// single pull before it counts against a repository's FailedPulls
// budget: a pull that fails once on a transient network blip shouldn't
// burn a slot in the slower, persistent circuit breaker.
const pullRetryInterval = 2 * time.Second
const pullRetryAttempts = 3

// MinRefreshInterval is the floor below which a configured refresh
// interval is rejected (spec.md section 4.6).
const MinRefreshInterval = 10 * time.Second

// DefaultRefreshInterval is the production refresh cadence.
const DefaultRefreshInterval = 180 * time.Second

// MaxFailedPulls bounds the per-repository retry counter; once reached
// the loop stops pulling that repository until SetRepository resets it.
const MaxFailedPulls = 5

// ValidateRefreshInterval rejects any interval below MinRefreshInterval.
func ValidateRefreshInterval(interval time.Duration) error {
	if interval < MinRefreshInterval {
		return errs.New(errs.RefreshIntervalShort, "refresh interval is below the floor")
	}
	return nil
}

// Refresher runs the permanent pull loop described in spec.md section
// 4.6 on top of gocron's in-process scheduler.
type Refresher struct {
	registry *Registry
	git      *GitEngine
	log      logr.Logger
	interval time.Duration

	// retryInterval and retryAttempts bound pullWithRetry; they default
	// to the package constants and exist as fields mainly so tests can
	// shrink them.
	retryInterval time.Duration
	retryAttempts int

	scheduler gocron.Scheduler
}

// NewRefresher builds a Refresher. interval must already have passed
// ValidateRefreshInterval.
func NewRefresher(registry *Registry, git *GitEngine, log logr.Logger, interval time.Duration) (*Refresher, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, errs.Wrap(errs.RepoConfig, "failed to build scheduler", err)
	}
	return &Refresher{
		registry:      registry,
		git:           git,
		log:           log,
		interval:      interval,
		retryInterval: pullRetryInterval,
		retryAttempts: pullRetryAttempts,
		scheduler:     scheduler,
	}, nil
}

// Start registers the periodic job and runs one pass immediately, per
// spec.md section 4.6 point 4 ("the loop also runs once at startup").
func (r *Refresher) Start(ctx context.Context) error {
	r.runOnce(ctx)

	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() { r.runOnce(ctx) }),
	)
	if err != nil {
		return errs.Wrap(errs.RepoConfig, "failed to schedule refresh job", err)
	}
	r.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down.
func (r *Refresher) Stop() error {
	return r.scheduler.Shutdown()
}

// runOnce copies the current record set out of the registry (releasing
// the lock before any pull), then spawns one independent task per
// record to pull it, per spec.md section 4.6 point 2: a repository
// whose git subprocess hangs must not stall any other repository's
// pull within the same pass.
func (r *Refresher) runOnce(ctx context.Context) {
	records := r.registry.Snapshot()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		aggregate *multierror.Error
	)
	for _, rec := range records {
		if rec.FailedPulls >= MaxFailedPulls {
			r.log.Info("skipping pull, retry budget exhausted", "url", rec.URL, "failedPulls", rec.FailedPulls)
			continue
		}

		wg.Add(1)
		go func(rec Record) {
			defer wg.Done()

			if err := r.pullWithRetry(ctx, rec.WorkingTree, rec.Auth); err != nil {
				r.log.Error(err, "pull failed", "url", rec.URL)
				mu.Lock()
				aggregate = multierror.Append(aggregate, err)
				mu.Unlock()
				if _, incErr := r.registry.IncrementFailedPulls(rec.URL); incErr != nil {
					r.log.Error(incErr, "failed to persist pull failure count", "url", rec.URL)
				}
				return
			}

			if err := r.registry.ResetFailedPulls(rec.URL); err != nil {
				r.log.Error(err, "failed to reset pull failure count", "url", rec.URL)
			}
		}(rec)
	}
	wg.Wait()

	if aggregate != nil {
		r.log.V(1).Info("refresh pass completed with failures", "count", aggregate.Len())
	}
}

// pullWithRetry retries a single pull a bounded number of times on a
// fixed interval before giving up, absorbing transient failures that
// don't warrant tripping the persistent FailedPulls counter.
func (r *Refresher) pullWithRetry(ctx context.Context, workingTree string, auth agentrpc.GitAuth) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.retryInterval), uint64(r.retryAttempts-1)),
		ctx,
	)
	return backoff.Retry(func() error {
		return r.git.Pull(ctx, workingTree, auth)
	}, policy)
}
