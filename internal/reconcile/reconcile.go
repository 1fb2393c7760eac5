// Package reconcile fetches a finished call's analytics from the provider,
// polling until they are ready, and merges them into the user's record.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dennisdiepolder/hostline/internal/metrics"
	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/rs/zerolog"
)

// ErrAnalyticsNotReady is returned when every attempt saw an empty record
var ErrAnalyticsNotReady = errors.New("analytics not ready")

var errNotReady = errors.New("empty analytics record")

const (
	DefaultMaxAttempts = 10
	DefaultDelay       = 5 * time.Second
)

// AnalyticsFetcher loads the provider's record for a call
type AnalyticsFetcher interface {
	GetCall(ctx context.Context, callID string) (types.AnalyticsRecord, error)
}

// AnalyticsWriter persists one call's analytics for a user
type AnalyticsWriter interface {
	MergeAnalytics(ctx context.Context, userID, callID string, record types.AnalyticsRecord) error
}

// Options tune a Reconciler. A zero MaxAttempts falls back to the default.
type Options struct {
	MaxAttempts int
	Delay       time.Duration
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics

	// OnSaved is called after a record has been merged
	OnSaved func(userID, callID string)
}

// Reconciler runs analytics reconciliations
type Reconciler struct {
	fetcher     AnalyticsFetcher
	store       AnalyticsWriter
	maxAttempts int
	delay       time.Duration
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	onSaved     func(userID, callID string)

	wg sync.WaitGroup
}

func New(fetcher AnalyticsFetcher, store AnalyticsWriter, opts Options) *Reconciler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Delay < 0 {
		opts.Delay = DefaultDelay
	}
	return &Reconciler{
		fetcher:     fetcher,
		store:       store,
		maxAttempts: opts.MaxAttempts,
		delay:       opts.Delay,
		logger:      opts.Logger.With().Str("component", "reconciler").Logger(),
		metrics:     opts.Metrics,
		onSaved:     opts.OnSaved,
	}
}

// Run reconciles one call synchronously. Every attempt, the first
// included, is preceded by the configured delay. An empty record is
// retried; any fetch error ends the run at once.
func (r *Reconciler) Run(ctx context.Context, userID, callID string) error {
	start := time.Now()
	log := r.logger.With().Str("user_id", userID).Str("call_id", callID).Logger()

	record, attempts, err := r.poll(ctx, callID)
	if err == nil {
		err = r.store.MergeAnalytics(ctx, userID, callID, record)
		if err != nil {
			err = fmt.Errorf("failed to save analytics: %w", err)
			r.finish(log, metrics.OutcomeStoreErr, start, attempts, err)
			return err
		}
		r.finish(log, metrics.OutcomeSaved, start, attempts, nil)
		if r.onSaved != nil {
			r.onSaved(userID, callID)
		}
		return nil
	}

	switch {
	case ctx.Err() != nil:
		r.finish(log, metrics.OutcomeCanceled, start, attempts, err)
		return ctx.Err()
	case errors.Is(err, errNotReady):
		err = fmt.Errorf("%w after %d attempts", ErrAnalyticsNotReady, attempts)
		r.finish(log, metrics.OutcomeExhausted, start, attempts, err)
		return err
	default:
		err = fmt.Errorf("failed to fetch analytics: %w", err)
		r.finish(log, metrics.OutcomeHTTPError, start, attempts, err)
		return err
	}
}

func (r *Reconciler) poll(ctx context.Context, callID string) (types.AnalyticsRecord, int, error) {
	timer := time.NewTimer(r.delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, 0, ctx.Err()
	case <-timer.C:
	}

	var (
		record   types.AnalyticsRecord
		attempts int
	)
	op := func() error {
		attempts++
		r.metrics.RecordReconcileAttempt()

		rec, err := r.fetcher.GetCall(ctx, callID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if rec.IsEmpty() {
			return errNotReady
		}
		record = rec
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.delay), uint64(r.maxAttempts-1)),
		ctx,
	)
	notify := func(err error, next time.Duration) {
		r.logger.Debug().Str("call_id", callID).Int("attempt", attempts).Dur("retry_in", next).Msg("analytics not ready, retrying")
	}

	err := backoff.RetryNotify(op, b, notify)
	return record, attempts, err
}

func (r *Reconciler) finish(log zerolog.Logger, outcome string, start time.Time, attempts int, err error) {
	r.metrics.RecordReconciliation(outcome, time.Since(start))

	var ev *zerolog.Event
	switch outcome {
	case metrics.OutcomeSaved:
		ev = log.Info()
	case metrics.OutcomeCanceled, metrics.OutcomeExhausted:
		ev = log.Warn().Err(err)
	default:
		ev = log.Error().Err(err)
	}
	ev.Str("outcome", outcome).Int("attempts", attempts).Dur("elapsed", time.Since(start)).Msg("reconciliation finished")
}

// Reconcile starts Run in the background and returns its future. Callers
// that do not care about the outcome may drop the result.
func (r *Reconciler) Reconcile(ctx context.Context, userID, callID string) *Result {
	res := &Result{UserID: userID, CallID: callID, done: make(chan struct{})}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res.err = r.Run(ctx, userID, callID)
		close(res.done)
	}()
	return res
}

// Wait blocks until every reconciliation started so far has finished or
// ctx is done.
func (r *Reconciler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
