// Package correlate matches a fired workflow dispatch to the run it created.
//
// The dispatch endpoint is fire-and-forget: it answers 204 and never echoes
// a run id. The only correlation signal available is time — a run created at
// or after the moment we dispatched, for the same workflow and event type,
// is taken to be ours. Two dispatches of the same workflow landing inside
// one polling window can therefore be matched to the wrong run; that is an
// accepted limitation of the underlying API, not something this package
// tries to paper over.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/runbridge/runbridge/pkg/clients/actions"
)

// ErrCorrelationTimeout means no run matching the dispatch appeared before
// the discovery deadline. Retrying further cannot disambiguate, so callers
// must treat this as fatal rather than proceed with a guessed run.
var ErrCorrelationTimeout = errors.New("timed out waiting for the dispatched workflow run to appear")

// ErrNoRuns means the workflow has no dispatch runs at all to resolve.
var ErrNoRuns = errors.New("workflow has no workflow_dispatch runs")

// SleepFunc pauses between discovery attempts. Tests inject a no-op.
type SleepFunc func(time.Duration)

// Config carries the correlator settings.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Sleep    SleepFunc
	Logger   zerolog.Logger
}

// Correlator dispatches a workflow trigger and discovers the run it created.
type Correlator struct {
	client   actions.ClientInterface
	interval time.Duration
	timeout  time.Duration
	sleep    SleepFunc
	logger   zerolog.Logger
}

// New creates a Correlator over the given client.
func New(client actions.ClientInterface, cfg Config) *Correlator {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	return &Correlator{
		client:   client,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		sleep:    sleep,
		logger:   cfg.Logger,
	}
}

// Trigger dispatches the workflow and returns the run the dispatch created.
//
// The start timestamp is captured immediately before the dispatch call, at
// second resolution to match the API's creation timestamps. Discovery then
// polls the recent workflow_dispatch runs until one created at or after that
// timestamp shows up, or the deadline passes.
func (c *Correlator) Trigger(ctx context.Context, req *actions.DispatchRequest, actor string) (actions.RunSummary, error) {
	startedAt := time.Now().UTC().Truncate(time.Second)

	if err := c.client.DispatchWorkflow(ctx, req); err != nil {
		return actions.RunSummary{}, fmt.Errorf("workflow dispatch failed: %w", err)
	}

	c.logger.Info().
		Str("ref", req.Ref).
		Time("started_at", startedAt).
		Msg("Workflow dispatched, discovering run")

	// The timeout is measured from the start timestamp, not from when the
	// dispatch call happened to return; a slow dispatch must not stretch
	// the discovery window.
	deadline := startedAt.Add(c.timeout)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return actions.RunSummary{}, err
		}
		if time.Now().After(deadline) {
			return actions.RunSummary{}, fmt.Errorf("%w (waited %s)", ErrCorrelationTimeout, c.timeout)
		}

		c.sleep(c.interval)

		runs, err := c.client.ListDispatchRuns(ctx, actions.ListRunsOptions{
			Actor:        actor,
			CreatedSince: startedAt,
		})
		if err != nil {
			if actions.IsTransient(err) {
				c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Transient error listing runs, will retry")
				continue
			}
			return actions.RunSummary{}, err
		}

		if run, ok := matchRun(runs, startedAt); ok {
			c.logger.Info().
				Int64("run_id", run.ID).
				Int("attempt", attempt).
				Msg("Dispatched run identified")
			return run, nil
		}

		c.logger.Debug().Int("attempt", attempt).Msg("No matching run yet")
	}
}

// Latest resolves the most recent dispatch run without triggering anything.
// Used when the trigger phase is disabled and the caller only wants to wait
// on whatever ran last.
func (c *Correlator) Latest(ctx context.Context, actor string) (actions.RunSummary, error) {
	runs, err := c.client.ListDispatchRuns(ctx, actions.ListRunsOptions{Actor: actor})
	if err != nil {
		return actions.RunSummary{}, err
	}

	for _, run := range runs {
		if run.Valid() {
			return run, nil
		}
	}

	return actions.RunSummary{}, ErrNoRuns
}

// matchRun picks the first (most recent) listed run created at or after the
// dispatch timestamp. Entries with a malformed or missing id are skipped so
// a half-materialized listing can never be accepted as a match.
func matchRun(runs []actions.RunSummary, startedAt time.Time) (actions.RunSummary, bool) {
	for _, run := range runs {
		if !run.Valid() {
			continue
		}
		if run.CreatedAt.Before(startedAt) {
			continue
		}
		return run, true
	}

	return actions.RunSummary{}, false
}
