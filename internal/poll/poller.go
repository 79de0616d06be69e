// Package poll blocks until a workflow run reaches a terminal state.
package poll

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/runbridge/runbridge/internal/outputs"
	"github.com/runbridge/runbridge/pkg/clients/actions"
)

// SleepFunc pauses between status checks. Tests inject a no-op.
type SleepFunc func(time.Duration)

// Config carries the poller settings.
type Config struct {
	Interval  time.Duration
	FirstWait time.Duration
	Sleep     SleepFunc
	Outputs   *outputs.Writer
	Logger    zerolog.Logger
}

// Result is the terminal observation of one polled run.
type Result struct {
	Status     actions.Status
	Conclusion actions.Conclusion
	Attempts   int
	Elapsed    time.Duration
}

// Succeeded reports whether the run concluded successfully.
func (r Result) Succeeded() bool {
	return r.Conclusion == actions.ConclusionSuccess
}

// Poller repeatedly queries a run until it completes. The loop has no
// internal timeout: CI run durations are inherently variable, and an
// artificial bound would just be a guess at workload length. Cancellation
// arrives through the context.
type Poller struct {
	client    actions.ClientInterface
	interval  time.Duration
	firstWait time.Duration
	sleep     SleepFunc
	outputs   *outputs.Writer
	logger    zerolog.Logger
}

// New creates a Poller over the given client.
func New(client actions.ClientInterface, cfg Config) *Poller {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	return &Poller{
		client:    client,
		interval:  cfg.Interval,
		firstWait: cfg.FirstWait,
		sleep:     sleep,
		outputs:   cfg.Outputs,
		logger:    cfg.Logger,
	}
}

// Wait blocks until the run reaches a terminal state and returns the final
// status and conclusion. Every poll tick emits a progress record with the
// conclusion observed so far, so the surrounding orchestrator can watch
// partial progress. Transient API errors are absorbed by the loop; fatal
// ones abort.
func (p *Poller) Wait(ctx context.Context, runID int64) (Result, error) {
	if p.firstWait > 0 {
		p.logger.Info().Dur("first_wait", p.firstWait).Msg("Waiting before first status check")
		p.sleep(p.firstWait)
	}

	startedAt := time.Now()
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		run, err := p.client.GetRun(ctx, runID)
		if err != nil {
			if actions.IsTransient(err) {
				p.logger.Warn().Err(err).Int64("run_id", runID).Msg("Transient error fetching run, will retry")
				p.sleep(p.interval)
				continue
			}
			return Result{}, err
		}

		attempts++

		if p.outputs != nil {
			if err := p.outputs.Set("conclusion", string(run.Conclusion)); err != nil {
				return Result{}, err
			}
		}

		p.logger.Info().
			Int64("run_id", runID).
			Str("status", string(run.Status)).
			Str("conclusion", string(run.Conclusion)).
			Int("attempt", attempts).
			Msg("Run status")

		if run.Done() {
			return Result{
				Status:     run.Status,
				Conclusion: run.Conclusion,
				Attempts:   attempts,
				Elapsed:    time.Since(startedAt),
			}, nil
		}

		p.sleep(p.interval)
	}
}
