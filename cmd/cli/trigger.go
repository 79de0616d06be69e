package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/runbridge/runbridge/internal/config"
	"github.com/runbridge/runbridge/internal/correlate"
	"github.com/runbridge/runbridge/internal/notify"
	"github.com/runbridge/runbridge/internal/outputs"
	"github.com/runbridge/runbridge/internal/poll"
	"github.com/runbridge/runbridge/pkg/clients/actions"
)

func NewTriggerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Dispatch the workflow, find its run, and wait for completion",
		Long: `Dispatch the configured workflow, discover the run the dispatch created,
write its id and URL to the output channel, and poll until the run reaches
a terminal state. Configuration comes from environment variables; the flags
below override them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(cmd)
		},
	}

	cmd.Flags().String("owner", "", "Repository owner (env OWNER)")
	cmd.Flags().String("repo", "", "Repository name (env REPO)")
	cmd.Flags().String("workflow", "", "Workflow file name or id (env WORKFLOW_FILE_NAME)")
	cmd.Flags().String("ref", "", "Git reference to dispatch against (env REF)")

	return cmd
}

func runTrigger(cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	logger := log.With().Str("invocation_id", uuid.NewString()).Logger()

	client, err := actions.NewClient(
		actions.WithTarget(opts.Owner, opts.Repo, opts.WorkflowID),
		actions.WithToken(opts.Token),
		actions.WithBaseURL(opts.APIBaseURL),
	)
	if err != nil {
		return err
	}

	out, err := outputs.New()
	if err != nil {
		return err
	}
	defer out.Close()

	correlator := correlate.New(client, correlate.Config{
		Interval: opts.WaitInterval,
		Timeout:  opts.TriggerTimeout,
		Logger:   logger,
	})

	var run actions.RunSummary
	if opts.TriggerWorkflow {
		inputs, err := opts.DispatchInputs()
		if err != nil {
			return err
		}
		run, err = correlator.Trigger(ctx, &actions.DispatchRequest{Ref: opts.Ref, Inputs: inputs}, opts.Actor)
		if err != nil {
			return err
		}
	} else {
		run, err = correlator.Latest(ctx, opts.Actor)
		if err != nil {
			return err
		}
		logger.Info().Int64("run_id", run.ID).Msg("Trigger phase disabled, waiting on the latest run")
	}

	if err := out.Set("workflow_id", strconv.FormatInt(run.ID, 10)); err != nil {
		return err
	}
	if err := out.Set("workflow_url", run.HTMLURL); err != nil {
		return err
	}

	if opts.CommentDownstreamURL != "" {
		notify.New(opts.CommentDownstreamURL, opts.CommentToken, logger).RunStarted(ctx, run.HTMLURL)
	}

	if !opts.WaitWorkflow {
		logger.Info().Int64("run_id", run.ID).Msg("Wait phase disabled, not polling for completion")
		return nil
	}

	poller := poll.New(client, poll.Config{
		Interval:  opts.WaitInterval,
		FirstWait: opts.FirstWait,
		Outputs:   out,
		Logger:    logger,
	})

	result, err := poller.Wait(ctx, run.ID)
	if err != nil {
		return err
	}

	return reportOutcome(logger, run.ID, result, opts.PropagateFailure)
}

// reportOutcome maps the terminal poll result to the process outcome: a
// non-success conclusion becomes an error only when failure propagation is
// enabled; otherwise it is logged and the invocation still exits cleanly.
func reportOutcome(logger zerolog.Logger, runID int64, result poll.Result, propagateFailure bool) error {
	if result.Succeeded() {
		logger.Info().
			Int64("run_id", runID).
			Dur("elapsed", result.Elapsed).
			Msg("Workflow run succeeded")
		return nil
	}

	logger.Warn().
		Int64("run_id", runID).
		Str("conclusion", string(result.Conclusion)).
		Msg("Workflow run did not succeed")

	if propagateFailure {
		return fmt.Errorf("workflow run %d concluded with %q", runID, result.Conclusion)
	}

	return nil
}
