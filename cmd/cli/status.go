package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runbridge/runbridge/internal/config"
	"github.com/runbridge/runbridge/pkg/clients/actions"
)

func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current status of a workflow run",
		Long:  `Fetch a single workflow run by id and print its status and conclusion without waiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := cmd.Flags().GetInt64("run-id")
			if err != nil {
				return err
			}
			return runStatus(cmd, runID)
		},
	}

	cmd.Flags().Int64("run-id", 0, "Workflow run id to query")
	_ = cmd.MarkFlagRequired("run-id")

	return cmd
}

func runStatus(cmd *cobra.Command, runID int64) error {
	opts, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	client, err := actions.NewClient(
		actions.WithTarget(opts.Owner, opts.Repo, opts.WorkflowID),
		actions.WithToken(opts.Token),
		actions.WithBaseURL(opts.APIBaseURL),
	)
	if err != nil {
		return err
	}

	run, err := client.GetRun(context.Background(), runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %d: %s\n", run.ID, run.HTMLURL)
	fmt.Printf("   Status: %s\n", run.Status)
	if run.Conclusion != actions.ConclusionNone {
		fmt.Printf("   Conclusion: %s\n", run.Conclusion)
	} else {
		fmt.Println("   Conclusion: (not completed)")
	}

	return nil
}
