package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/helvethink/release-orchestrator/pkg/controller"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

// Deploy executes one pipeline run synchronously for the given branch and
// revision, prints a summary of the run and exits non-zero unless the run
// succeeded. It goes through the exact same traversal as webhook ingestion,
// including the per-branch and per-target serialization.
func Deploy(cliCtx *cli.Context) (int, error) {
	// Load and validate configuration from CLI context
	cfg, err := configure(cliCtx)
	if err != nil {
		return 1, err
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	// Initialize the main controller with context, configuration, and app version
	c, err := controller.New(ctx, cfg, cliCtx.App.Version)
	if err != nil {
		return 1, err
	}

	ev := schemas.NewCommitEvent(cliCtx.String("branch"), cliCtx.String("revision"))

	run, runErr := c.RunPipeline(ctx, ev)

	// The summary enumerates the per-step and per-target outcomes in
	// execution order, whatever state the run ended in
	fmt.Print(controller.RunSummary(run))

	if runErr != nil {
		return 1, runErr
	}

	if run.State != schemas.RunStateSucceeded {
		return 1, fmt.Errorf("run ended in state %s", run.State)
	}

	return 0, nil
}
