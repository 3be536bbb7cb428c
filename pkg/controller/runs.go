package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

// targetOutcome captures how one target's rollout ended within a run.
type targetOutcome struct {
	target schemas.DeploymentTarget
	state  schemas.RolloutState
	err    error
}

// RunPipeline executes a full pipeline run for a commit event, holding the
// branch's queue entry for the whole traversal. It is the synchronous entry
// point used by the one-shot deploy command; webhook ingestion goes through
// the task queue instead and ends up in the same place.
//
// A second event for the same branch while a run is still in flight is
// rejected, the caller gets ErrRunAlreadyInProgress. Once the previous run
// reached a terminal state, re-ingestion starts a fresh run.
func (c *Controller) RunPipeline(ctx context.Context, ev schemas.CommitEvent) (schemas.PipelineRun, error) {
	queued, err := c.Store.QueueTask(ctx, schemas.TaskTypePipelineRun, ev.Branch, c.UUID.String())
	if err != nil {
		return schemas.PipelineRun{}, err
	}

	if !queued {
		return schemas.PipelineRun{}, ErrRunAlreadyInProgress
	}

	defer c.unqueueTask(ctx, schemas.TaskTypePipelineRun, ev.Branch)

	return c.ExecuteRun(ctx, ev)
}

// ErrRunAlreadyInProgress is returned when a commit event is ingested for a
// branch whose previous run has not reached a terminal state yet.
var ErrRunAlreadyInProgress = fmt.Errorf("a run for this branch is already in progress")

// ExecuteRun drives one pipeline run through its state machine:
// Received -> Building -> Built -> Publishing -> Published -> Resolving ->
// RollingOut -> Succeeded | Failed | RolledBack.
//
// Target resolution is evaluated first: a branch that maps to no targets
// short-circuits the run to Succeeded without building anything, so pushes to
// unmapped branches leave no side effects at all.
//
// The run itself is persisted on every transition; the returned error is the
// failure that ended the run, nil when it succeeded.
func (c *Controller) ExecuteRun(ctx context.Context, ev schemas.CommitEvent) (run schemas.PipelineRun, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ExecuteRun")
	defer span.End()

	span.SetAttributes(attribute.String("branch", ev.Branch))
	span.SetAttributes(attribute.String("revision", ev.Revision))

	logger := log.WithContext(ctx).WithFields(log.Fields{
		"branch":   ev.Branch,
		"revision": ev.Revision,
	})

	run = schemas.NewPipelineRun(ev)
	c.saveRun(ctx, &run)

	logger.WithField("run-id", run.ID).Info("pipeline run started")

	// Resolution happens before building: an unmapped branch is a no-op
	// success and must not trigger a build or a push.
	targets := c.Resolver.Resolve(ev.Branch)
	if len(targets) == 0 {
		run.RecordStep("resolve", schemas.StepOutcomeSkipped, "branch maps to no deployment targets")
		run.Transition(schemas.RunStateSucceeded)
		c.saveRun(ctx, &run)

		logger.Info("branch maps to no deployment targets, run is a no-op")

		return run, nil
	}

	// Build
	run.Transition(schemas.RunStateBuilding)
	c.saveRun(ctx, &run)

	artifact, err := c.Builder.Build(ctx, ev)
	if err != nil {
		run.RecordStep("build", schemas.StepOutcomeFailed, err.Error())
		run.Transition(schemas.RunStateFailed)
		c.saveRun(ctx, &run)

		logger.WithError(err).Warn("artifact build failed")

		return run, err
	}

	run.Artifact = artifact
	run.RecordStep("build", schemas.StepOutcomeSucceeded, string(artifact.Digest))
	run.Transition(schemas.RunStateBuilt)
	c.saveRun(ctx, &run)

	// Publish
	run.Transition(schemas.RunStatePublishing)
	c.saveRun(ctx, &run)

	published, err := c.Publisher.Publish(ctx, artifact, ev.Branch)
	if err != nil {
		run.RecordStep("publish", schemas.StepOutcomeFailed, err.Error())
		run.Transition(schemas.RunStateFailed)
		c.saveRun(ctx, &run)

		logger.WithError(err).Warn("artifact publish failed")

		return run, err
	}

	run.RecordStep("publish", schemas.StepOutcomeSucceeded, published.RegistryTag)
	run.Transition(schemas.RunStatePublished)
	c.saveRun(ctx, &run)

	// Record the resolution that was computed up front
	run.Transition(schemas.RunStateResolving)
	run.RecordStep("resolve", schemas.StepOutcomeSucceeded, fmt.Sprintf("%d target(s)", len(targets)))
	c.saveRun(ctx, &run)

	// Cancellation is honored up to this point. Once rollouts start they
	// run to completion so no target is left mid-update.
	if err = ctx.Err(); err != nil {
		run.RecordStep("rollout", schemas.StepOutcomeFailed, err.Error())
		run.Transition(schemas.RunStateFailed)
		c.saveRun(ctx, &run)

		return run, err
	}

	rolloutCtx := context.WithoutCancel(ctx)

	run.Transition(schemas.RunStateRollingOut)
	c.saveRun(ctx, &run)

	outcomes := c.rolloutTargets(rolloutCtx, targets, published)

	for _, o := range outcomes {
		stepName := fmt.Sprintf("rollout:%s", o.target.Name)

		if o.err != nil {
			run.RecordStep(stepName, schemas.StepOutcomeFailed, o.err.Error())
		} else {
			run.RecordStep(stepName, schemas.StepOutcomeSucceeded, string(o.state))
		}
	}

	finalState, err := aggregateOutcomes(outcomes)

	run.Transition(finalState)
	c.saveRun(ctx, &run)

	logger.WithFields(log.Fields{
		"run-id": run.ID,
		"state":  run.State,
	}).Info("pipeline run finished")

	return run, err
}

// rolloutTargets fans one goroutine out per target and waits for all of them.
// A failing target does not cancel its siblings: each target settles in its
// own terminal rollout state. The per-target queue entry serializes rollouts
// against the same target across concurrent runs and instances.
func (c *Controller) rolloutTargets(ctx context.Context, targets []schemas.DeploymentTarget, published schemas.PublishedTag) []targetOutcome {
	outcomes := make([]targetOutcome, len(targets))

	var wg sync.WaitGroup

	for i, target := range targets {
		wg.Add(1)

		go func(i int, target schemas.DeploymentTarget) {
			defer wg.Done()

			queued, err := c.Store.QueueTask(ctx, schemas.TaskTypeRolloutTarget, target.Name, c.UUID.String())
			if err != nil {
				outcomes[i] = targetOutcome{target: target, state: schemas.RolloutStatePending, err: err}

				return
			}

			if !queued {
				outcomes[i] = targetOutcome{
					target: target,
					state:  schemas.RolloutStatePending,
					err: schemas.RolloutError{
						Kind:   schemas.RolloutErrorKindUpdateFailed,
						Target: target.Name,
						Reason: "a rollout against this target is already in progress",
					},
				}

				return
			}

			defer c.unqueueTask(ctx, schemas.TaskTypeRolloutTarget, target.Name)

			state, err := c.Coordinator.Rollout(ctx, target, published)
			outcomes[i] = targetOutcome{target: target, state: state, err: err}
		}(i, target)
	}

	wg.Wait()

	return outcomes
}

// aggregateOutcomes reduces per-target outcomes to the run's terminal state.
// All targets committed means success. When every failed target was restored
// to its previous digest the run ends RolledBack, otherwise Failed.
func aggregateOutcomes(outcomes []targetOutcome) (schemas.RunState, error) {
	var (
		firstErr            error
		anyFailed           bool
		allFailedRolledBack = true
	)

	for _, o := range outcomes {
		if o.err == nil {
			continue
		}

		anyFailed = true

		if firstErr == nil {
			firstErr = o.err
		}

		if o.state != schemas.RolloutStateRolledBack {
			allFailedRolledBack = false
		}
	}

	if !anyFailed {
		return schemas.RunStateSucceeded, nil
	}

	if allFailedRolledBack {
		return schemas.RunStateRolledBack, firstErr
	}

	return schemas.RunStateFailed, firstErr
}

// saveRun persists the run's current state, logging rather than failing when
// the store write does not go through.
func (c *Controller) saveRun(ctx context.Context, run *schemas.PipelineRun) {
	if err := c.Store.SetRun(ctx, *run); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"run-id": run.ID,
				"state":  run.State,
			}).
			WithError(err).
			Error("writing pipeline run in the store")
	}
}

// RunSummary renders a human readable summary of a finished run, enumerating
// the per-step and per-target outcomes in execution order.
func RunSummary(run schemas.PipelineRun) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "run %s (branch %s, revision %s): %s\n",
		run.ID, run.CommitEvent.Branch, run.CommitEvent.Revision, run.State)

	for _, sr := range run.StepResults {
		if sr.Detail != "" {
			fmt.Fprintf(&sb, "  %-24s %-10s %s\n", sr.Step, sr.Outcome, sr.Detail)
		} else {
			fmt.Fprintf(&sb, "  %-24s %s\n", sr.Step, sr.Outcome)
		}
	}

	return sb.String()
}
