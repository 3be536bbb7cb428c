package controller

import (
	"context"
	"time"

	"dario.cat/mergo"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

// GarbageCollectRuns removes terminal pipeline runs from the store once they
// exceeded the configured retention. Runs still in flight are never touched.
func (c *Controller) GarbageCollectRuns(ctx context.Context) error {
	// Log the start of the garbage collection process
	log.Info("starting 'runs' garbage collection")
	defer log.Info("ending 'runs' garbage collection")

	// Retrieve all currently stored pipeline runs from the store
	storedRuns, err := c.Store.Runs(ctx)
	if err != nil {
		return err
	}

	retention := time.Duration(c.Config.GarbageCollect.Runs.RetentionSeconds) * time.Second

	for k, run := range storedRuns {
		// Keep runs which did not reach a terminal state yet
		if !run.State.Terminal() {
			continue
		}

		// Keep terminal runs still within the retention window
		if time.Since(run.UpdatedAt) < retention {
			continue
		}

		if err = c.Store.DelRun(ctx, k); err != nil {
			return err
		}

		// Log info for each run deleted
		log.WithFields(log.Fields{
			"branch":    run.CommitEvent.Branch,
			"revision":  run.CommitEvent.Revision,
			"run-state": run.State,
		}).Info("deleted pipeline run from the store")
	}

	return nil
}

// SyncDeploymentTargets reconciles the configured deployment targets into the
// store. Configured targets get created or updated while keeping their runtime
// state, targets no longer configured get deleted.
func (c *Controller) SyncDeploymentTargets(ctx context.Context) error {
	log.Info("starting deployment targets sync")
	defer log.Info("ending deployment targets sync")

	// Retrieve all targets currently stored, the ones left over after the
	// reconciliation loop are no longer configured and get deleted
	storedTargets, err := c.Store.Targets(ctx)
	if err != nil {
		return err
	}

	for _, d := range c.Config.Deployments {
		for _, t := range d.Targets {
			desired := schemas.NewDeploymentTargetFromConfig(d, t)

			if stored, exists := storedTargets[desired.Key()]; exists {
				// Carry over the runtime state of the stored target, most
				// importantly its last confirmed digest and rollout state
				desired.LatestRollout = stored.LatestRollout

				if err = mergo.Merge(&desired, stored); err != nil {
					return err
				}
			}

			if err = c.Store.SetTarget(ctx, desired); err != nil {
				return err
			}

			delete(storedTargets, desired.Key())
		}
	}

	// Whatever remains in the snapshot is no longer configured
	log.WithFields(log.Fields{
		"targets-count": len(storedTargets),
	}).Debug("found deployment targets to garbage collect")

	for k, target := range storedTargets {
		if err = c.Store.DelTarget(ctx, k); err != nil {
			return err
		}

		// Log info for each target deleted
		log.WithFields(log.Fields{
			"target-name": target.Name,
		}).Info("deleted deployment target from the store")
	}

	return nil
}
