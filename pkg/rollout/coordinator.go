package rollout

import (
	"context"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
	"github.com/helvethink/release-orchestrator/pkg/store"
)

// Coordinator drives single-target rollouts through their state machine:
// update the workload, confirm health, commit the digest, or restore the
// previously confirmed digest when the new one does not become healthy.
type Coordinator struct {
	platform Platform
	store    store.Store
	registry config.Registry
	cfg      config.Rollout
}

// NewCoordinator creates a rollout coordinator on top of a compute platform.
func NewCoordinator(platform Platform, st store.Store, registry config.Registry, cfg config.Rollout) *Coordinator {
	return &Coordinator{
		platform: platform,
		store:    st,
		registry: registry,
		cfg:      cfg,
	}
}

// Rollout rolls a published artifact out to one deployment target and returns
// the terminal rollout state the target ended in.
//
// The target's CurrentDigest is only ever advanced on commit, after health
// confirmation. When the new digest does not confirm, a rollback to the
// previously confirmed digest is attempted exactly once; a failed rollback is
// surfaced and never retried automatically.
func (c *Coordinator) Rollout(ctx context.Context, target schemas.DeploymentTarget, published schemas.PublishedTag) (schemas.RolloutState, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rollout:Rollout")
	defer span.End()

	// Refresh from the store so CurrentDigest reflects the latest commit
	if err := c.store.GetTarget(ctx, &target); err != nil {
		return schemas.RolloutStatePending, err
	}

	// No-op rollout: the target already runs the desired digest
	if target.CurrentDigest == published.Digest {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"target": target.Name,
				"digest": published.Digest,
			}).
			Debug("target already runs the desired digest, committing without update")

		c.setState(ctx, &target, schemas.RolloutStateCommitted)

		return schemas.RolloutStateCommitted, nil
	}

	previousDigest := target.CurrentDigest

	c.setState(ctx, &target, schemas.RolloutStateUpdating)

	if err := c.platform.Replace(ctx, target, published.RegistryTag); err != nil {
		updateErr := schemas.RolloutError{
			Kind:   schemas.RolloutErrorKindUpdateFailed,
			Target: target.Name,
			Reason: err.Error(),
		}

		return c.rollback(ctx, target, previousDigest, updateErr)
	}

	c.setState(ctx, &target, schemas.RolloutStateHealthChecking)

	if err := c.waitHealthy(ctx, target); err != nil {
		c.setState(ctx, &target, schemas.RolloutStateUnhealthy)

		healthErr := schemas.RolloutError{
			Kind:   schemas.RolloutErrorKindHealthTimeout,
			Target: target.Name,
			Reason: err.Error(),
		}

		return c.rollback(ctx, target, previousDigest, healthErr)
	}

	target.CurrentDigest = published.Digest
	c.setState(ctx, &target, schemas.RolloutStateCommitted)

	log.WithContext(ctx).
		WithFields(log.Fields{
			"target": target.Name,
			"digest": published.Digest,
		}).
		Info("rollout committed")

	return schemas.RolloutStateCommitted, nil
}

// rollback restores the previously confirmed digest on the target, exactly
// once. The primary failure that triggered the rollback is what gets returned
// when the restore works; a failed restore takes precedence as it leaves the
// target in an unknown runtime state.
func (c *Coordinator) rollback(ctx context.Context, target schemas.DeploymentTarget, previousDigest digest.Digest, cause schemas.RolloutError) (schemas.RolloutState, error) {
	log.WithContext(ctx).
		WithFields(log.Fields{
			"target": target.Name,
		}).
		WithError(cause).
		Warn("rolling target back to its previously confirmed digest")

	c.setState(ctx, &target, schemas.RolloutStateRollingBack)

	// Nothing was ever confirmed on this target, there is nothing to restore
	if previousDigest == "" {
		c.setState(ctx, &target, schemas.RolloutStateRolledBack)

		return schemas.RolloutStateRolledBack, cause
	}

	rollbackRef := fmt.Sprintf("%s/%s@%s", c.registry.URL, c.registry.Repository, previousDigest)

	if err := c.platform.Replace(ctx, target, rollbackRef); err != nil {
		c.setState(ctx, &target, schemas.RolloutStateRollbackFailed)

		return schemas.RolloutStateRollbackFailed, schemas.RolloutError{
			Kind:   schemas.RolloutErrorKindRollbackFailed,
			Target: target.Name,
			Reason: err.Error(),
		}
	}

	if err := c.waitHealthy(ctx, target); err != nil {
		c.setState(ctx, &target, schemas.RolloutStateRollbackFailed)

		return schemas.RolloutStateRollbackFailed, schemas.RolloutError{
			Kind:   schemas.RolloutErrorKindRollbackFailed,
			Target: target.Name,
			Reason: fmt.Sprintf("restored digest did not become healthy: %v", err),
		}
	}

	c.setState(ctx, &target, schemas.RolloutStateRolledBack)

	return schemas.RolloutStateRolledBack, cause
}

// rolloutBounds returns the health confirmation bounds applying to a target.
// Targets derived from the configured mapping carry their deployment's
// resolved bounds; anything without them falls back to the coordinator's
// defaults.
func (c *Coordinator) rolloutBounds(target schemas.DeploymentTarget) config.Rollout {
	if target.Rollout.HealthCheckMaxAttempts > 0 {
		return target.Rollout
	}

	return c.cfg
}

// waitHealthy polls the target's health endpoint with exponential backoff
// until it answers healthy, the attempt bound is reached, or the time budget
// runs out.
func (c *Coordinator) waitHealthy(ctx context.Context, target schemas.DeploymentTarget) error {
	bounds := c.rolloutBounds(target)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(bounds.HealthCheckTimeoutSeconds)*time.Second)
	defer cancel()

	backoff := time.Second

	var lastErr error

	for attempt := 1; attempt <= bounds.HealthCheckMaxAttempts; attempt++ {
		if lastErr = c.platform.Health(ctx, target); lastErr == nil {
			return nil
		}

		log.WithContext(ctx).
			WithFields(log.Fields{
				"target":  target.Name,
				"attempt": attempt,
			}).
			WithError(lastErr).
			Debug("target not healthy yet")

		if attempt == bounds.HealthCheckMaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("health check budget exhausted: %w", lastErr)
		case <-time.After(backoff):
		}

		if backoff < 16*time.Second {
			backoff *= 2
		}
	}

	return fmt.Errorf("target did not become healthy after %d attempts: %w", bounds.HealthCheckMaxAttempts, lastErr)
}

// setState persists a rollout state transition on the target.
func (c *Coordinator) setState(ctx context.Context, target *schemas.DeploymentTarget, state schemas.RolloutState) {
	target.LatestRollout = state

	if err := c.store.SetTarget(ctx, *target); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"target": target.Name,
				"state":  state,
			}).
			WithError(err).
			Error("writing deployment target in the store")
	}
}
