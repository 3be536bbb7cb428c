package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
	"github.com/helvethink/release-orchestrator/pkg/store"
)

func TestGarbageCollectRuns(t *testing.T) {
	ctx := context.Background()

	c := &Controller{
		Store: store.NewLocalStore(),
	}
	c.Config.GarbageCollect.Runs.RetentionSeconds = 3600

	expired := schemas.NewPipelineRun(schemas.NewCommitEvent("master", "b5ef0c2"))
	expired.State = schemas.RunStateSucceeded
	expired.UpdatedAt = time.Now().Add(-2 * time.Hour)
	assert.NoError(t, c.Store.SetRun(ctx, expired))

	recent := schemas.NewPipelineRun(schemas.NewCommitEvent("master", "0f3a911"))
	recent.State = schemas.RunStateFailed
	assert.NoError(t, c.Store.SetRun(ctx, recent))

	inFlight := schemas.NewPipelineRun(schemas.NewCommitEvent("development", "77aa001"))
	inFlight.State = schemas.RunStateRollingOut
	inFlight.UpdatedAt = time.Now().Add(-2 * time.Hour)
	assert.NoError(t, c.Store.SetRun(ctx, inFlight))

	assert.NoError(t, c.GarbageCollectRuns(ctx))

	runs, err := c.Store.Runs(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, runs.Count())

	// Only the expired terminal run was collected
	_, expiredKept := runs[expired.Key()]
	assert.False(t, expiredKept)
	_, recentKept := runs[recent.Key()]
	assert.True(t, recentKept)
	_, inFlightKept := runs[inFlight.Key()]
	assert.True(t, inFlightKept)
}

func TestSyncDeploymentTargets(t *testing.T) {
	ctx := context.Background()

	c := &Controller{}
	c.Config.Deployments = testDeployments()
	c.Store = store.New(ctx, nil, c.Config.Deployments)

	// One target carries runtime state which must survive the sync
	deployed := schemas.DeploymentTarget{Name: "api-prod-1"}
	assert.NoError(t, c.Store.GetTarget(ctx, &deployed))
	deployed.CurrentDigest = testOldDigest
	deployed.LatestRollout = schemas.RolloutStateCommitted
	assert.NoError(t, c.Store.SetTarget(ctx, deployed))

	// One stored target is no longer configured
	stale := schemas.DeploymentTarget{
		Name:        "api-prod-3",
		Environment: schemas.EnvironmentTypeProduction,
	}
	assert.NoError(t, c.Store.SetTarget(ctx, stale))

	assert.NoError(t, c.SyncDeploymentTargets(ctx))

	targets, err := c.Store.Targets(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 3, targets.Count())

	_, staleKept := targets[stale.Key()]
	assert.False(t, staleKept)

	// Runtime state survived the reconciliation
	assert.NoError(t, c.Store.GetTarget(ctx, &deployed))
	assert.Equal(t, testOldDigest, deployed.CurrentDigest)
	assert.Equal(t, schemas.RolloutStateCommitted, deployed.LatestRollout)
}

func TestSyncDeploymentTargetsPicksUpConfigChanges(t *testing.T) {
	ctx := context.Background()

	c := &Controller{}
	c.Config.Deployments = config.Deployments{
		{
			Branch:      "development",
			Environment: "development",
			Targets: []config.Target{
				{Name: "api-dev", HealthEndpoint: "http://api-dev.local/healthz"},
			},
		},
	}

	previous := config.Deployments{
		{
			Branch:      "development",
			Environment: "development",
			Targets: []config.Target{
				{Name: "api-dev", HealthEndpoint: "http://api-dev.local/health"},
			},
		},
	}
	c.Store = store.New(ctx, nil, previous)

	assert.NoError(t, c.SyncDeploymentTargets(ctx))

	target := schemas.DeploymentTarget{Name: "api-dev"}
	assert.NoError(t, c.Store.GetTarget(ctx, &target))
	assert.Equal(t, "http://api-dev.local/healthz", target.HealthEndpoint)
}
