package rollout

import (
	"context"
	"fmt"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"

	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
	"github.com/helvethink/release-orchestrator/pkg/store"
)

type fakePlatform struct {
	replaced   []string // image refs passed to Replace, in order
	replaceErr map[string]error

	healthy        bool
	healthyFor     map[string]bool // per image ref, keyed by the last replaced ref
	healthAttempts int
}

func (f *fakePlatform) Replace(_ context.Context, _ schemas.DeploymentTarget, imageRef string) error {
	if err := f.replaceErr[imageRef]; err != nil {
		return err
	}
	f.replaced = append(f.replaced, imageRef)
	return nil
}

func (f *fakePlatform) CurrentDigest(_ context.Context, _ schemas.DeploymentTarget) (digest.Digest, error) {
	return "", nil
}

func (f *fakePlatform) Health(_ context.Context, _ schemas.DeploymentTarget) error {
	f.healthAttempts++

	if f.healthyFor != nil {
		if len(f.replaced) > 0 && f.healthyFor[f.replaced[len(f.replaced)-1]] {
			return nil
		}
		return fmt.Errorf("connection refused")
	}

	if f.healthy {
		return nil
	}
	return fmt.Errorf("connection refused")
}

const (
	oldDigest = digest.Digest("sha256:1111111111111111111111111111111111111111111111111111111111111111")
	newDigest = digest.Digest("sha256:2222222222222222222222222222222222222222222222222222222222222222")
)

func newTestCoordinator(platform Platform, maxAttempts int) (*Coordinator, store.Store, schemas.DeploymentTarget) {
	st := store.NewLocalStore()

	target := schemas.DeploymentTarget{
		Name:           "api-prod-1",
		Environment:    schemas.EnvironmentTypeProduction,
		CurrentDigest:  oldDigest,
		HealthEndpoint: "http://api-prod-1:8000/healthz",
		ContainerName:  "api-prod-1",
		LatestRollout:  schemas.RolloutStatePending,
	}
	_ = st.SetTarget(context.Background(), target)

	registry := config.Registry{URL: "registry.example.com", Repository: "acme/api"}

	cfg := config.Rollout{
		HealthCheckTimeoutSeconds: 5,
		HealthCheckMaxAttempts:    maxAttempts,
	}

	return NewCoordinator(platform, st, registry, cfg), st, target
}

func published() schemas.PublishedTag {
	return schemas.PublishedTag{
		RegistryTag: "registry.example.com/acme/api:master",
		Digest:      newDigest,
	}
}

func TestRolloutCommitted(t *testing.T) {
	ctx := context.Background()

	platform := &fakePlatform{healthy: true}
	c, st, target := newTestCoordinator(platform, 1)

	state, err := c.Rollout(ctx, target, published())
	assert.NoError(t, err)
	assert.Equal(t, schemas.RolloutStateCommitted, state)
	assert.Equal(t, []string{"registry.example.com/acme/api:master"}, platform.replaced)

	// CurrentDigest advanced to the confirmed digest
	assert.NoError(t, st.GetTarget(ctx, &target))
	assert.Equal(t, newDigest, target.CurrentDigest)
	assert.Equal(t, schemas.RolloutStateCommitted, target.LatestRollout)
}

func TestRolloutNoOpWhenDigestAlreadyCurrent(t *testing.T) {
	ctx := context.Background()

	platform := &fakePlatform{}
	c, st, target := newTestCoordinator(platform, 1)

	target.CurrentDigest = newDigest
	assert.NoError(t, st.SetTarget(ctx, target))

	state, err := c.Rollout(ctx, target, published())
	assert.NoError(t, err)
	assert.Equal(t, schemas.RolloutStateCommitted, state)

	// No replace was issued
	assert.Empty(t, platform.replaced)
}

func TestRolloutUnhealthyRollsBack(t *testing.T) {
	ctx := context.Background()

	// Healthy only once the previous digest is restored
	platform := &fakePlatform{
		healthyFor: map[string]bool{
			"registry.example.com/acme/api@" + oldDigest.String(): true,
		},
	}
	c, st, target := newTestCoordinator(platform, 1)

	state, err := c.Rollout(ctx, target, published())
	assert.Equal(t, schemas.RolloutStateRolledBack, state)

	// The primary failure is what gets reported
	var rolloutErr schemas.RolloutError
	assert.ErrorAs(t, err, &rolloutErr)
	assert.Equal(t, schemas.RolloutErrorKindHealthTimeout, rolloutErr.Kind)

	// Rollback was attempted exactly once, against the pinned previous digest
	assert.Equal(t, []string{
		"registry.example.com/acme/api:master",
		"registry.example.com/acme/api@" + oldDigest.String(),
	}, platform.replaced)

	// CurrentDigest never advanced
	assert.NoError(t, st.GetTarget(ctx, &target))
	assert.Equal(t, oldDigest, target.CurrentDigest)
	assert.Equal(t, schemas.RolloutStateRolledBack, target.LatestRollout)
}

func TestRolloutRollbackFailed(t *testing.T) {
	ctx := context.Background()

	rollbackRef := "registry.example.com/acme/api@" + oldDigest.String()

	platform := &fakePlatform{
		replaceErr: map[string]error{
			rollbackRef: fmt.Errorf("daemon unavailable"),
		},
	}
	c, st, target := newTestCoordinator(platform, 1)

	state, err := c.Rollout(ctx, target, published())
	assert.Equal(t, schemas.RolloutStateRollbackFailed, state)

	var rolloutErr schemas.RolloutError
	assert.ErrorAs(t, err, &rolloutErr)
	assert.Equal(t, schemas.RolloutErrorKindRollbackFailed, rolloutErr.Kind)

	assert.NoError(t, st.GetTarget(ctx, &target))
	assert.Equal(t, schemas.RolloutStateRollbackFailed, target.LatestRollout)
}

func TestRolloutUpdateFailedRollsBack(t *testing.T) {
	ctx := context.Background()

	platform := &fakePlatform{
		replaceErr: map[string]error{
			"registry.example.com/acme/api:master": fmt.Errorf("pull access denied"),
		},
		healthy: true,
	}
	c, _, target := newTestCoordinator(platform, 1)

	state, err := c.Rollout(ctx, target, published())
	assert.Equal(t, schemas.RolloutStateRolledBack, state)

	var rolloutErr schemas.RolloutError
	assert.ErrorAs(t, err, &rolloutErr)
	assert.Equal(t, schemas.RolloutErrorKindUpdateFailed, rolloutErr.Kind)
}

func TestRolloutNoPreviousDigest(t *testing.T) {
	ctx := context.Background()

	platform := &fakePlatform{}
	c, st, target := newTestCoordinator(platform, 1)

	target.CurrentDigest = ""
	assert.NoError(t, st.SetTarget(ctx, target))

	state, err := c.Rollout(ctx, target, published())
	assert.Equal(t, schemas.RolloutStateRolledBack, state)
	assert.Error(t, err)

	// With nothing previously confirmed there is nothing to restore
	assert.Equal(t, []string{"registry.example.com/acme/api:master"}, platform.replaced)
}

func TestWaitHealthyUsesTargetRolloutBounds(t *testing.T) {
	ctx := context.Background()

	platform := &fakePlatform{}
	c, _, target := newTestCoordinator(platform, 1)

	// The deployment's resolved bounds override the coordinator defaults
	target.Rollout = config.Rollout{
		HealthCheckTimeoutSeconds: 5,
		HealthCheckMaxAttempts:    2,
	}

	assert.Error(t, c.waitHealthy(ctx, target))
	assert.Equal(t, 2, platform.healthAttempts)

	// Without per-target bounds the defaults apply
	platform.healthAttempts = 0
	target.Rollout = config.Rollout{}

	assert.Error(t, c.waitHealthy(ctx, target))
	assert.Equal(t, 1, platform.healthAttempts)
}

func TestRolloutBoundsFallback(t *testing.T) {
	platform := &fakePlatform{}
	c, _, target := newTestCoordinator(platform, 7)

	assert.Equal(t, 7, c.rolloutBounds(target).HealthCheckMaxAttempts)

	target.Rollout = config.Rollout{HealthCheckTimeoutSeconds: 60, HealthCheckMaxAttempts: 20}
	assert.Equal(t, 20, c.rolloutBounds(target).HealthCheckMaxAttempts)
	assert.Equal(t, 60, c.rolloutBounds(target).HealthCheckTimeoutSeconds)
}
