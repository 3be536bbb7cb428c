package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"

	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/registry"
	"github.com/helvethink/release-orchestrator/pkg/rollout"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
	"github.com/helvethink/release-orchestrator/pkg/store"
)

var (
	testImageID        = digest.Digest("sha256:" + strings.Repeat("1", 64))
	testManifestDigest = digest.Digest("sha256:" + strings.Repeat("2", 64))
	testOldDigest      = digest.Digest("sha256:" + strings.Repeat("3", 64))
)

type fakeBuilder struct {
	builds   int
	err      error
	artifact schemas.Artifact
}

func (b *fakeBuilder) Build(_ context.Context, _ schemas.CommitEvent) (schemas.Artifact, error) {
	b.builds++

	if b.err != nil {
		return schemas.Artifact{}, b.err
	}

	return b.artifact, nil
}

type fakeRegistryAPI struct {
	mu      sync.Mutex
	tagged  []string
	pushes  int
	pushErr error
	remote  digest.Digest
}

func (a *fakeRegistryAPI) EnsureTagged(_ context.Context, _ digest.Digest, ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tagged = append(a.tagged, ref)

	return nil
}

func (a *fakeRegistryAPI) Push(_ context.Context, _ string) (digest.Digest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pushes++

	if a.pushErr != nil {
		return "", a.pushErr
	}

	a.remote = testManifestDigest

	return testManifestDigest, nil
}

func (a *fakeRegistryAPI) Resolve(_ context.Context, _ string) (digest.Digest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.remote, nil
}

func (a *fakeRegistryAPI) LocalRepoDigest(_ context.Context, _ string) (digest.Digest, error) {
	return "", nil
}

type fakePlatform struct {
	mu         sync.Mutex
	replaced   []string
	replaceErr map[string]error // keyed by image reference
}

func (p *fakePlatform) Replace(_ context.Context, target schemas.DeploymentTarget, imageRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.replaced = append(p.replaced, target.Name+" "+imageRef)

	return p.replaceErr[imageRef]
}

func (p *fakePlatform) CurrentDigest(_ context.Context, _ schemas.DeploymentTarget) (digest.Digest, error) {
	return "", nil
}

func (p *fakePlatform) Health(_ context.Context, _ schemas.DeploymentTarget) error {
	return nil
}

func testDeployments() config.Deployments {
	return config.Deployments{
		{
			Branch:      "development",
			Environment: "development",
			Targets: []config.Target{
				{Name: "api-dev", HealthEndpoint: "http://api-dev.local/health"},
			},
		},
		{
			Branch:      "master",
			Environment: "production",
			Targets: []config.Target{
				{Name: "api-prod-1", HealthEndpoint: "http://api-prod-1.local/health"},
				{Name: "api-prod-2", HealthEndpoint: "http://api-prod-2.local/health"},
			},
		},
	}
}

func newTestController(b *fakeBuilder, api *fakeRegistryAPI, platform *fakePlatform) *Controller {
	cfg := config.Config{}
	cfg.Deployments = testDeployments()
	cfg.Registry = config.Registry{
		URL:        "registry.example.com",
		Repository: "acme/api",
	}
	cfg.DeploymentDefaults.Rollout = config.Rollout{
		HealthCheckTimeoutSeconds: 1,
		HealthCheckMaxAttempts:    1,
	}

	s := store.New(context.Background(), nil, cfg.Deployments)

	return &Controller{
		Config:      cfg,
		Store:       s,
		Builder:     b,
		Publisher:   registry.NewPublisher(api, cfg.Registry, 0),
		Resolver:    rollout.NewResolver(cfg.Deployments),
		Coordinator: rollout.NewCoordinator(platform, s, cfg.Registry, cfg.DeploymentDefaults.Rollout),
		UUID:        uuid.New(),
	}
}

func builtArtifact() schemas.Artifact {
	return schemas.Artifact{
		Digest:         testImageID,
		SourceRevision: "b5ef0c2",
	}
}

func TestExecuteRunUnmappedBranchIsNoOp(t *testing.T) {
	b := &fakeBuilder{artifact: builtArtifact()}
	api := &fakeRegistryAPI{}
	platform := &fakePlatform{}
	c := newTestController(b, api, platform)

	run, err := c.ExecuteRun(context.Background(), schemas.NewCommitEvent("feature/unmapped", "deadbeef"))

	assert.NoError(t, err)
	assert.Equal(t, schemas.RunStateSucceeded, run.State)
	assert.Equal(t, 0, b.builds)
	assert.Equal(t, 0, api.pushes)
	assert.Empty(t, platform.replaced)

	if assert.Len(t, run.StepResults, 1) {
		assert.Equal(t, "resolve", run.StepResults[0].Step)
		assert.Equal(t, schemas.StepOutcomeSkipped, run.StepResults[0].Outcome)
	}
}

func TestExecuteRunSuccess(t *testing.T) {
	b := &fakeBuilder{artifact: builtArtifact()}
	api := &fakeRegistryAPI{}
	platform := &fakePlatform{}
	c := newTestController(b, api, platform)

	run, err := c.ExecuteRun(context.Background(), schemas.NewCommitEvent("master", "b5ef0c2"))

	assert.NoError(t, err)
	assert.Equal(t, schemas.RunStateSucceeded, run.State)
	assert.Equal(t, 1, b.builds)
	assert.Equal(t, 1, api.pushes)
	assert.Equal(t, testImageID, run.Artifact.Digest)

	// Both production targets got the published reference
	publishedRef := "registry.example.com/acme/api:master"
	assert.ElementsMatch(t, []string{
		"api-prod-1 " + publishedRef,
		"api-prod-2 " + publishedRef,
	}, platform.replaced)

	// Both targets committed the manifest digest
	for _, name := range []string{"api-prod-1", "api-prod-2"} {
		target := schemas.DeploymentTarget{Name: name}
		assert.NoError(t, c.Store.GetTarget(context.Background(), &target))
		assert.Equal(t, testManifestDigest, target.CurrentDigest)
		assert.Equal(t, schemas.RolloutStateCommitted, target.LatestRollout)
	}

	// The run is persisted in its terminal state
	stored := schemas.PipelineRun{ID: run.ID}
	assert.NoError(t, c.Store.GetRun(context.Background(), &stored))
	assert.Equal(t, schemas.RunStateSucceeded, stored.State)
}

func TestExecuteRunBuildFailure(t *testing.T) {
	b := &fakeBuilder{err: fmt.Errorf("dockerfile syntax error")}
	api := &fakeRegistryAPI{}
	platform := &fakePlatform{}
	c := newTestController(b, api, platform)

	run, err := c.ExecuteRun(context.Background(), schemas.NewCommitEvent("master", "b5ef0c2"))

	assert.Error(t, err)
	assert.Equal(t, schemas.RunStateFailed, run.State)
	assert.Equal(t, 0, api.pushes)
	assert.Empty(t, platform.replaced)
}

func TestExecuteRunPublishFailureAborts(t *testing.T) {
	b := &fakeBuilder{artifact: builtArtifact()}
	api := &fakeRegistryAPI{pushErr: fmt.Errorf("registry unavailable")}
	platform := &fakePlatform{}
	c := newTestController(b, api, platform)

	run, err := c.ExecuteRun(context.Background(), schemas.NewCommitEvent("master", "b5ef0c2"))

	assert.Error(t, err)
	assert.Equal(t, schemas.RunStateFailed, run.State)
	assert.Equal(t, 1, b.builds)

	// No rollout may start when publishing never succeeded
	assert.Empty(t, platform.replaced)
}

func TestExecuteRunRolloutFailureRollsBack(t *testing.T) {
	b := &fakeBuilder{artifact: builtArtifact()}
	api := &fakeRegistryAPI{}
	platform := &fakePlatform{
		replaceErr: map[string]error{
			"registry.example.com/acme/api:development": fmt.Errorf("daemon unreachable"),
		},
	}
	c := newTestController(b, api, platform)

	// The target has a previously confirmed digest to restore
	target := schemas.DeploymentTarget{Name: "api-dev"}
	assert.NoError(t, c.Store.GetTarget(context.Background(), &target))
	target.CurrentDigest = testOldDigest
	assert.NoError(t, c.Store.SetTarget(context.Background(), target))

	run, err := c.ExecuteRun(context.Background(), schemas.NewCommitEvent("development", "b5ef0c2"))

	assert.Error(t, err)
	assert.Equal(t, schemas.RunStateRolledBack, run.State)

	// The rollback pinned the previously confirmed digest
	rollbackRef := "registry.example.com/acme/api@" + testOldDigest.String()
	assert.Contains(t, platform.replaced, "api-dev "+rollbackRef)

	// CurrentDigest never advanced
	assert.NoError(t, c.Store.GetTarget(context.Background(), &target))
	assert.Equal(t, testOldDigest, target.CurrentDigest)
	assert.Equal(t, schemas.RolloutStateRolledBack, target.LatestRollout)
}

func TestExecuteRunRollbackFailureFailsRun(t *testing.T) {
	b := &fakeBuilder{artifact: builtArtifact()}
	api := &fakeRegistryAPI{}
	platform := &fakePlatform{
		replaceErr: map[string]error{
			"registry.example.com/acme/api:development":               fmt.Errorf("daemon unreachable"),
			"registry.example.com/acme/api@" + testOldDigest.String(): fmt.Errorf("daemon unreachable"),
		},
	}
	c := newTestController(b, api, platform)

	target := schemas.DeploymentTarget{Name: "api-dev"}
	assert.NoError(t, c.Store.GetTarget(context.Background(), &target))
	target.CurrentDigest = testOldDigest
	assert.NoError(t, c.Store.SetTarget(context.Background(), target))

	run, err := c.ExecuteRun(context.Background(), schemas.NewCommitEvent("development", "b5ef0c2"))

	assert.Error(t, err)
	assert.Equal(t, schemas.RunStateFailed, run.State)

	var rolloutErr schemas.RolloutError
	assert.ErrorAs(t, err, &rolloutErr)
	assert.Equal(t, schemas.RolloutErrorKindRollbackFailed, rolloutErr.Kind)

	assert.NoError(t, c.Store.GetTarget(context.Background(), &target))
	assert.Equal(t, schemas.RolloutStateRollbackFailed, target.LatestRollout)
}

func TestRunPipelineRejectsConcurrentBranch(t *testing.T) {
	b := &fakeBuilder{artifact: builtArtifact()}
	api := &fakeRegistryAPI{}
	platform := &fakePlatform{}
	c := newTestController(b, api, platform)

	ctx := context.Background()

	// Simulate another run holding the branch's queue entry
	queued, err := c.Store.QueueTask(ctx, schemas.TaskTypePipelineRun, "master", c.UUID.String())
	assert.NoError(t, err)
	assert.True(t, queued)

	_, err = c.RunPipeline(ctx, schemas.NewCommitEvent("master", "b5ef0c2"))
	assert.ErrorIs(t, err, ErrRunAlreadyInProgress)
	assert.Equal(t, 0, b.builds)

	// Once the previous run settled, re-ingestion starts a fresh run
	assert.NoError(t, c.Store.UnqueueTask(ctx, schemas.TaskTypePipelineRun, "master"))

	run, err := c.RunPipeline(ctx, schemas.NewCommitEvent("master", "0f3a911"))
	assert.NoError(t, err)
	assert.Equal(t, schemas.RunStateSucceeded, run.State)
	assert.Equal(t, 1, b.builds)
}

func TestAggregateOutcomes(t *testing.T) {
	committed := targetOutcome{state: schemas.RolloutStateCommitted}
	rolledBack := targetOutcome{state: schemas.RolloutStateRolledBack, err: fmt.Errorf("unhealthy")}
	rollbackFailed := targetOutcome{state: schemas.RolloutStateRollbackFailed, err: fmt.Errorf("daemon unreachable")}

	state, err := aggregateOutcomes([]targetOutcome{committed, committed})
	assert.NoError(t, err)
	assert.Equal(t, schemas.RunStateSucceeded, state)

	state, err = aggregateOutcomes([]targetOutcome{committed, rolledBack})
	assert.Error(t, err)
	assert.Equal(t, schemas.RunStateRolledBack, state)

	state, err = aggregateOutcomes([]targetOutcome{rolledBack, rollbackFailed})
	assert.Error(t, err)
	assert.Equal(t, schemas.RunStateFailed, state)
}
