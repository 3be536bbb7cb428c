package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

func newTestRedisStore(t *testing.T) (*miniredis.Miniredis, Store) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)

	return s, NewRedisStore(redis.NewClient(&redis.Options{Addr: s.Addr()}))
}

func TestRedisRunFunctions(t *testing.T) {
	ctx := context.Background()

	_, r := newTestRedisStore(t)

	run := schemas.NewPipelineRun(schemas.NewCommitEvent("main", "abc123"))
	run.State = schemas.RunStatePublished

	// Set
	assert.NoError(t, r.SetRun(ctx, run))

	// Exists
	exists, err := r.RunExists(ctx, run.Key())
	assert.NoError(t, err)
	assert.True(t, exists)

	// Get
	fetched := schemas.PipelineRun{ID: run.ID}
	assert.NoError(t, r.GetRun(ctx, &fetched))
	assert.Equal(t, run.State, fetched.State)
	assert.Equal(t, run.CommitEvent.Branch, fetched.CommitEvent.Branch)
	assert.Equal(t, run.CommitEvent.Revision, fetched.CommitEvent.Revision)
	// time.Time does not survive a msgpack round-trip bit for bit, so compare instants
	assert.True(t, run.CommitEvent.Timestamp.Equal(fetched.CommitEvent.Timestamp))

	// Count
	count, err := r.RunsCount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Del
	assert.NoError(t, r.DelRun(ctx, run.Key()))

	exists, err = r.RunExists(ctx, run.Key())
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisTargetFunctions(t *testing.T) {
	ctx := context.Background()

	_, r := newTestRedisStore(t)

	target := schemas.DeploymentTarget{
		Name:           "api-dev",
		Environment:    schemas.EnvironmentTypeDevelopment,
		HealthEndpoint: "http://api-dev:8080/healthz",
		ContainerName:  "api-dev",
		LatestRollout:  schemas.RolloutStatePending,
	}

	assert.NoError(t, r.SetTarget(ctx, target))

	exists, err := r.TargetExists(ctx, target.Key())
	assert.NoError(t, err)
	assert.True(t, exists)

	fetched := schemas.DeploymentTarget{Name: "api-dev"}
	assert.NoError(t, r.GetTarget(ctx, &fetched))
	assert.Equal(t, target, fetched)

	targets, err := r.Targets(ctx)
	assert.NoError(t, err)
	assert.Equal(t, schemas.DeploymentTargets{target.Key(): target}, targets)

	assert.NoError(t, r.DelTarget(ctx, target.Key()))

	count, err := r.TargetsCount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRedisQueueTask(t *testing.T) {
	ctx := context.Background()

	mr, r := newTestRedisStore(t)

	// First queueing succeeds, duplicate is refused
	ok, err := r.QueueTask(ctx, schemas.TaskTypePipelineRun, "main", "process-one")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.QueueTask(ctx, schemas.TaskTypePipelineRun, "main", "process-one")
	assert.NoError(t, err)
	assert.False(t, ok)

	// Another process cannot take over while the first one is alive
	set, err := r.(*Redis).SetKeepalive(ctx, "process-one", time.Second)
	assert.NoError(t, err)
	assert.True(t, set)

	ok, err = r.QueueTask(ctx, schemas.TaskTypePipelineRun, "main", "process-two")
	assert.NoError(t, err)
	assert.False(t, ok)

	// Once the keepalive expires, the takeover succeeds
	mr.FastForward(2 * time.Second)

	ok, err = r.QueueTask(ctx, schemas.TaskTypePipelineRun, "main", "process-two")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisUnqueueTask(t *testing.T) {
	ctx := context.Background()

	_, r := newTestRedisStore(t)

	_, err := r.QueueTask(ctx, schemas.TaskTypeRolloutTarget, "web-prod", "process-one")
	assert.NoError(t, err)

	count, err := r.CurrentlyQueuedTasksCount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	assert.NoError(t, r.UnqueueTask(ctx, schemas.TaskTypeRolloutTarget, "web-prod"))

	count, err = r.CurrentlyQueuedTasksCount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), count)

	executed, err := r.ExecutedTasksCount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), executed)
}
