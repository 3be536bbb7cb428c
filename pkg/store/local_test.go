package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

func TestLocalRunFunctions(t *testing.T) {
	ctx := context.Background()

	l := NewLocalStore()

	run := schemas.NewPipelineRun(schemas.NewCommitEvent("main", "abc123"))
	run.State = schemas.RunStateBuilding

	// Set
	assert.NoError(t, l.SetRun(ctx, run))

	// Exists
	exists, err := l.RunExists(ctx, run.Key())
	assert.NoError(t, err)
	assert.True(t, exists)

	// Get
	fetched := schemas.PipelineRun{ID: run.ID}
	assert.NoError(t, l.GetRun(ctx, &fetched))
	assert.Equal(t, run, fetched)

	// Count
	count, err := l.RunsCount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Runs
	runs, err := l.Runs(ctx)
	assert.NoError(t, err)
	assert.Equal(t, schemas.PipelineRuns{run.Key(): run}, runs)

	// Del
	assert.NoError(t, l.DelRun(ctx, run.Key()))

	exists, err = l.RunExists(ctx, run.Key())
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalTargetFunctions(t *testing.T) {
	ctx := context.Background()

	l := NewLocalStore()

	target := schemas.DeploymentTarget{
		Name:           "web-prod",
		Environment:    schemas.EnvironmentTypeProduction,
		HealthEndpoint: "http://web-prod:8080/healthz",
		ContainerName:  "web-prod",
		LatestRollout:  schemas.RolloutStatePending,
	}

	// Set
	assert.NoError(t, l.SetTarget(ctx, target))

	// Exists
	exists, err := l.TargetExists(ctx, target.Key())
	assert.NoError(t, err)
	assert.True(t, exists)

	// Get
	fetched := schemas.DeploymentTarget{Name: "web-prod"}
	assert.NoError(t, l.GetTarget(ctx, &fetched))
	assert.Equal(t, target, fetched)

	// Count
	count, err := l.TargetsCount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Targets
	targets, err := l.Targets(ctx)
	assert.NoError(t, err)
	assert.Equal(t, schemas.DeploymentTargets{target.Key(): target}, targets)

	// Del
	assert.NoError(t, l.DelTarget(ctx, target.Key()))

	exists, err = l.TargetExists(ctx, target.Key())
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalQueueTask(t *testing.T) {
	ctx := context.Background()

	l := NewLocalStore()

	// A run task keyed by branch can only be queued once
	ok, err := l.QueueTask(ctx, schemas.TaskTypePipelineRun, "main", "")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.QueueTask(ctx, schemas.TaskTypePipelineRun, "main", "")
	assert.NoError(t, err)
	assert.False(t, ok)

	// Another branch is unaffected
	ok, err = l.QueueTask(ctx, schemas.TaskTypePipelineRun, "develop", "")
	assert.NoError(t, err)
	assert.True(t, ok)

	count, err := l.CurrentlyQueuedTasksCount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestLocalUnqueueTask(t *testing.T) {
	ctx := context.Background()

	l := NewLocalStore()

	_, err := l.QueueTask(ctx, schemas.TaskTypeRolloutTarget, "web-prod", "")
	assert.NoError(t, err)

	count, _ := l.CurrentlyQueuedTasksCount(ctx)
	assert.Equal(t, uint64(1), count)

	assert.NoError(t, l.UnqueueTask(ctx, schemas.TaskTypeRolloutTarget, "web-prod"))

	count, _ = l.CurrentlyQueuedTasksCount(ctx)
	assert.Equal(t, uint64(0), count)

	executed, err := l.ExecutedTasksCount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), executed)

	// Once unqueued, the same task can be queued again
	ok, err := l.QueueTask(ctx, schemas.TaskTypeRolloutTarget, "web-prod", "")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalQueueTaskConcurrent(t *testing.T) {
	ctx := context.Background()

	l := NewLocalStore()

	const goroutines = 16

	var (
		wg      sync.WaitGroup
		winners atomic.Int64
	)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ok, err := l.QueueTask(ctx, schemas.TaskTypePipelineRun, "main", "")
			assert.NoError(t, err)

			if ok {
				winners.Add(1)
			}
		}()
	}

	wg.Wait()

	// Exactly one caller may win a unique ID
	assert.Equal(t, int64(1), winners.Load())

	count, err := l.CurrentlyQueuedTasksCount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}
