package store

import (
	"context"
	"sync"

	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

// Local represents an in-memory storage implementation for managing pipeline
// runs and deployment targets.
type Local struct {
	runs      schemas.PipelineRuns
	runsMutex sync.RWMutex // Mutex for thread-safe access to runs

	targets      schemas.DeploymentTargets
	targetsMutex sync.RWMutex // Mutex for thread-safe access to targets

	tasks              schemas.Tasks
	tasksMutex         sync.RWMutex // Mutex for thread-safe access to tasks
	executedTasksCount uint64       // Counter for the number of executed tasks
}

// SetRun stores a pipeline run in the local storage.
func (l *Local) SetRun(_ context.Context, r schemas.PipelineRun) error {
	l.runsMutex.Lock()
	defer l.runsMutex.Unlock()

	l.runs[r.Key()] = r

	return nil
}

// DelRun deletes a pipeline run from the local storage.
func (l *Local) DelRun(_ context.Context, k schemas.PipelineRunKey) error {
	l.runsMutex.Lock()
	defer l.runsMutex.Unlock()

	delete(l.runs, k)

	return nil
}

// GetRun retrieves a pipeline run from the local storage.
func (l *Local) GetRun(ctx context.Context, r *schemas.PipelineRun) error {
	exists, _ := l.RunExists(ctx, r.Key())

	if exists {
		l.runsMutex.RLock()
		*r = l.runs[r.Key()]
		l.runsMutex.RUnlock()
	}

	return nil
}

// RunExists checks if a pipeline run exists in the local storage.
func (l *Local) RunExists(_ context.Context, k schemas.PipelineRunKey) (bool, error) {
	l.runsMutex.RLock()
	defer l.runsMutex.RUnlock()

	_, ok := l.runs[k]

	return ok, nil
}

// Runs retrieves all pipeline runs from the local storage.
func (l *Local) Runs(_ context.Context) (runs schemas.PipelineRuns, err error) {
	runs = make(schemas.PipelineRuns)

	l.runsMutex.RLock()
	defer l.runsMutex.RUnlock()

	for k, v := range l.runs {
		runs[k] = v
	}

	return
}

// RunsCount returns the count of pipeline runs in the local storage.
func (l *Local) RunsCount(_ context.Context) (int64, error) {
	l.runsMutex.RLock()
	defer l.runsMutex.RUnlock()

	return int64(len(l.runs)), nil
}

// SetTarget stores a deployment target in the local storage.
func (l *Local) SetTarget(_ context.Context, t schemas.DeploymentTarget) error {
	l.targetsMutex.Lock()
	defer l.targetsMutex.Unlock()

	l.targets[t.Key()] = t

	return nil
}

// DelTarget deletes a deployment target from the local storage.
func (l *Local) DelTarget(_ context.Context, k schemas.DeploymentTargetKey) error {
	l.targetsMutex.Lock()
	defer l.targetsMutex.Unlock()

	delete(l.targets, k)

	return nil
}

// GetTarget retrieves a deployment target from the local storage.
func (l *Local) GetTarget(ctx context.Context, t *schemas.DeploymentTarget) error {
	exists, _ := l.TargetExists(ctx, t.Key())

	if exists {
		l.targetsMutex.RLock()
		*t = l.targets[t.Key()]
		l.targetsMutex.RUnlock()
	}

	return nil
}

// TargetExists checks if a deployment target exists in the local storage.
func (l *Local) TargetExists(_ context.Context, k schemas.DeploymentTargetKey) (bool, error) {
	l.targetsMutex.RLock()
	defer l.targetsMutex.RUnlock()

	_, ok := l.targets[k]

	return ok, nil
}

// Targets retrieves all deployment targets from the local storage.
func (l *Local) Targets(_ context.Context) (targets schemas.DeploymentTargets, err error) {
	targets = make(schemas.DeploymentTargets)

	l.targetsMutex.RLock()
	defer l.targetsMutex.RUnlock()

	for k, v := range l.targets {
		targets[k] = v
	}

	return
}

// TargetsCount returns the count of deployment targets in the local storage.
func (l *Local) TargetsCount(_ context.Context) (int64, error) {
	l.targetsMutex.RLock()
	defer l.targetsMutex.RUnlock()

	return int64(len(l.targets)), nil
}

// QueueTask registers that we are queueing the task.
// It returns true if it managed to schedule it, false if it was already scheduled.
// The lookup and the insert share one lock acquisition so two concurrent
// callers can never both win the same unique ID.
func (l *Local) QueueTask(_ context.Context, tt schemas.TaskType, uniqueID, _ string) (bool, error) {
	l.tasksMutex.Lock()
	defer l.tasksMutex.Unlock()

	if l.tasks == nil {
		l.tasks = make(map[schemas.TaskType]map[string]interface{})
	}

	if _, ok := l.tasks[tt]; !ok {
		l.tasks[tt] = make(map[string]interface{})
	}

	if _, alreadyQueued := l.tasks[tt][uniqueID]; alreadyQueued {
		return false, nil
	}

	l.tasks[tt][uniqueID] = nil

	return true, nil
}

// UnqueueTask removes the task from the tracker.
func (l *Local) UnqueueTask(_ context.Context, tt schemas.TaskType, uniqueID string) error {
	l.tasksMutex.Lock()
	defer l.tasksMutex.Unlock()

	if _, queued := l.tasks[tt][uniqueID]; !queued {
		return nil
	}

	delete(l.tasks[tt], uniqueID)

	l.executedTasksCount++

	return nil
}

// CurrentlyQueuedTasksCount returns the count of currently queued tasks.
func (l *Local) CurrentlyQueuedTasksCount(_ context.Context) (count uint64, err error) {
	l.tasksMutex.RLock()
	defer l.tasksMutex.RUnlock()

	for _, t := range l.tasks {
		count += uint64(len(t))
	}

	return
}

// ExecutedTasksCount returns the count of executed tasks.
func (l *Local) ExecutedTasksCount(_ context.Context) (uint64, error) {
	l.tasksMutex.RLock()
	defer l.tasksMutex.RUnlock()

	return l.executedTasksCount, nil
}
