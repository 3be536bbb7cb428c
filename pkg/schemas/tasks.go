package schemas

// TaskType represents the type of task as a string.
type TaskType string

const (
	// TaskTypePipelineRun represents a task type for executing one pipeline run
	// for a commit event. Its unique ID is the branch name, which is what
	// enforces the at-most-one-concurrent-run-per-branch rule.
	TaskTypePipelineRun TaskType = "PipelineRun"

	// TaskTypeRolloutTarget represents a task type for rolling out a published
	// tag to a single deployment target. Its unique ID is the target name,
	// which serializes rollouts per target.
	TaskTypeRolloutTarget TaskType = "RolloutTarget"

	// TaskTypeSyncDeploymentTargets represents a task type for reconciling the
	// configured deployment targets into the store.
	TaskTypeSyncDeploymentTargets TaskType = "SyncDeploymentTargets"

	// TaskTypeGarbageCollectRuns represents a task type for garbage collecting
	// terminal pipeline runs past their retention window.
	TaskTypeGarbageCollectRuns TaskType = "GarbageCollectRuns"
)

// Tasks is a map structure used to keep track of tasks.
// It maps a TaskType to another map, which associates task identifiers with empty interfaces.
type Tasks map[TaskType]map[string]interface{}
