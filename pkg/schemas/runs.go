package schemas

import (
	"hash/crc32" // For calculating CRC32 checksums
	"strconv"    // For string conversion operations
	"time"

	"github.com/google/uuid"
)

const (
	// RunStateReceived is the initial state of a pipeline run.
	RunStateReceived RunState = "received"

	// RunStateBuilding means the artifact build is in progress.
	RunStateBuilding RunState = "building"

	// RunStateBuilt means the artifact build completed successfully.
	RunStateBuilt RunState = "built"

	// RunStatePublishing means the artifact is being pushed to the registry.
	RunStatePublishing RunState = "publishing"

	// RunStatePublished means the registry tag was pushed and verified.
	RunStatePublished RunState = "published"

	// RunStateResolving means the branch is being mapped to deployment targets.
	RunStateResolving RunState = "resolving"

	// RunStateRollingOut means per-target rollouts are in flight.
	RunStateRollingOut RunState = "rolling-out"

	// RunStateSucceeded is the terminal success state.
	RunStateSucceeded RunState = "succeeded"

	// RunStateFailed is the terminal failure state.
	RunStateFailed RunState = "failed"

	// RunStateRolledBack is a terminal state reached when every failed rollout
	// was successfully rolled back to its previous digest.
	RunStateRolledBack RunState = "rolled-back"
)

// RunState is a custom type describing where a pipeline run sits in its state
// machine.
type RunState string

// Terminal returns whether the run state is terminal. Re-ingesting a commit
// event is only permitted once its previous run reached a terminal state.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateSucceeded, RunStateFailed, RunStateRolledBack:
		return true
	}

	return false
}

const (
	// StepOutcomeSucceeded means the step completed successfully.
	StepOutcomeSucceeded StepOutcome = "succeeded"

	// StepOutcomeFailed means the step failed.
	StepOutcomeFailed StepOutcome = "failed"

	// StepOutcomeSkipped means the step was short-circuited, e.g. an unmapped
	// branch skipping the whole deployment.
	StepOutcomeSkipped StepOutcome = "skipped"
)

// StepOutcome is a custom type describing how a pipeline step ended.
type StepOutcome string

// StepResult records the outcome of a single pipeline step, in order of
// execution.
type StepResult struct {
	Step      string      // Name of the step, e.g. "build", "publish", "rollout:dev-target"
	Outcome   StepOutcome // How the step ended
	Detail    string      // Failure reason or additional context, empty on success
	Timestamp time.Time   // Time at which the step completed
}

// PipelineRun represents one traversal of the pipeline for a single commit
// event. It is the unit of idempotence and retry: a run is created at event
// ingestion, mutated as steps complete and immutable once terminal.
type PipelineRun struct {
	ID          string       // Unique identifier of the run
	CommitEvent CommitEvent  // Event which triggered the run
	State       RunState     // Current state of the run state machine
	StepResults []StepResult // Ordered outcomes of the executed steps
	Artifact    Artifact     // Artifact produced by the build step, if reached
	CreatedAt   time.Time    // Time at which the run was created
	UpdatedAt   time.Time    // Time of the last state transition
}

// PipelineRunKey is a custom type used as a key for pipeline runs.
type PipelineRunKey string

// Key generates a unique key for a PipelineRun using a CRC32 checksum of its
// ID.
func (r PipelineRun) Key() PipelineRunKey {
	return PipelineRunKey(strconv.Itoa(int(crc32.ChecksumIEEE([]byte(r.ID)))))
}

// PipelineRuns is a map used to keep track of pipeline runs, with
// PipelineRunKey as the key.
type PipelineRuns map[PipelineRunKey]PipelineRun

// Count returns the number of runs in the PipelineRuns map.
func (runs PipelineRuns) Count() int {
	return len(runs)
}

// NewPipelineRun is a helper function that returns a new PipelineRun in its
// initial state for the given commit event.
func NewPipelineRun(e CommitEvent) PipelineRun {
	now := time.Now().UTC()

	return PipelineRun{
		ID:          uuid.NewString(),
		CommitEvent: e,
		State:       RunStateReceived,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RecordStep appends a step result to the run, stamped with the current time.
func (r *PipelineRun) RecordStep(step string, outcome StepOutcome, detail string) {
	r.StepResults = append(r.StepResults, StepResult{
		Step:      step,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
	r.UpdatedAt = time.Now().UTC()
}

// Transition moves the run to the given state and updates its timestamp.
func (r *PipelineRun) Transition(s RunState) {
	r.State = s
	r.UpdatedAt = time.Now().UTC()
}

// DefaultLabelsValues returns a map of default label values for a PipelineRun.
func (r PipelineRun) DefaultLabelsValues() map[string]string {
	return map[string]string{
		"branch":   r.CommitEvent.Branch,
		"revision": r.CommitEvent.Revision,
		"state":    string(r.State),
	}
}
