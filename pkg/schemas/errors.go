package schemas

import (
	"fmt"
)

// BuildError represents a failed artifact build. It is always recoverable by
// re-running the pipeline; the build log is preserved for inspection.
type BuildError struct {
	Reason string // Short description of what went wrong
	Log    string // Raw build output captured up to the failure
}

// Error implements the error interface.
func (e BuildError) Error() string {
	return fmt.Sprintf("build failed: %s", e.Reason)
}

const (
	// PublishErrorKindPush means the push to the registry itself failed.
	PublishErrorKindPush PublishErrorKind = "push"

	// PublishErrorKindVerification means the tag did not resolve to the pushed
	// digest after the push. Repeated verification mismatches indicate registry
	// inconsistency and are fatal to the run.
	PublishErrorKindVerification PublishErrorKind = "verification"
)

// PublishErrorKind discriminates the failure modes of a registry publish.
type PublishErrorKind string

// PublishError represents a failed registry publish.
type PublishError struct {
	Kind   PublishErrorKind // Which publish failure mode occurred
	Reason string           // Short description of what went wrong
}

// Error implements the error interface.
func (e PublishError) Error() string {
	return fmt.Sprintf("publish failed (%s): %s", e.Kind, e.Reason)
}

// ResolutionError represents a configuration defect in the branch to
// deployment-target mapping. It is surfaced, never retried.
type ResolutionError struct {
	Branch string // Branch whose mapping is defective
	Reason string // Short description of the defect
}

// Error implements the error interface.
func (e ResolutionError) Error() string {
	return fmt.Sprintf("resolving targets for branch %q: %s", e.Branch, e.Reason)
}

const (
	// RolloutErrorKindUpdateFailed means the replace instruction to the compute
	// layer failed.
	RolloutErrorKindUpdateFailed RolloutErrorKind = "update-failed"

	// RolloutErrorKindHealthTimeout means the target did not pass its health
	// check within the configured budget.
	RolloutErrorKindHealthTimeout RolloutErrorKind = "health-timeout"

	// RolloutErrorKindRollbackFailed means the rollback itself failed, leaving
	// the target in an unknown runtime state requiring manual intervention.
	RolloutErrorKindRollbackFailed RolloutErrorKind = "rollback-failed"
)

// RolloutErrorKind discriminates the failure modes of a target rollout.
type RolloutErrorKind string

// RolloutError represents a failed rollout against a single deployment target.
type RolloutError struct {
	Kind   RolloutErrorKind // Which rollout failure mode occurred
	Target string           // Name of the affected target
	Reason string           // Short description of what went wrong
}

// Error implements the error interface.
func (e RolloutError) Error() string {
	return fmt.Sprintf("rollout of target %q failed (%s): %s", e.Target, e.Kind, e.Reason)
}
