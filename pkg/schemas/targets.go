package schemas

import (
	"hash/crc32" // For calculating CRC32 checksums
	"strconv"    // For string conversion operations

	"github.com/opencontainers/go-digest"

	"github.com/helvethink/release-orchestrator/pkg/config"
)

const (
	// EnvironmentTypeDevelopment refers to a development environment.
	EnvironmentTypeDevelopment EnvironmentType = "development"

	// EnvironmentTypeProduction refers to a production environment.
	EnvironmentTypeProduction EnvironmentType = "production"
)

// EnvironmentType is a custom type used to determine the kind of environment a
// deployment target belongs to.
type EnvironmentType string

// DeploymentTarget represents a deployable compute destination, e.g. one
// environment's running instance. CurrentDigest reflects the last digest
// confirmed healthy on the target; it is never set to an unconfirmed digest.
type DeploymentTarget struct {
	Name           string          // Unique name of the target
	Environment    EnvironmentType // Environment the target belongs to
	CurrentDigest  digest.Digest   // Last digest confirmed healthy, empty if never deployed
	HealthEndpoint string          // URL polled to confirm the target is healthy
	ContainerName  string          // Name of the container running on the target's compute layer
	DockerHost     string          // Daemon endpoint of the target's compute layer, empty for the environment default
	Rollout        config.Rollout  // Health confirmation bounds resolved from the deployment's parameters
	LatestRollout  RolloutState    // State of the most recent rollout against this target
}

// DeploymentTargetKey is a custom type used as a key for deployment targets.
type DeploymentTargetKey string

// Key generates a unique key for a DeploymentTarget using a CRC32 checksum of
// its name.
func (t DeploymentTarget) Key() DeploymentTargetKey {
	return DeploymentTargetKey(strconv.Itoa(int(crc32.ChecksumIEEE([]byte(t.Name)))))
}

// DeploymentTargets is a map used to keep track of all configured deployment
// targets, with DeploymentTargetKey as the key.
type DeploymentTargets map[DeploymentTargetKey]DeploymentTarget

// Count returns the number of targets in the DeploymentTargets map.
func (targets DeploymentTargets) Count() int {
	return len(targets)
}

// DefaultLabelsValues returns a map of default label values for a
// DeploymentTarget.
func (t DeploymentTarget) DefaultLabelsValues() map[string]string {
	return map[string]string{
		"target":      t.Name,
		"environment": string(t.Environment),
	}
}

// NewDeploymentTargetFromConfig is a helper function that returns a new
// DeploymentTarget derived from the configured branch mapping. The container
// name defaults to the target name when left unset.
func NewDeploymentTargetFromConfig(d config.Deployment, t config.Target) DeploymentTarget {
	containerName := t.ContainerName
	if containerName == "" {
		containerName = t.Name
	}

	return DeploymentTarget{
		Name:           t.Name,
		Environment:    EnvironmentType(d.Environment),
		HealthEndpoint: t.HealthEndpoint,
		ContainerName:  containerName,
		DockerHost:     t.DockerHost,
		Rollout:        d.Rollout,
		LatestRollout:  RolloutStatePending,
	}
}

const (
	// RolloutStatePending is the initial state of a rollout.
	RolloutStatePending RolloutState = "pending"

	// RolloutStateUpdating means the replace instruction has been issued to the
	// target's compute layer.
	RolloutStateUpdating RolloutState = "updating"

	// RolloutStateHealthChecking means the target is being polled for health
	// confirmation.
	RolloutStateHealthChecking RolloutState = "health-checking"

	// RolloutStateCommitted is the terminal success state: the target runs the
	// new digest and passed its health check.
	RolloutStateCommitted RolloutState = "committed"

	// RolloutStateUnhealthy means the health check did not pass within the
	// configured budget.
	RolloutStateUnhealthy RolloutState = "unhealthy"

	// RolloutStateRollingBack means the previously confirmed digest is being
	// reissued to the target.
	RolloutStateRollingBack RolloutState = "rolling-back"

	// RolloutStateRolledBack is a terminal failure state: the target was
	// restored to its previous digest.
	RolloutStateRolledBack RolloutState = "rolled-back"

	// RolloutStateRollbackFailed is a terminal state requiring manual
	// intervention: the target is in an unknown runtime state.
	RolloutStateRollbackFailed RolloutState = "rollback-failed"
)

// RolloutState is a custom type describing where a target sits in its rollout
// state machine.
type RolloutState string

// Terminal returns whether the rollout state is terminal.
func (s RolloutState) Terminal() bool {
	switch s {
	case RolloutStateCommitted, RolloutStateRolledBack, RolloutStateRollbackFailed:
		return true
	}

	return false
}
