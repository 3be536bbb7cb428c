package config

import (
	"github.com/creasty/defaults"
)

// DeploymentParameters holds per-deployment settings which can be defaulted
// globally (under deployment_defaults) and overridden per branch. Production
// deployments typically carry larger health budgets than development ones.
type DeploymentParameters struct {
	// Rollout contains the health confirmation bounds applied to every target
	// of this deployment.
	Rollout Rollout `yaml:"rollout"`
}

// Deployment maps one long-lived branch to the set of targets it deploys to.
// The mapping is the only business rule likely to change and therefore lives
// entirely in configuration rather than in control flow.
type Deployment struct {
	DeploymentParameters `yaml:",inline"`

	// Branch is the source branch triggering this deployment, e.g. "development" or "master".
	Branch string `validate:"required" yaml:"branch"`

	// Environment classifies the deployment's targets.
	Environment string `default:"development" validate:"oneof=development production" yaml:"environment"`

	// Targets lists the compute destinations updated when the branch receives a commit.
	Targets []Target `validate:"required,dive" yaml:"targets"`
}

// Target describes one compute destination of a deployment.
type Target struct {
	// Name uniquely identifies the target across all deployments.
	Name string `validate:"required" yaml:"name"`

	// HealthEndpoint is the URL polled to confirm the target is healthy after an update.
	HealthEndpoint string `validate:"required,url" yaml:"health_endpoint"`

	// ContainerName is the name of the container replaced on the target's
	// compute layer. Defaults to the target name when empty.
	ContainerName string `yaml:"container_name"`

	// DockerHost overrides the daemon endpoint of the target's compute layer.
	// Empty means environment defaults.
	DockerHost string `yaml:"docker_host"`
}

// Deployments is a slice of Deployment structs, representing the whole
// branch to environment mapping.
type Deployments []Deployment

// NewDeployment returns a new Deployment instance initialized with default parameters.
func NewDeployment() (d Deployment) {
	defaults.MustSet(&d)

	return
}
