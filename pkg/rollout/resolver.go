package rollout

import (
	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

const tracerName = "release-orchestrator"

// Resolver maps branch names onto the deployment targets they release to.
// It is a pure lookup over the configured mapping: no side effects, stable
// ordering, and an unmapped branch simply resolves to no targets.
type Resolver struct {
	deployments config.Deployments
}

// NewResolver creates a resolver over the configured branch mapping.
func NewResolver(deployments config.Deployments) *Resolver {
	return &Resolver{deployments: deployments}
}

// Resolve returns the deployment targets configured for a branch, in
// configuration order. An empty result means the branch does not release
// anywhere and the run is a no-op.
func (r *Resolver) Resolve(branch string) (targets []schemas.DeploymentTarget) {
	for _, d := range r.deployments {
		if d.Branch != branch {
			continue
		}

		for _, t := range d.Targets {
			targets = append(targets, schemas.NewDeploymentTargetFromConfig(d, t))
		}
	}

	return
}
