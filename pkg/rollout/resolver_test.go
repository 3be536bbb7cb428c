package rollout

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

func testDeployments() config.Deployments {
	return config.Deployments{
		{
			Branch:      "development",
			Environment: "development",
			Targets: []config.Target{
				{Name: "api-dev", HealthEndpoint: "http://api-dev:8000/healthz"},
			},
		},
		{
			Branch:      "master",
			Environment: "production",
			Targets: []config.Target{
				{Name: "api-prod-1", HealthEndpoint: "http://api-prod-1:8000/healthz"},
				{Name: "api-prod-2", HealthEndpoint: "http://api-prod-2:8000/healthz"},
			},
		},
	}
}

func TestResolve(t *testing.T) {
	r := NewResolver(testDeployments())

	targets := r.Resolve("master")
	assert.Len(t, targets, 2)
	assert.Equal(t, "api-prod-1", targets[0].Name)
	assert.Equal(t, "api-prod-2", targets[1].Name)
	assert.Equal(t, schemas.EnvironmentTypeProduction, targets[0].Environment)

	targets = r.Resolve("development")
	assert.Len(t, targets, 1)
	assert.Equal(t, "api-dev", targets[0].Name)
}

func TestResolveUnmappedBranch(t *testing.T) {
	r := NewResolver(testDeployments())

	assert.Empty(t, r.Resolve("feature/login"))
}

func TestResolveIsStable(t *testing.T) {
	r := NewResolver(testDeployments())

	assert.Equal(t, r.Resolve("master"), r.Resolve("master"))
}
