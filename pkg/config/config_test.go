package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfigYAML() []byte {
	return []byte(`
registry:
  url: registry.example.com
  repository: acme/api
  username: bot
  password: s3cr3t

server:
  webhook:
    enabled: true
    secret_token: webhook-secret

deployment_defaults:
  rollout:
    health_check_timeout_seconds: 120

deployments:
  - branch: development
    targets:
      - name: api-dev
        health_endpoint: http://api-dev.local/health
  - branch: master
    environment: production
    rollout:
      health_check_max_attempts: 20
    targets:
      - name: api-prod-1
        health_endpoint: http://api-prod-1.local/health
      - name: api-prod-2
        health_endpoint: http://api-prod-2.local/health
        container_name: api
`)
}

func TestParse(t *testing.T) {
	cfg, err := Parse(FormatYAML, validConfigYAML())
	assert.NoError(t, err)
	assert.NoError(t, cfg.Validate())

	// Defaults
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.Server.ListenAddress)
	assert.Equal(t, 1000, cfg.Pipeline.MaximumJobsQueueSize)
	assert.Equal(t, 2, cfg.Pipeline.PublishRetryLimit)
	assert.Equal(t, 86400, cfg.GarbageCollect.Runs.RetentionSeconds)
	assert.Equal(t, 8000, cfg.Application.Port)
	assert.Equal(t, 1, cfg.Build.RetryLimit)
	assert.True(t, cfg.Registry.EnableTLSVerify)

	// Registry
	assert.Equal(t, "registry.example.com", cfg.Registry.URL)
	assert.Equal(t, "acme/api", cfg.Registry.Repository)
	assert.Equal(t, "https://registry.example.com/v2/", cfg.Registry.HealthURL)

	// Deployments
	if assert.Len(t, cfg.Deployments, 2) {
		development := cfg.Deployments[0]
		assert.Equal(t, "development", development.Branch)
		assert.Equal(t, "development", development.Environment)
		assert.Len(t, development.Targets, 1)

		master := cfg.Deployments[1]
		assert.Equal(t, "production", master.Environment)
		assert.Len(t, master.Targets, 2)
		assert.Equal(t, "api", master.Targets[1].ContainerName)
	}
}

func TestParseDeploymentDefaultsInheritance(t *testing.T) {
	cfg, err := Parse(FormatYAML, validConfigYAML())
	assert.NoError(t, err)

	// The development deployment inherits the global rollout defaults
	development := cfg.Deployments[0]
	assert.Equal(t, 120, development.Rollout.HealthCheckTimeoutSeconds)
	assert.Equal(t, 10, development.Rollout.HealthCheckMaxAttempts)

	// The master deployment overrides only the attempt bound
	master := cfg.Deployments[1]
	assert.Equal(t, 120, master.Rollout.HealthCheckTimeoutSeconds)
	assert.Equal(t, 20, master.Rollout.HealthCheckMaxAttempts)
}

func TestParseExplicitHealthURLKept(t *testing.T) {
	cfg, err := Parse(FormatYAML, []byte(`
registry:
  url: registry.example.com
  repository: acme/api
  health_url: https://status.example.com/v2/

deployments:
  - branch: master
    targets:
      - name: api
        health_endpoint: http://api.local/health
`))
	assert.NoError(t, err)
	assert.Equal(t, "https://status.example.com/v2/", cfg.Registry.HealthURL)
}

func TestValidateMissingRegistry(t *testing.T) {
	cfg, err := Parse(FormatYAML, []byte(`
deployments:
  - branch: master
    targets:
      - name: api
        health_endpoint: http://api.local/health
`))
	assert.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresAtLeastOneDeployment(t *testing.T) {
	cfg, err := Parse(FormatYAML, []byte(`
registry:
  url: registry.example.com
  repository: acme/api
`))
	assert.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateBranches(t *testing.T) {
	cfg, err := Parse(FormatYAML, []byte(`
registry:
  url: registry.example.com
  repository: acme/api

deployments:
  - branch: master
    targets:
      - name: api-1
        health_endpoint: http://api-1.local/health
  - branch: master
    targets:
      - name: api-2
        health_endpoint: http://api-2.local/health
`))
	assert.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownEnvironment(t *testing.T) {
	cfg, err := Parse(FormatYAML, []byte(`
registry:
  url: registry.example.com
  repository: acme/api

deployments:
  - branch: master
    environment: staging
    targets:
      - name: api
        health_endpoint: http://api.local/health
`))
	assert.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestToYAMLMasksSecrets(t *testing.T) {
	cfg, err := Parse(FormatYAML, validConfigYAML())
	assert.NoError(t, err)

	rendered := cfg.ToYAML()
	assert.Contains(t, rendered, "*******")
	assert.NotContains(t, rendered, "s3cr3t")
	assert.NotContains(t, rendered, "webhook-secret")
}

func TestGetTypeFromFileExtension(t *testing.T) {
	f, err := GetTypeFromFileExtension("config.yml")
	assert.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	f, err = GetTypeFromFileExtension("config.yaml")
	assert.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = GetTypeFromFileExtension("config.json")
	assert.Error(t, err)
}
