package config

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// validate is a global validator instance used to validate struct fields based on tags.
var validate *validator.Validate

// Config holds all the configuration parameters necessary for properly configuring the orchestrator.
type Config struct {
	Global         Global         `yaml:",omitempty"`      // Global contains global/shared orchestrator configuration settings.
	Log            Log            `yaml:"log"`             // Log holds configuration related to logging.
	OpenTelemetry  OpenTelemetry  `yaml:"opentelemetry"`   // OpenTelemetry contains configuration settings for OpenTelemetry integration.
	Server         Server         `yaml:"server"`          // Server holds configuration related to the HTTP server.
	Registry       Registry       `yaml:"registry"`        // Registry contains artifact registry specific configuration settings.
	Build          Build          `yaml:"build"`           // Build configures how source trees are turned into artifacts.
	Application    Application    `yaml:"application"`     // Application holds runtime configuration passed through to the deployed artifact.
	Redis          Redis          `yaml:"redis"`           // Redis holds configuration parameters for connecting to Redis.
	Pipeline       Pipeline       `yaml:"pipeline"`        // Pipeline configures run scheduling, retries and target synchronization.
	GarbageCollect GarbageCollect `yaml:"garbage_collect"` // GarbageCollect contains configuration for garbage collection of terminal runs.

	// DeploymentDefaults defines default deployment parameters which can be
	// overridden at individual Deployment levels.
	DeploymentDefaults DeploymentParameters `yaml:"deployment_defaults"`

	// Deployments maps long-lived branches to their deployment targets.
	// Validation: branches must be unique and at least one deployment must be provided.
	Deployments []Deployment `validate:"unique=Branch,at-least-1-deployment,dive" yaml:"deployments"`
}

// Log holds configuration settings related to runtime logging.
type Log struct {
	// Level sets the logging verbosity level.
	// Valid values: trace, debug, info, warning, error, fatal, panic.
	// Defaults to "info".
	Level string `default:"info" validate:"required,oneof=trace debug info warning error fatal panic"`

	// Format sets the output format of the logs.
	// Valid values: "text" or "json".
	// Defaults to "text".
	Format string `default:"text" validate:"oneof=text json"`
}

// OpenTelemetry holds configuration related to OpenTelemetry integration.
type OpenTelemetry struct {
	// GRPCEndpoint is the gRPC address of the OpenTelemetry collector to send traces/metrics to.
	GRPCEndpoint string `yaml:"grpc_endpoint"`
}

// Server holds the configuration for the HTTP server.
type Server struct {
	// ListenAddress specifies the address and port the server will bind to and listen on.
	// Default is ":8080" (all interfaces on port 8080).
	ListenAddress string        `default:":8080" yaml:"listen_address"`
	EnablePprof   bool          `default:"false" yaml:"enable_pprof"` // EnablePprof enables profiling endpoints for debugging performance issues.
	Metrics       ServerMetrics `yaml:"metrics"`                      // Metrics contains configuration related to exposing Prometheus metrics.
	Webhook       ServerWebhook `yaml:"webhook"`                      // Webhook holds configuration for webhook-related HTTP endpoints.
}

// ServerMetrics holds configuration for the metrics HTTP endpoint.
type ServerMetrics struct {
	// EnableOpenmetricsEncoding enables OpenMetrics content encoding in the Prometheus HTTP handler.
	EnableOpenmetricsEncoding bool `default:"false" yaml:"enable_openmetrics_encoding"`
	Enabled                   bool `default:"true" yaml:"enabled"` // Enabled controls whether the /metrics endpoint is exposed.
}

// ServerWebhook holds configuration for the webhook HTTP endpoint.
type ServerWebhook struct {
	// Enabled enables the /webhook endpoint to receive commit events from the CI collaborator.
	Enabled bool `default:"false" yaml:"enabled"`

	// SecretToken is used to authenticate incoming webhook requests to ensure they come from a legitimate CI server.
	// This token is required if the webhook endpoint is enabled.
	SecretToken string `validate:"required_if=Enabled true" yaml:"secret_token"`
}

// Registry holds the configuration needed to reach the remote artifact store.
type Registry struct {
	// URL of the registry endpoint, e.g. "registry.example.com".
	URL string `validate:"required" yaml:"url"`

	// Repository is the image repository artifacts are published under,
	// e.g. "acme/api". Tags derived from branch names are appended to it.
	Repository string `validate:"required" yaml:"repository"`

	// HealthURL is the URL used to check if the registry is reachable.
	// When empty it is derived from URL ("https://<url>/v2/").
	HealthURL string `yaml:"health_url"`

	Username                   string `yaml:"username"`                                               // Username used to authenticate against the registry.
	Password                   string `yaml:"password"`                                               // Password or token used to authenticate against the registry.
	EnableHealthCheck          bool   `default:"true" yaml:"enable_health_check"`                     // EnableHealthCheck toggles readiness checks against the HealthURL.
	EnableTLSVerify            bool   `default:"true" yaml:"enable_tls_verify"`                       // EnableTLSVerify toggles TLS certificate verification for registry connections.
	MaximumRequestsPerSecond   int    `default:"5" validate:"gte=1" yaml:"maximum_requests_per_second"`   // MaximumRequestsPerSecond limits the rate of registry API requests.
	BurstableRequestsPerSecond int    `default:"5" validate:"gte=1" yaml:"burstable_requests_per_second"` // BurstableRequestsPerSecond allows short bursts above the normal max request rate.
}

// Build configures the external build collaborator turning a source tree into
// a content-addressed artifact.
type Build struct {
	// ContextDir is the directory holding the source tree to build.
	ContextDir string `default:"." yaml:"context_dir"`

	// Dockerfile is the build recipe path, relative to ContextDir.
	Dockerfile string `default:"Dockerfile" yaml:"dockerfile"`

	// DockerHost overrides the daemon endpoint used for builds. Empty means
	// environment defaults.
	DockerHost string `yaml:"docker_host"`

	// RetryLimit bounds how many times a failed build is retried before the
	// run is marked failed.
	RetryLimit int `default:"1" validate:"gte=0" yaml:"retry_limit"`
}

// Application holds the one piece of runtime configuration the deployed
// artifact itself needs: the port it listens on. It is passed through
// unchanged to the deployed container.
type Application struct {
	Port int `default:"8000" validate:"gte=1,lte=65535" yaml:"port"`
}

// Redis holds the configuration for connecting to a Redis instance.
type Redis struct {
	// URL is the connection string used to connect to the Redis server.
	// Format example: redis[s]://[:password@]host[:port][/db-number][?option=value]
	URL string `yaml:"url"`
}

// Pipeline holds configuration related to pipeline run execution.
type Pipeline struct {
	// MaximumJobsQueueSize limits the number of runs queued internally before dropping new ones.
	MaximumJobsQueueSize int `default:"1000" validate:"gte=10" yaml:"maximum_jobs_queue_size"`

	// PublishRetryLimit bounds how many times a failed push or verification is
	// retried before the run is marked failed.
	PublishRetryLimit int `default:"2" validate:"gte=0" yaml:"publish_retry_limit"`

	// SyncDeploymentTargets configures the reconciliation of configured targets into the store.
	SyncDeploymentTargets struct {
		OnInit          bool `default:"true" yaml:"on_init"`                          // OnInit determines whether targets should be synced once at startup.
		Scheduled       bool `default:"true" yaml:"scheduled"`                        // Scheduled enables periodic target reconciliation.
		IntervalSeconds int  `default:"300" validate:"gte=1" yaml:"interval_seconds"` // IntervalSeconds defines the interval in seconds between scheduled syncs.
	} `yaml:"sync_deployment_targets"`
}

// Rollout holds the health confirmation bounds of a deployment.
// It is part of DeploymentParameters so production deployments can carry
// different budgets than development ones.
type Rollout struct {
	// HealthCheckTimeoutSeconds is the total budget for a target to become
	// healthy after an update before it is considered unhealthy.
	HealthCheckTimeoutSeconds int `default:"60" validate:"gte=1" yaml:"health_check_timeout_seconds"`

	// HealthCheckMaxAttempts bounds the number of health polls within the
	// timeout budget. Polling backs off exponentially between attempts.
	HealthCheckMaxAttempts int `default:"10" validate:"gte=1" yaml:"health_check_max_attempts"`
}

// GarbageCollect holds configuration for periodic cleanup tasks.
type GarbageCollect struct {
	// Runs configures cleanup behavior for terminal pipeline runs.
	Runs struct {
		OnInit           bool `default:"false" yaml:"on_init"`                             // OnInit indicates if cleanup should run once at startup.
		Scheduled        bool `default:"true" yaml:"scheduled"`                            // Scheduled indicates if cleanup should run periodically.
		IntervalSeconds  int  `default:"1800" validate:"gte=1" yaml:"interval_seconds"`    // IntervalSeconds sets the interval in seconds between cleanup runs.
		RetentionSeconds int  `default:"86400" validate:"gte=1" yaml:"retention_seconds"`  // RetentionSeconds keeps terminal runs queryable for this long. 24 hours
	} `yaml:"runs"`
}

// UnmarshalYAML implements custom YAML unmarshaling logic for the Config struct.
// It decodes deployments individually so each one inherits DeploymentDefaults.
func (c *Config) UnmarshalYAML(v *yaml.Node) (err error) {
	// Define a local struct that mirrors Config but treats Deployments as raw
	// YAML nodes so we can decode them individually with defaults inheritance.
	type localConfig struct {
		Log                Log                  `yaml:"log"`
		OpenTelemetry      OpenTelemetry        `yaml:"opentelemetry"`
		Server             Server               `yaml:"server"`
		Registry           Registry             `yaml:"registry"`
		Build              Build                `yaml:"build"`
		Application        Application          `yaml:"application"`
		Redis              Redis                `yaml:"redis"`
		Pipeline           Pipeline             `yaml:"pipeline"`
		GarbageCollect     GarbageCollect       `yaml:"garbage_collect"`
		DeploymentDefaults DeploymentParameters `yaml:"deployment_defaults"`

		Deployments []yaml.Node `yaml:"deployments"` // hold deployments as raw YAML nodes
	}

	// Initialize the local config with default values
	_cfg := localConfig{}
	defaults.MustSet(&_cfg)

	// Decode the input YAML into the local config struct
	if err = v.Decode(&_cfg); err != nil {
		return
	}

	// Copy the simple fields from local config to the actual Config struct
	c.Log = _cfg.Log
	c.OpenTelemetry = _cfg.OpenTelemetry
	c.Server = _cfg.Server
	c.Registry = _cfg.Registry
	c.Build = _cfg.Build
	c.Application = _cfg.Application
	c.Redis = _cfg.Redis
	c.Pipeline = _cfg.Pipeline
	c.GarbageCollect = _cfg.GarbageCollect
	c.DeploymentDefaults = _cfg.DeploymentDefaults

	// Decode each deployment YAML node into a Deployment object and append it
	for _, n := range _cfg.Deployments {
		d := c.NewDeployment() // create a new Deployment with defaults
		if err = n.Decode(&d); err != nil {
			return
		}
		c.Deployments = append(c.Deployments, d)
	}

	return
}

// ToYAML serializes the Config object into a YAML formatted string.
// Before serialization, it clears or masks sensitive data to avoid leaking secrets.
func (c Config) ToYAML() string {
	// Clear the Global config (not serialized)
	c.Global = Global{}

	// Mask sensitive tokens in the config to avoid exposing them in the output YAML
	c.Server.Webhook.SecretToken = "*******"
	c.Registry.Password = "*******"

	// Marshal the config struct into YAML bytes
	b, err := yaml.Marshal(c)
	if err != nil {
		panic(err)
	}

	return string(b)
}

// Validate checks if the Config struct's fields are valid according to
// the validation rules defined via struct tags and custom validators.
// It returns an error if any validation rule fails.
func (c Config) Validate() error {
	// Initialize the validator instance if not already done
	if validate == nil {
		validate = validator.New()
		// Register a custom validation rule to ensure at least
		// one deployment is defined in the config
		_ = validate.RegisterValidation("at-least-1-deployment", ValidateAtLeastOneDeployment)
	}

	// Perform the validation on the Config struct and return the result
	return validate.Struct(c)
}

// SchedulerConfig defines common scheduling behavior for background tasks or jobs.
type SchedulerConfig struct {
	OnInit          bool // OnInit determines whether the task should run immediately at startup.
	Scheduled       bool // Scheduled determines whether the task should run on a recurring schedule.
	IntervalSeconds int  // IntervalSeconds specifies how often (in seconds) the task should run when scheduled.
}

// Log returns a structured representation of the scheduler configuration
// to help display it in logs for the end user.
func (sc SchedulerConfig) Log() log.Fields {
	onInit, scheduled := "no", "no"

	if sc.OnInit {
		onInit = "yes"
	}

	if sc.Scheduled {
		scheduled = fmt.Sprintf("every %vs", sc.IntervalSeconds)
	}

	return log.Fields{
		"on-init":   onInit,
		"scheduled": scheduled,
	}
}

// ValidateAtLeastOneDeployment is a custom validation function.
// It ensures that at least one deployment is configured in the Config.
func ValidateAtLeastOneDeployment(v validator.FieldLevel) bool {
	return v.Parent().FieldByName("Deployments").Len() > 0
}

// New returns a new Config instance with default parameters set.
func New() (c Config) {
	defaults.MustSet(&c) // Apply default values to the config fields
	return
}

// NewDeployment returns a new Deployment instance initialized with the default
// deployment parameters defined in the Config (under DeploymentDefaults).
func (c Config) NewDeployment() (d Deployment) {
	defaults.MustSet(&d)                          // Apply default values to the deployment fields
	d.DeploymentParameters = c.DeploymentDefaults // Inherit default parameters from the Config
	return
}
