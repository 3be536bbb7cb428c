package controller

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/taskq/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"google.golang.org/grpc"

	"github.com/helvethink/release-orchestrator/pkg/builder"
	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/ratelimit"
	"github.com/helvethink/release-orchestrator/pkg/registry"
	"github.com/helvethink/release-orchestrator/pkg/rollout"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
	"github.com/helvethink/release-orchestrator/pkg/store"
)

const tracerName = "release-orchestrator"

// Controller holds the necessary clients and components to run the application and handle its operations.
// It includes configuration, connections to Redis, the registry client, storage interface, the pipeline
// collaborators and task management. The UUID field uniquely identifies this controller instance,
// especially useful in clustered deployments where multiple orchestrator instances share Redis.
type Controller struct {
	Config         config.Config        // Application configuration settings
	Redis          *redis.Client        // Redis client for caching and coordination
	Registry       *registry.Client     // Container registry client
	Publisher      *registry.Publisher  // Pushes built artifacts under branch-derived tags
	Builder        builder.Builder      // Turns commit events into content-addressed artifacts
	Resolver       *rollout.Resolver    // Maps branches onto deployment targets
	Coordinator    *rollout.Coordinator // Drives per-target rollouts
	Store          store.Store          // Storage interface to persist data (backed by Redis)
	TaskController TaskController       // Manages background tasks and job queues

	// UUID uniquely identifies this controller instance among others when running
	// in clustered mode, facilitating coordination via Redis.
	UUID uuid.UUID
}

// New creates and initializes a new Controller instance.
// It sets up tracing, the Redis connection, the task controller, storage, the registry client,
// the build and rollout collaborators, and starts the scheduler.
func New(ctx context.Context, cfg config.Config, version string) (c Controller, err error) {
	c.Config = cfg
	c.UUID = uuid.New()

	// Configure distributed tracing if an OpenTelemetry gRPC endpoint is specified
	if err = configureTracing(ctx, cfg.OpenTelemetry.GRPCEndpoint); err != nil {
		return
	}

	// Initialize Redis connection with provided URL
	if err = c.configureRedis(ctx, cfg.Redis.URL); err != nil {
		return
	}

	// Create a task controller to manage job queues with a maximum size from config
	c.TaskController = NewTaskController(ctx, c.Redis, cfg.Pipeline.MaximumJobsQueueSize)
	c.registerTasks()

	// Initialize the storage interface which will use Redis and the configured deployment targets
	c.Store = store.New(ctx, c.Redis, c.Config.Deployments)

	// Configure the registry client and the publisher on top of it
	if err = c.configureRegistry(cfg.Registry, version); err != nil {
		return
	}

	c.Publisher = registry.NewPublisher(c.Registry, cfg.Registry, cfg.Pipeline.PublishRetryLimit)

	// Configure the artifact builder against the local Docker daemon
	if c.Builder, err = builder.New(cfg.Build); err != nil {
		return
	}

	// Configure the resolver and the rollout coordinator
	c.Resolver = rollout.NewResolver(cfg.Deployments)

	var platform rollout.Platform

	if platform, err = rollout.NewDockerPlatform(cfg.Build.DockerHost, cfg.Registry, cfg.Application); err != nil {
		return
	}

	c.Coordinator = rollout.NewCoordinator(platform, c.Store, cfg.Registry, cfg.DeploymentDefaults.Rollout)

	// Start background schedulers for target syncing and garbage collection based on config
	c.Schedule(ctx, cfg.Pipeline, cfg.GarbageCollect)

	return
}

// registerTasks registers all task handlers with the TaskController's task map.
// Each task type is registered with a retry limit of 1, meaning the task will be
// retried once on failure.
func (c *Controller) registerTasks() {
	for n, h := range map[schemas.TaskType]interface{}{
		schemas.TaskTypePipelineRun:           c.TaskHandlerPipelineRun,
		schemas.TaskTypeSyncDeploymentTargets: c.TaskHandlerSyncDeploymentTargets,
		schemas.TaskTypeGarbageCollectRuns:    c.TaskHandlerGarbageCollectRuns,
	} {
		_, _ = c.TaskController.TaskMap.Register(string(n), &taskq.TaskConfig{
			Handler:    h,
			RetryLimit: 1,
		})
	}
}

// unqueueTask attempts to remove a task identified by its type and unique ID from the task queue in the store.
// If the operation fails, it logs a warning with the task details and the error encountered.
func (c *Controller) unqueueTask(ctx context.Context, tt schemas.TaskType, uniqueID string) {
	if err := c.Store.UnqueueTask(ctx, tt, uniqueID); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"task_type":      tt,
				"task_unique_id": uniqueID,
			}).
			WithError(err).
			Warn("unqueuing task")
	}
}

// configureTracing sets up OpenTelemetry tracing via a gRPC endpoint.
// If no endpoint is provided, tracing support is skipped.
func configureTracing(ctx context.Context, grpcEndpoint string) error {
	if len(grpcEndpoint) == 0 {
		log.Debug("open-telemetry.grpc_endpoint is not configured, skipping open telemetry support")

		return nil
	}

	log.WithFields(log.Fields{
		"open-telemetry_grpc_endpoint": grpcEndpoint,
	}).Info("open-telemetry gRPC endpoint provided, initializing connection..")

	traceClient := otlptracegrpc.NewClient(
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(grpcEndpoint),
		otlptracegrpc.WithDialOption(grpc.WithBlock()), // nolint: staticcheck
	)

	traceExp, err := otlptrace.New(ctx, traceClient)
	if err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("release-orchestrator"),
		),
	)
	if err != nil {
		return err
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExp)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)

	otel.SetTracerProvider(tracerProvider)

	return nil
}

// configureRegistry initializes the registry client with the given configuration and version.
// It sets up a rate limiter using Redis if available, otherwise uses a local rate limiter.
func (c *Controller) configureRegistry(cfg config.Registry, version string) (err error) {
	var rl ratelimit.Limiter

	if c.Redis != nil {
		rl = ratelimit.NewRedisLimiter(c.Redis, cfg.MaximumRequestsPerSecond)
	} else {
		rl = ratelimit.NewLocalLimiter(cfg.MaximumRequestsPerSecond, cfg.BurstableRequestsPerSecond)
	}

	c.Registry, err = registry.NewClient(registry.ClientConfig{
		Registry:         cfg,
		UserAgentVersion: version,
		RateLimiter:      rl,
	})

	return
}

// configureRedis initializes the Redis client using the provided URL and sets up OpenTelemetry tracing instrumentation.
// It returns an error if any step of the configuration or connection fails.
func (c *Controller) configureRedis(ctx context.Context, url string) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:configureRedis")
	defer span.End()

	// If no Redis URL is provided, skip Redis configuration and use local (in-memory) alternatives
	if len(url) <= 0 {
		log.Debug("redis url is not configured, skipping configuration & using local driver")

		return
	}

	log.Info("redis url configured, initializing connection..")

	var opt *redis.Options

	if opt, err = redis.ParseURL(url); err != nil {
		return
	}

	c.Redis = redis.NewClient(opt)

	if err = redisotel.InstrumentTracing(c.Redis); err != nil {
		return
	}

	if _, err := c.Redis.Ping(ctx).Result(); err != nil {
		return errors.Wrap(err, "connecting to redis")
	}

	log.Info("connected to redis")

	return
}
