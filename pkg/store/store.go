package store

import (
	"context"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

// Store is an interface that defines methods for interacting with storage.
// It includes methods for manipulating pipeline runs and deployment targets,
// plus the queue-tracking helpers used to avoid scheduling the same work twice.
type Store interface {
	// Methods for manipulating pipeline runs
	SetRun(ctx context.Context, r schemas.PipelineRun) error                // SetRun stores a pipeline run
	DelRun(ctx context.Context, rk schemas.PipelineRunKey) error            // DelRun deletes a pipeline run
	GetRun(ctx context.Context, r *schemas.PipelineRun) error               // GetRun retrieves a pipeline run
	RunExists(ctx context.Context, rk schemas.PipelineRunKey) (bool, error) // RunExists checks the existence of a pipeline run
	Runs(ctx context.Context) (schemas.PipelineRuns, error)                 // Runs retrieves all pipeline runs
	RunsCount(ctx context.Context) (int64, error)                           // RunsCount counts the number of pipeline runs

	// Methods for manipulating deployment targets
	SetTarget(ctx context.Context, t schemas.DeploymentTarget) error                // SetTarget stores a deployment target
	DelTarget(ctx context.Context, tk schemas.DeploymentTargetKey) error            // DelTarget deletes a deployment target
	GetTarget(ctx context.Context, t *schemas.DeploymentTarget) error               // GetTarget retrieves a deployment target
	TargetExists(ctx context.Context, tk schemas.DeploymentTargetKey) (bool, error) // TargetExists checks the existence of a deployment target
	Targets(ctx context.Context) (schemas.DeploymentTargets, error)                 // Targets retrieves all deployment targets
	TargetsCount(ctx context.Context) (int64, error)                                // TargetsCount counts the number of deployment targets

	// Helpers to keep track of currently queued tasks and avoid scheduling them
	// twice at the risk of ending up with loads of dangling goroutines being locked.
	// The pipeline-run task type is keyed by branch name, which is what enforces
	// the at-most-one-concurrent-run-per-branch rule; the rollout task type is
	// keyed by target name, which serializes rollouts per target.
	QueueTask(ctx context.Context, tt schemas.TaskType, taskUUID, processUUID string) (bool, error) // QueueTask adds a task to the queue
	UnqueueTask(ctx context.Context, tt schemas.TaskType, taskUUID string) error                    // UnqueueTask removes a task from the queue
	CurrentlyQueuedTasksCount(ctx context.Context) (uint64, error)                                  // CurrentlyQueuedTasksCount counts the number of currently queued tasks
	ExecutedTasksCount(ctx context.Context) (uint64, error)                                         // ExecutedTasksCount counts the number of executed tasks
}

// NewLocalStore creates a new instance of local storage.
func NewLocalStore() Store {
	return &Local{
		runs:    make(schemas.PipelineRuns),      // Initializes a collection of pipeline runs
		targets: make(schemas.DeploymentTargets), // Initializes a collection of deployment targets
	}
}

// NewRedisStore creates a new instance of storage using Redis.
func NewRedisStore(client *redis.Client) Store {
	return &Redis{
		Client: client, // Redis client to interact with the Redis server
	}
}

// New creates a new store and populates it with the deployment targets derived
// from the configured branch mapping. Targets already present keep their state,
// in particular their last confirmed digest.
func New(
	ctx context.Context,
	r *redis.Client,
	deployments config.Deployments,
) (s Store) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "store:New")
	defer span.End()

	// Chooses the type of storage based on the presence of a Redis client
	if r != nil {
		s = NewRedisStore(r)
	} else {
		s = NewLocalStore()
	}

	// Loads all the configured deployment targets into the store
	for _, d := range deployments {
		for _, t := range d.Targets {
			st := schemas.NewDeploymentTargetFromConfig(d, t)

			exists, err := s.TargetExists(ctx, st.Key())
			if err != nil {
				log.WithContext(ctx).
					WithFields(log.Fields{
						"target-name": t.Name,
					}).
					WithError(err).
					Error("reading deployment target from the store")
			}

			if !exists {
				if err = s.SetTarget(ctx, st); err != nil {
					log.WithContext(ctx).
						WithFields(log.Fields{
							"target-name": t.Name,
						}).
						WithError(err).
						Error("writing deployment target in the store")
				}
			}
		}
	}

	return s
}

const tracerName = "release-orchestrator"
