package controller

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/taskq/memqueue/v4"
	"github.com/vmihailenco/taskq/redisq/v4"
	"github.com/vmihailenco/taskq/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/monitor"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
	"github.com/helvethink/release-orchestrator/pkg/store"
)

// TaskController holds the components needed to manage task queues and scheduling.
type TaskController struct {
	Factory                  taskq.Factory                                      // Factory creates task queues and manages their lifecycle.
	Queue                    taskq.Queue                                        // Queue is the actual task queue instance where tasks are enqueued and consumed.
	TaskMap                  *taskq.TaskMap                                     // TaskMap holds the mapping of task types to their handlers for processing.
	TaskSchedulingMonitoring map[schemas.TaskType]*monitor.TaskSchedulingStatus // TaskSchedulingMonitoring holds monitoring status per task type to track scheduling health.
}

// NewTaskController initializes and returns a new TaskController.
// It sets up the task queue backed either by Redis (if provided) or an in-memory queue.
// maximumJobsQueueSize controls the queue buffer size.
func NewTaskController(ctx context.Context, r *redis.Client, maximumJobsQueueSize int) (t TaskController) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:NewTaskController")
	defer span.End()

	t.TaskMap = &taskq.TaskMap{}

	queueOptions := &taskq.QueueConfig{
		Name:                 "default",
		PauseErrorsThreshold: 3,
		Handler:              t.TaskMap,
		BufferSize:           maximumJobsQueueSize,
	}

	// Use Redis-backed queue if redis client is provided, else use in-memory queue
	if r != nil {
		t.Factory = redisq.NewFactory()
		queueOptions.Redis = r
	} else {
		t.Factory = memqueue.NewFactory()
	}

	t.Queue = t.Factory.RegisterQueue(queueOptions)

	// Purge the queue to start fresh - caution advised if running in HA setups
	if err := t.Queue.Purge(ctx); err != nil {
		log.WithContext(ctx).
			WithError(err).
			Error("purging the task queue")
	}

	if r != nil {
		if err := t.Factory.StartConsumers(context.TODO()); err != nil {
			log.WithContext(ctx).
				WithError(err).
				Fatal("starting consuming the task queue")
		}
	}

	t.TaskSchedulingMonitoring = make(map[schemas.TaskType]*monitor.TaskSchedulingStatus)

	return
}

// TaskHandlerPipelineRun handles a task to execute a full pipeline run for a
// commit event. The branch's queue entry is only released once the run reached
// a terminal state, which is what rejects concurrent runs for the same branch.
func (c *Controller) TaskHandlerPipelineRun(ctx context.Context, ev schemas.CommitEvent) {
	defer c.unqueueTask(ctx, schemas.TaskTypePipelineRun, ev.Branch)

	if _, err := c.ExecuteRun(ctx, ev); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"branch":   ev.Branch,
				"revision": ev.Revision,
			}).
			WithError(err).
			Warn("executing pipeline run")
	}
}

// TaskHandlerSyncDeploymentTargets handles the task of reconciling the stored
// deployment targets with the configured branch mapping. It unqueues the task
// when done and updates monitoring for task scheduling.
func (c *Controller) TaskHandlerSyncDeploymentTargets(ctx context.Context) {
	defer c.unqueueTask(ctx, schemas.TaskTypeSyncDeploymentTargets, "_")
	defer c.TaskController.monitorLastTaskScheduling(schemas.TaskTypeSyncDeploymentTargets)

	if err := c.SyncDeploymentTargets(ctx); err != nil {
		log.WithContext(ctx).
			WithError(err).
			Warn("syncing deployment targets")
	}
}

// TaskHandlerGarbageCollectRuns handles the task of garbage collecting
// terminal pipeline runs past their retention. It ensures the task is properly
// unqueued and updates task scheduling monitoring.
func (c *Controller) TaskHandlerGarbageCollectRuns(ctx context.Context) error {
	defer c.unqueueTask(ctx, schemas.TaskTypeGarbageCollectRuns, "_")
	defer c.TaskController.monitorLastTaskScheduling(schemas.TaskTypeGarbageCollectRuns)

	return c.GarbageCollectRuns(ctx)
}

// Schedule initializes and schedules the periodic tasks based on configuration.
//
// For each task type:
// - If OnInit is true, the task is scheduled immediately once.
// - If Scheduled is true, the task is scheduled repeatedly at the configured interval.
//
// If a Redis client is configured, it also schedules a keepalive task for Redis.
func (c *Controller) Schedule(ctx context.Context, pipeline config.Pipeline, gc config.GarbageCollect) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:Schedule")
	defer span.End()

	for tt, cfg := range map[schemas.TaskType]config.SchedulerConfig{
		schemas.TaskTypeSyncDeploymentTargets: config.SchedulerConfig(pipeline.SyncDeploymentTargets),
		schemas.TaskTypeGarbageCollectRuns: {
			OnInit:          gc.Runs.OnInit,
			Scheduled:       gc.Runs.Scheduled,
			IntervalSeconds: gc.Runs.IntervalSeconds,
		},
	} {
		if cfg.OnInit {
			c.ScheduleTask(ctx, tt, "_")
		}

		if cfg.Scheduled {
			c.ScheduleTaskWithTicker(ctx, tt, cfg.IntervalSeconds)
		}
	}

	if c.Redis != nil {
		c.ScheduleRedisSetKeepalive(ctx)
	}
}

// ScheduleRedisSetKeepalive periodically updates a Redis key to signal that this instance
// of the process is alive and actively processing tasks. Other instances use the key to
// decide whether they may take over queued work.
func (c *Controller) ScheduleRedisSetKeepalive(ctx context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ScheduleRedisSetKeepalive")
	defer span.End()

	go func(ctx context.Context) {
		ticker := time.NewTicker(time.Duration(1) * time.Second)

		for {
			select {
			case <-ctx.Done():
				log.Info("stopped redis keepalive")

				return
			case <-ticker.C:
				if _, err := c.Store.(*store.Redis).SetKeepalive(ctx, c.UUID.String(), time.Duration(10)*time.Second); err != nil {
					log.WithContext(ctx).
						WithError(err).
						Fatal("setting keepalive")
				}
			}
		}
	}(ctx)
}

// ScheduleTask schedules a new task of type `tt` with a unique identifier `uniqueID` and optional arguments.
//
// It checks the current length of the task queue to avoid overfilling it beyond its buffer size,
// then declares the queueing in the persistent store to ensure idempotency: a task already queued
// under the same unique ID is skipped. For pipeline-run tasks the unique ID is the branch name,
// which is what rejects duplicate events while a run for the branch is still in flight.
func (c *Controller) ScheduleTask(ctx context.Context, tt schemas.TaskType, uniqueID string, args ...interface{}) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ScheduleTask")
	defer span.End()

	span.SetAttributes(attribute.String("task_type", string(tt)))
	span.SetAttributes(attribute.String("task_unique_id", uniqueID))

	logFields := log.Fields{
		"task_type":      tt,
		"task_unique_id": uniqueID,
	}
	task := c.TaskController.TaskMap.Get(string(tt))
	msg := task.NewJob(args...)

	qlen, err := c.TaskController.Queue.Len(ctx)
	if err != nil {
		log.WithContext(ctx).
			WithFields(logFields).
			Warn("unable to read task queue length, skipping scheduling of task..")

		return
	}

	if qlen >= c.TaskController.Queue.Options().BufferSize {
		log.WithContext(ctx).
			WithFields(logFields).
			Warn("queue buffer size exhausted, skipping scheduling of task..")

		return
	}

	queued, err := c.Store.QueueTask(ctx, tt, uniqueID, c.UUID.String())
	if err != nil {
		log.WithContext(ctx).
			WithFields(logFields).
			Warn("unable to declare the queueing, skipping scheduling of task..")

		return
	}

	if !queued {
		log.WithFields(logFields).
			Debug("task already queued, skipping scheduling of task..")

		return
	}

	go func(job *taskq.Job) {
		if err := c.TaskController.Queue.AddJob(ctx, job); err != nil {
			log.WithContext(ctx).
				WithError(err).
				Warn("scheduling task")
		}
	}(msg)
}

// ScheduleTaskWithTicker repeatedly schedules a task of the specified type `tt` at fixed
// intervals defined by `intervalSeconds`. A zero or negative interval disables the task.
func (c *Controller) ScheduleTaskWithTicker(ctx context.Context, tt schemas.TaskType, intervalSeconds int) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ScheduleTaskWithTicker")
	defer span.End()
	span.SetAttributes(attribute.String("task_type", string(tt)))
	span.SetAttributes(attribute.Int("interval_seconds", intervalSeconds))

	if intervalSeconds <= 0 {
		log.WithContext(ctx).
			WithField("task", tt).
			Warn("task scheduling misconfigured, currently disabled")

		return
	}

	log.WithFields(log.Fields{
		"task":             tt,
		"interval_seconds": intervalSeconds,
	}).Debug("task scheduled")

	c.TaskController.monitorNextTaskScheduling(tt, intervalSeconds)

	go func(ctx context.Context) {
		ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)

		for {
			select {
			case <-ctx.Done():
				log.WithField("task", tt).Info("scheduling of task stopped")

				return
			case <-ticker.C:
				c.ScheduleTask(ctx, tt, "_")
				c.TaskController.monitorNextTaskScheduling(tt, intervalSeconds)
			}
		}
	}(ctx)
}

// monitorNextTaskScheduling updates the monitoring status of the next expected execution time for the given task type `tt`.
func (tc *TaskController) monitorNextTaskScheduling(tt schemas.TaskType, duration int) {
	if _, ok := tc.TaskSchedulingMonitoring[tt]; !ok {
		tc.TaskSchedulingMonitoring[tt] = &monitor.TaskSchedulingStatus{}
	}

	tc.TaskSchedulingMonitoring[tt].Next = time.Now().Add(time.Duration(duration) * time.Second)
}

// monitorLastTaskScheduling updates the monitoring status to record the last execution time of the given task type `tt`.
func (tc *TaskController) monitorLastTaskScheduling(tt schemas.TaskType) {
	if _, ok := tc.TaskSchedulingMonitoring[tt]; !ok {
		tc.TaskSchedulingMonitoring[tt] = &monitor.TaskSchedulingStatus{}
	}

	tc.TaskSchedulingMonitoring[tt].Last = time.Now()
}
