package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"      // Redis client for Go
	"github.com/vmihailenco/msgpack/v5" // Library for MessagePack serialization

	"github.com/helvethink/release-orchestrator/pkg/schemas" // Data schemas
)

// Constants for Redis keys
const (
	redisRunsKey               string = "runs"
	redisTargetsKey            string = "targets"
	redisTaskKey               string = "task"
	redisTasksExecutedCountKey string = "tasksExecutedCount"
	redisKeepaliveKey          string = "keepalive"
)

// Redis represents a Redis client wrapper.
type Redis struct {
	*redis.Client
}

// SetRun stores a pipeline run in Redis.
func (r *Redis) SetRun(ctx context.Context, run schemas.PipelineRun) error {
	// Marshal the run into binary format using MessagePack
	marshalledRun, err := msgpack.Marshal(run)
	if err != nil {
		return err
	}

	_, err = r.HSet(ctx, redisRunsKey, string(run.Key()), marshalledRun).Result()
	return err
}

// DelRun deletes a pipeline run from Redis.
func (r *Redis) DelRun(ctx context.Context, rk schemas.PipelineRunKey) error {
	_, err := r.HDel(ctx, redisRunsKey, string(rk)).Result()
	return err
}

// GetRun retrieves a pipeline run from Redis.
func (r *Redis) GetRun(ctx context.Context, run *schemas.PipelineRun) error {
	exists, err := r.RunExists(ctx, run.Key())
	if err != nil {
		return err
	}

	if exists {
		k := run.Key()

		marshalledRun, err := r.HGet(ctx, redisRunsKey, string(k)).Result()
		if err != nil {
			return err
		}

		if err = msgpack.Unmarshal([]byte(marshalledRun), run); err != nil {
			return err
		}
	}

	return nil
}

// RunExists checks if a pipeline run exists in Redis.
func (r *Redis) RunExists(ctx context.Context, rk schemas.PipelineRunKey) (bool, error) {
	return r.HExists(ctx, redisRunsKey, string(rk)).Result()
}

// Runs retrieves all pipeline runs from Redis.
func (r *Redis) Runs(ctx context.Context) (schemas.PipelineRuns, error) {
	runs := schemas.PipelineRuns{}

	marshalledRuns, err := r.HGetAll(ctx, redisRunsKey).Result()
	if err != nil {
		return runs, err
	}

	for stringRunKey, marshalledRun := range marshalledRuns {
		run := schemas.PipelineRun{}

		if err := msgpack.Unmarshal([]byte(marshalledRun), &run); err != nil {
			return runs, err
		}

		runs[schemas.PipelineRunKey(stringRunKey)] = run
	}

	return runs, nil
}

// RunsCount returns the count of pipeline runs in Redis.
func (r *Redis) RunsCount(ctx context.Context) (int64, error) {
	return r.HLen(ctx, redisRunsKey).Result()
}

// SetTarget stores a deployment target in Redis.
func (r *Redis) SetTarget(ctx context.Context, t schemas.DeploymentTarget) error {
	marshalledTarget, err := msgpack.Marshal(t)
	if err != nil {
		return err
	}

	_, err = r.HSet(ctx, redisTargetsKey, string(t.Key()), marshalledTarget).Result()
	return err
}

// DelTarget deletes a deployment target from Redis.
func (r *Redis) DelTarget(ctx context.Context, tk schemas.DeploymentTargetKey) error {
	_, err := r.HDel(ctx, redisTargetsKey, string(tk)).Result()
	return err
}

// GetTarget retrieves a deployment target from Redis.
func (r *Redis) GetTarget(ctx context.Context, t *schemas.DeploymentTarget) error {
	exists, err := r.TargetExists(ctx, t.Key())
	if err != nil {
		return err
	}

	if exists {
		k := t.Key()

		marshalledTarget, err := r.HGet(ctx, redisTargetsKey, string(k)).Result()
		if err != nil {
			return err
		}

		if err = msgpack.Unmarshal([]byte(marshalledTarget), t); err != nil {
			return err
		}
	}

	return nil
}

// TargetExists checks if a deployment target exists in Redis.
func (r *Redis) TargetExists(ctx context.Context, tk schemas.DeploymentTargetKey) (bool, error) {
	return r.HExists(ctx, redisTargetsKey, string(tk)).Result()
}

// Targets retrieves all deployment targets from Redis.
func (r *Redis) Targets(ctx context.Context) (schemas.DeploymentTargets, error) {
	targets := schemas.DeploymentTargets{}

	marshalledTargets, err := r.HGetAll(ctx, redisTargetsKey).Result()
	if err != nil {
		return targets, err
	}

	for stringTargetKey, marshalledTarget := range marshalledTargets {
		t := schemas.DeploymentTarget{}

		if err := msgpack.Unmarshal([]byte(marshalledTarget), &t); err != nil {
			return targets, err
		}

		targets[schemas.DeploymentTargetKey(stringTargetKey)] = t
	}

	return targets, nil
}

// TargetsCount returns the count of deployment targets in Redis.
func (r *Redis) TargetsCount(ctx context.Context) (int64, error) {
	return r.HLen(ctx, redisTargetsKey).Result()
}

// SetKeepalive sets a key with a UUID corresponding to the currently running process.
func (r *Redis) SetKeepalive(ctx context.Context, uuid string, ttl time.Duration) (bool, error) {
	return r.SetNX(ctx, fmt.Sprintf("%s:%s", redisKeepaliveKey, uuid), nil, ttl).Result()
}

// KeepaliveExists returns whether a keepalive exists or not for a particular UUID.
func (r *Redis) KeepaliveExists(ctx context.Context, uuid string) (bool, error) {
	exists, err := r.Exists(ctx, fmt.Sprintf("%s:%s", redisKeepaliveKey, uuid)).Result()
	return exists == 1, err
}

// getRedisQueueKey generates a Redis key for a task.
func getRedisQueueKey(tt schemas.TaskType, taskUUID string) string {
	return fmt.Sprintf("%s:%v:%s", redisTaskKey, tt, taskUUID)
}

// QueueTask registers that we are queueing the task.
// It returns true if it managed to schedule it, false if it was already scheduled.
// When the process which originally queued the task is no longer alive, the
// queueing is taken over rather than refused, otherwise a crashed instance
// would leave its branches locked forever.
func (r *Redis) QueueTask(ctx context.Context, tt schemas.TaskType, taskUUID, processUUID string) (set bool, err error) {
	k := getRedisQueueKey(tt, taskUUID)

	// Attempt to set the key, if it already exists, do not overwrite it
	set, err = r.SetNX(ctx, k, processUUID, 0).Result()
	if err != nil || set {
		return
	}

	// If the key already exists, check if the associated process UUID is the same as the current one
	var tpuuid string
	if tpuuid, err = r.Get(ctx, k).Result(); err != nil {
		return
	}

	// If the process UUID is different, check if the associated process is still alive
	if tpuuid != processUUID {
		var uuidIsAlive bool
		if uuidIsAlive, err = r.KeepaliveExists(ctx, tpuuid); err != nil {
			return
		}

		// If the process is not alive, override the key and schedule the task
		if !uuidIsAlive {
			if _, err = r.Set(ctx, k, processUUID, 0).Result(); err != nil {
				return
			}
			return true, nil
		}
	}

	return
}

// UnqueueTask removes the task from the tracker.
func (r *Redis) UnqueueTask(ctx context.Context, tt schemas.TaskType, taskUUID string) (err error) {
	var matched int64

	matched, err = r.Del(ctx, getRedisQueueKey(tt, taskUUID)).Result()
	if err != nil {
		return
	}

	// Increment the count of executed tasks
	if matched > 0 {
		_, err = r.Incr(ctx, redisTasksExecutedCountKey).Result()
	}

	return
}

// CurrentlyQueuedTasksCount returns the count of currently queued tasks.
func (r *Redis) CurrentlyQueuedTasksCount(ctx context.Context) (count uint64, err error) {
	iter := r.Scan(ctx, 0, fmt.Sprintf("%s:*", redisTaskKey), 0).Iterator()
	for iter.Next(ctx) {
		count++
	}

	err = iter.Err()
	return
}

// ExecutedTasksCount returns the count of executed tasks.
func (r *Redis) ExecutedTasksCount(ctx context.Context) (uint64, error) {
	countString, err := r.Get(ctx, redisTasksExecutedCountKey).Result()
	if err != nil {
		return 0, err
	}

	c, err := strconv.Atoi(countString)
	return uint64(c), err
}
