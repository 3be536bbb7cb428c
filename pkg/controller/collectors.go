package controller

import "github.com/prometheus/client_golang/prometheus"

// Commonly used label sets for Prometheus metrics in this application.
// These labels help categorize and filter metrics for better observability.

var (
	// runLabels contains labels applicable to pipeline run metrics.
	runLabels = []string{"branch", "revision"}

	// targetLabels contains labels applicable to deployment target metrics.
	targetLabels = []string{"target", "environment"}

	// stateLabels contains labels related to run or rollout states.
	stateLabels = []string{"state"}

	// runStatesList defines all possible pipeline run states.
	runStatesList = [...]string{
		"received", "building", "built", "publishing", "published",
		"resolving", "rolling-out", "succeeded", "failed", "rolled-back",
	}

	// rolloutStatesList defines all possible deployment target rollout states.
	rolloutStatesList = [...]string{
		"pending", "updating", "health-checking", "committed",
		"unhealthy", "rolling-back", "rolled-back", "rollback-failed",
	}
)

// NewInternalCollectorCurrentlyQueuedTasksCount creates and returns a new Prometheus GaugeVec metric collector
// for tracking the number of currently queued tasks in the system.
//
// This metric has no labels (empty label slice), representing a simple gauge value.
// It can be used internally to monitor the task queue size.
func NewInternalCollectorCurrentlyQueuedTasksCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ro_currently_queued_tasks_count",
			Help: "Number of tasks in the queue",
		},
		[]string{}, // no labels for this metric
	)
}

// NewInternalCollectorExecutedTasksCount returns a new Prometheus gauge collector
// for the metric "ro_executed_tasks_count" which tracks the total number of tasks
// that have been executed by the system.
//
// This metric is a gauge without labels.
func NewInternalCollectorExecutedTasksCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ro_executed_tasks_count",
			Help: "Number of tasks executed",
		},
		[]string{}, // no labels for this metric
	)
}

// NewInternalCollectorRegistryAPIRequestsCount returns a new Prometheus gauge collector
// for the metric "ro_registry_api_requests_count" which tracks the total number of requests
// made against the container registry API.
func NewInternalCollectorRegistryAPIRequestsCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ro_registry_api_requests_count",
			Help: "Number of requests made against the container registry API",
		},
		[]string{}, // no labels for this metric
	)
}

// NewInternalCollectorRunsCount returns a new Prometheus gauge collector
// for the metric "ro_runs_count" which tracks the total number of pipeline runs
// currently tracked by the orchestrator.
func NewInternalCollectorRunsCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ro_runs_count",
			Help: "Number of pipeline runs being tracked",
		},
		[]string{}, // no labels for this metric
	)
}

// NewInternalCollectorTargetsCount returns a new Prometheus gauge collector
// for the metric "ro_targets_count" which tracks the total number of deployment
// targets currently tracked by the orchestrator.
func NewInternalCollectorTargetsCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ro_targets_count",
			Help: "Number of deployment targets being tracked",
		},
		[]string{}, // no labels for this metric
	)
}

// NewCollectorRunState returns a new GaugeVec collector for the per-run state
// metric. One series per known run state gets emitted, with value 1 on the
// series matching the run's current state.
func NewCollectorRunState() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ro_run_state",
			Help: "State of the most recent pipeline run per branch",
		},
		append(runLabels, stateLabels...),
	)
}

// NewCollectorRunDurationSeconds returns a new GaugeVec collector tracking how
// long a pipeline run has been in flight, or took to reach a terminal state.
func NewCollectorRunDurationSeconds() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ro_run_duration_seconds",
			Help: "Duration of the most recent pipeline run per branch",
		},
		runLabels,
	)
}

// NewCollectorTargetRolloutState returns a new GaugeVec collector for the
// per-target rollout state metric. One series per known rollout state gets
// emitted, with value 1 on the series matching the target's latest rollout.
func NewCollectorTargetRolloutState() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ro_target_rollout_state",
			Help: "State of the most recent rollout per deployment target",
		},
		append(targetLabels, stateLabels...),
	)
}

// NewCollectorTargetInformation returns a new GaugeVec collector carrying
// informational labels about a deployment target, mainly its currently
// deployed digest.
func NewCollectorTargetInformation() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ro_target_information",
			Help: "Informational labels about a deployment target",
		},
		append(targetLabels, "current_digest"),
	)
}
