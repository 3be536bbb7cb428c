package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/release-orchestrator/pkg/registry"
	"github.com/helvethink/release-orchestrator/pkg/store"
)

// Collector kinds used as keys in the registry collectors map.
const (
	collectorKindRunState           = "run_state"
	collectorKindRunDurationSeconds = "run_duration_seconds"
	collectorKindTargetRolloutState = "target_rollout_state"
	collectorKindTargetInformation  = "target_information"
)

// Registry wraps a pointer to prometheus.Registry and manages metric collectors.
type Registry struct {
	*prometheus.Registry // The main Prometheus registry.

	// InternalCollectors holds custom internal application metrics (not user-facing).
	InternalCollectors struct {
		CurrentlyQueuedTasksCount prometheus.Collector // Number of tasks currently queued.
		ExecutedTasksCount        prometheus.Collector // Total number of tasks that have been executed.
		RegistryAPIRequestsCount  prometheus.Collector // Total number of registry API requests made.
		RunsCount                 prometheus.Collector // Total number of pipeline runs tracked.
		TargetsCount              prometheus.Collector // Total number of deployment targets tracked.
	}

	// Collectors maps each collector kind to its Prometheus collector.
	Collectors RegistryCollectors
}

// RegistryCollectors defines a mapping between collector kinds and their Prometheus collectors.
type RegistryCollectors map[string]prometheus.Collector

// NewRegistry initializes and returns a new Registry instance with all the necessary collectors registered.
func NewRegistry(ctx context.Context) *Registry {
	r := &Registry{
		Registry: prometheus.NewRegistry(), // Create a new Prometheus registry instance.

		// Initialize the collectors for each supported collector kind.
		Collectors: RegistryCollectors{
			collectorKindRunState:           NewCollectorRunState(),
			collectorKindRunDurationSeconds: NewCollectorRunDurationSeconds(),
			collectorKindTargetRolloutState: NewCollectorTargetRolloutState(),
			collectorKindTargetInformation:  NewCollectorTargetInformation(),
		},
	}

	// Register internal metrics collectors (e.g., for internal health and stats).
	r.RegisterInternalCollectors()

	// Register all custom collectors into the Prometheus registry.
	if err := r.RegisterCollectors(); err != nil {
		// Fatal error: the application cannot proceed without successful metric registration.
		log.WithContext(ctx).
			Fatal(err)
	}

	return r
}

// RegisterInternalCollectors declares and registers internal application metrics to the Prometheus registry.
func (r *Registry) RegisterInternalCollectors() {
	// Initialize each internal collector with its corresponding constructor.
	// These collectors track the internal state of the system (not user metrics).
	r.InternalCollectors.CurrentlyQueuedTasksCount = NewInternalCollectorCurrentlyQueuedTasksCount() // Number of currently queued tasks
	r.InternalCollectors.ExecutedTasksCount = NewInternalCollectorExecutedTasksCount()               // Number of tasks that have been executed
	r.InternalCollectors.RegistryAPIRequestsCount = NewInternalCollectorRegistryAPIRequestsCount()   // Total registry API requests
	r.InternalCollectors.RunsCount = NewInternalCollectorRunsCount()                                 // Number of tracked pipeline runs
	r.InternalCollectors.TargetsCount = NewInternalCollectorTargetsCount()                           // Number of tracked deployment targets

	// Register all initialized internal collectors with the Prometheus registry.
	// The underscore `_` ignores any error returned by Register (e.g., if already registered).
	_ = r.Register(r.InternalCollectors.CurrentlyQueuedTasksCount)
	_ = r.Register(r.InternalCollectors.ExecutedTasksCount)
	_ = r.Register(r.InternalCollectors.RegistryAPIRequestsCount)
	_ = r.Register(r.InternalCollectors.RunsCount)
	_ = r.Register(r.InternalCollectors.TargetsCount)
}

// ExportInternalMetrics gathers internal statistics from the store and registry client,
// then sets the values for the corresponding Prometheus internal collectors.
func (r *Registry) ExportInternalMetrics(ctx context.Context, reg *registry.Client, s store.Store) (err error) {
	var (
		currentlyQueuedTasks uint64 // Number of tasks currently in the queue
		executedTasksCount   uint64 // Number of tasks that have been executed
		runsCount            int64  // Number of pipeline runs tracked
		targetsCount         int64  // Number of deployment targets tracked
	)

	// Retrieve the number of currently queued tasks from the store
	currentlyQueuedTasks, err = s.CurrentlyQueuedTasksCount(ctx)
	if err != nil {
		return
	}

	// Retrieve the number of executed tasks
	executedTasksCount, err = s.ExecutedTasksCount(ctx)
	if err != nil {
		return
	}

	// Retrieve the number of pipeline runs
	runsCount, err = s.RunsCount(ctx)
	if err != nil {
		return
	}

	// Retrieve the number of deployment targets
	targetsCount, err = s.TargetsCount(ctx)
	if err != nil {
		return
	}

	// Set Prometheus gauge values for each internal metric.
	// All collectors are asserted as GaugeVec and updated with empty labels.
	r.InternalCollectors.CurrentlyQueuedTasksCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(currentlyQueuedTasks))
	r.InternalCollectors.ExecutedTasksCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(executedTasksCount))
	r.InternalCollectors.RegistryAPIRequestsCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(reg.RequestsCounter.Load()))
	r.InternalCollectors.RunsCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(runsCount))
	r.InternalCollectors.TargetsCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(targetsCount))

	return
}

// ExportRunMetrics emits a state series and a duration series for every
// tracked pipeline run. State series fan out over all known run states, with
// value 1 on the series matching the run's current state.
func (r *Registry) ExportRunMetrics(ctx context.Context, s store.Store) error {
	runs, err := s.Runs(ctx)
	if err != nil {
		return err
	}

	stateCollector := r.GetCollector(collectorKindRunState).(*prometheus.GaugeVec)
	durationCollector := r.GetCollector(collectorKindRunDurationSeconds).(*prometheus.GaugeVec)

	for _, run := range runs {
		labels := prometheus.Labels{
			"branch":   run.CommitEvent.Branch,
			"revision": run.CommitEvent.Revision,
		}

		for _, state := range runStatesList {
			value := float64(0)
			if state == string(run.State) {
				value = 1
			}

			stateCollector.With(withLabel(labels, "state", state)).Set(value)
		}

		duration := time.Since(run.CreatedAt)
		if run.State.Terminal() {
			duration = run.UpdatedAt.Sub(run.CreatedAt)
		}

		durationCollector.With(labels).Set(duration.Seconds())
	}

	return nil
}

// ExportTargetMetrics emits a rollout state series and an informational series
// for every tracked deployment target.
func (r *Registry) ExportTargetMetrics(ctx context.Context, s store.Store) error {
	targets, err := s.Targets(ctx)
	if err != nil {
		return err
	}

	stateCollector := r.GetCollector(collectorKindTargetRolloutState).(*prometheus.GaugeVec)
	infoCollector := r.GetCollector(collectorKindTargetInformation).(*prometheus.GaugeVec)

	for _, target := range targets {
		labels := prometheus.Labels(target.DefaultLabelsValues())

		for _, state := range rolloutStatesList {
			value := float64(0)
			if state == string(target.LatestRollout) {
				value = 1
			}

			stateCollector.With(withLabel(labels, "state", state)).Set(value)
		}

		infoCollector.With(withLabel(labels, "current_digest", target.CurrentDigest.String())).Set(1)
	}

	return nil
}

// RegisterCollectors adds all defined custom metric collectors to the Prometheus registry.
// It iterates over the Registry.Collectors map and registers each collector.
// If a registration fails, it returns a formatted error.
func (r *Registry) RegisterCollectors() error {
	for _, c := range r.Collectors {
		// Attempt to register the collector to the Prometheus registry
		if err := r.Register(c); err != nil {
			// If registration fails, return a descriptive error
			return fmt.Errorf("could not add provided collector '%v' to the Prometheus registry: %v", c, err)
		}
	}

	// Return nil if all collectors were successfully registered
	return nil
}

// GetCollector returns the Prometheus collector associated with the given collector kind.
// It retrieves the collector from the Registry.Collectors map using the provided kind as the key.
func (r *Registry) GetCollector(kind string) prometheus.Collector {
	return r.Collectors[kind]
}

// withLabel returns a copy of the labels map with one extra label set.
func withLabel(labels prometheus.Labels, name, value string) prometheus.Labels {
	out := make(prometheus.Labels, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}

	out[name] = value

	return out
}
