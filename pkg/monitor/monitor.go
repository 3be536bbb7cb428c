package monitor

import "time" // Package for time-related operations

// TaskSchedulingStatus represents the scheduling status of a task.
// It includes information about the last and next scheduled times.
type TaskSchedulingStatus struct {
	Last time.Time `json:"last"` // The last time the task was scheduled or executed
	Next time.Time `json:"next"` // The next time the task is scheduled to be executed
}

// Entity aggregates counts and scheduling information about one kind of
// tracked object (pipeline runs, deployment targets).
type Entity struct {
	Count    int64            `json:"count"`              // Total number of tracked objects of this kind
	ByState  map[string]int64 `json:"by_state,omitempty"` // Breakdown per state, when the kind has states
	LastSync time.Time        `json:"last_sync"`          // Last time a sync/GC task ran for the kind
	NextSync time.Time        `json:"next_sync"`          // Next expected sync/GC task for the kind
}

// Telemetry is the status snapshot served to the monitoring TUI.
type Telemetry struct {
	RegistryAPIUsage         float64 `json:"registry_api_usage"`          // Share of the configured registry request budget currently used
	RegistryAPIRequestsCount uint64  `json:"registry_api_requests_count"` // Total registry API requests made by this instance
	TasksBufferUsage         float64 `json:"tasks_buffer_usage"`          // Share of the task queue buffer currently used
	TasksExecutedCount       uint64  `json:"tasks_executed_count"`        // Total tasks executed by this instance

	Runs    Entity `json:"runs"`    // Pipeline runs snapshot
	Targets Entity `json:"targets"` // Deployment targets snapshot
}
