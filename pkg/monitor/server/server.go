package server

import (
	"context" // Package for managing context and cancellation
	"encoding/json"
	"net"      // Package for network I/O
	"net/http" // Package for HTTP server implementations
	"os"       // Package for OS operations

	log "github.com/sirupsen/logrus" // Logging library

	"github.com/helvethink/release-orchestrator/pkg/config"   // Configuration package
	"github.com/helvethink/release-orchestrator/pkg/monitor"  // Monitoring package
	"github.com/helvethink/release-orchestrator/pkg/registry" // Registry client package
	"github.com/helvethink/release-orchestrator/pkg/schemas"  // Schemas package
	"github.com/helvethink/release-orchestrator/pkg/store"    // Storage package
)

// Server serves the internal monitoring API consumed by the monitor TUI.
// It exposes the effective configuration and a telemetry snapshot over
// plain HTTP on the configured internal listener (tcp or unix).
type Server struct {
	registryClient           *registry.Client                                   // Registry client for API usage statistics
	cfg                      config.Config                                      // Configuration for the server
	store                    store.Store                                        // Storage interface for data persistence
	taskSchedulingMonitoring map[schemas.TaskType]*monitor.TaskSchedulingStatus // Task scheduling statuses
}

// NewServer creates a new Server instance.
func NewServer(
	registryClient *registry.Client,
	c config.Config,
	st store.Store,
	tsm map[schemas.TaskType]*monitor.TaskSchedulingStatus,
) (s *Server) {
	s = &Server{
		registryClient:           registryClient,
		cfg:                      c,
		store:                    st,
		taskSchedulingMonitoring: tsm,
	}

	return
}

// Serve starts the HTTP server to listen for incoming connections.
func (s *Server) Serve() {
	if s.cfg.Global.InternalMonitoringListenerAddress == nil {
		log.Info("internal monitoring listener address not set")

		return
	}

	log.WithFields(log.Fields{
		"scheme": s.cfg.Global.InternalMonitoringListenerAddress.Scheme,
		"host":   s.cfg.Global.InternalMonitoringListenerAddress.Host,
		"path":   s.cfg.Global.InternalMonitoringListenerAddress.Path,
	}).Info("internal monitoring listener set")

	mux := http.NewServeMux()
	mux.HandleFunc("/config", s.ConfigHandler)
	mux.HandleFunc("/telemetry", s.TelemetryHandler)

	var (
		l   net.Listener
		err error
	)

	switch s.cfg.Global.InternalMonitoringListenerAddress.Scheme {
	case "unix":
		unixAddr, err := net.ResolveUnixAddr("unix", s.cfg.Global.InternalMonitoringListenerAddress.Path)
		if err != nil {
			log.WithError(err).Fatal()
		}

		// Remove the socket file if it already exists
		if _, err := os.Stat(s.cfg.Global.InternalMonitoringListenerAddress.Path); err == nil {
			if err := os.Remove(s.cfg.Global.InternalMonitoringListenerAddress.Path); err != nil {
				log.WithError(err).Fatal()
			}
		}

		defer func(path string) {
			if err := os.Remove(path); err != nil {
				log.WithError(err).Fatal()
			}
		}(s.cfg.Global.InternalMonitoringListenerAddress.Path)

		if l, err = net.ListenUnix("unix", unixAddr); err != nil {
			log.WithError(err).Fatal()
		}

	default:
		if l, err = net.Listen(s.cfg.Global.InternalMonitoringListenerAddress.Scheme, s.cfg.Global.InternalMonitoringListenerAddress.Host); err != nil {
			log.WithError(err).Fatal()
		}
	}

	defer l.Close() // nolint: errcheck

	if err = http.Serve(l, mux); err != nil {
		log.WithError(err).Fatal()
	}
}

// ConfigHandler serves the effective configuration, secrets masked.
func (s *Server) ConfigHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.cfg.ToYAML()))
}

// TelemetryHandler serves a JSON snapshot of the orchestrator's state.
func (s *Server) TelemetryHandler(w http.ResponseWriter, r *http.Request) {
	telemetry, err := s.snapshot(r.Context())
	if err != nil {
		log.WithError(err).Warn("assembling telemetry snapshot")
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(telemetry); err != nil {
		log.WithError(err).Warn("encoding telemetry snapshot")
	}
}

// snapshot assembles the telemetry served to the monitoring TUI.
func (s *Server) snapshot(ctx context.Context) (telemetry monitor.Telemetry, err error) {
	telemetry.RegistryAPIUsage = float64(s.registryClient.RateCounter.Rate()) / float64(s.cfg.Registry.MaximumRequestsPerSecond)
	if telemetry.RegistryAPIUsage > 1 {
		telemetry.RegistryAPIUsage = 1
	}

	telemetry.RegistryAPIRequestsCount = s.registryClient.RequestsCounter.Load()

	var queuedTasks uint64

	queuedTasks, err = s.store.CurrentlyQueuedTasksCount(ctx)
	if err != nil {
		return
	}

	telemetry.TasksBufferUsage = float64(queuedTasks) / float64(s.cfg.Pipeline.MaximumJobsQueueSize)

	telemetry.TasksExecutedCount, err = s.store.ExecutedTasksCount(ctx)
	if err != nil {
		return
	}

	var runs schemas.PipelineRuns

	runs, err = s.store.Runs(ctx)
	if err != nil {
		return
	}

	telemetry.Runs.Count = int64(runs.Count())
	telemetry.Runs.ByState = make(map[string]int64)

	for _, run := range runs {
		telemetry.Runs.ByState[string(run.State)]++
	}

	var targets schemas.DeploymentTargets

	targets, err = s.store.Targets(ctx)
	if err != nil {
		return
	}

	telemetry.Targets.Count = int64(targets.Count())
	telemetry.Targets.ByState = make(map[string]int64)

	for _, t := range targets {
		telemetry.Targets.ByState[string(t.LatestRollout)]++
	}

	if tsm, ok := s.taskSchedulingMonitoring[schemas.TaskTypeGarbageCollectRuns]; ok {
		telemetry.Runs.LastSync = tsm.Last
		telemetry.Runs.NextSync = tsm.Next
	}

	if tsm, ok := s.taskSchedulingMonitoring[schemas.TaskTypeSyncDeploymentTargets]; ok {
		telemetry.Targets.LastSync = tsm.Last
		telemetry.Targets.NextSync = tsm.Next
	}

	return
}
