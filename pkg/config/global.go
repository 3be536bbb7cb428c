package config

import (
	"net/url"
)

// Global contains configuration settings that are shared across the entire orchestrator.
// It includes options that apply globally rather than to specific components.
type Global struct {
	// InternalMonitoringListenerAddress specifies the URL endpoint where the
	// orchestrator's own status API can be accessed by the monitor command.
	InternalMonitoringListenerAddress *url.URL
}
