package client

import (
	"context" // Package for managing context and cancellation
	"encoding/json"
	"fmt"
	"io"
	"net"      // Package for network I/O
	"net/http" // Package for HTTP client implementations
	"net/url"  // Package for URL parsing and manipulation
	"time"

	log "github.com/sirupsen/logrus" // Logging library

	"github.com/helvethink/release-orchestrator/pkg/monitor" // Monitoring types
)

// Client polls the orchestrator's internal monitoring API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new client for the monitoring server. Both tcp and
// unix listener addresses are supported.
func NewClient(_ context.Context, endpoint *url.URL) *Client {
	log.WithField("endpoint", endpoint.String()).Debug("configuring monitoring API client..")

	httpClient := &http.Client{Timeout: 5 * time.Second}
	baseURL := fmt.Sprintf("http://%s", endpoint.Host)

	if endpoint.Scheme == "unix" {
		socketPath := endpoint.Path

		httpClient.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer

				return d.DialContext(ctx, "unix", socketPath)
			},
		}

		baseURL = "http://unix"
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// GetConfig fetches the server's effective configuration, secrets masked.
func (c *Client) GetConfig(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/config")
	if err != nil {
		return "", err
	}

	return string(body), nil
}

// GetTelemetry fetches a telemetry snapshot from the server.
func (c *Client) GetTelemetry(ctx context.Context) (*monitor.Telemetry, error) {
	body, err := c.get(ctx, "/telemetry")
	if err != nil {
		return nil, err
	}

	telemetry := &monitor.Telemetry{}
	if err := json.Unmarshal(body, telemetry); err != nil {
		return nil, err
	}

	return telemetry, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
