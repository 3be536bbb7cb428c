package registry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/heptiolabs/healthcheck"
	"github.com/opencontainers/go-digest"
	"github.com/paulbellamy/ratecounter"
	"go.opentelemetry.io/otel"

	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/ratelimit"
)

const (
	userAgent  = "release-orchestrator"
	tracerName = "release-orchestrator"
)

// Client is a wrapper around the Docker SDK client scoped to registry
// distribution operations, adding support for rate limiting, request
// counting and readiness checks against the registry's v2 endpoint.
type Client struct {
	docker *client.Client

	// Registry locator and credentials resolved from the configuration.
	registryURL string
	auth        string // base64-encoded auth payload sent with push/resolve calls

	// Readiness contains configuration to check if the registry
	// is responsive and healthy via its /v2/ endpoint.
	Readiness struct {
		URL        string       // URL for readiness checks
		HTTPClient *http.Client // HTTP client used to perform readiness requests
	}

	RateLimiter     ratelimit.Limiter        // RateLimiter controls the rate of registry API requests.
	RateCounter     *ratecounter.RateCounter // RateCounter tracks the number of requests over time for monitoring.
	RequestsCounter atomic.Uint64            // RequestsCounter is an atomic counter for total requests sent.
}

// ClientConfig holds configuration options needed to instantiate a new Client.
type ClientConfig struct {
	Registry         config.Registry   // Registry locator, credentials and health endpoint
	UserAgentVersion string            // User agent string for client identification
	RateLimiter      ratelimit.Limiter // Optional custom rate limiter implementation
}

// NewHTTPClient creates an HTTP client with optional TLS verification
// disabling, wrapped in a throttled transport bounding direct requests
// to the registry API.
func NewHTTPClient(disableTLSVerify bool, maximumRPS int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: disableTLSVerify}

	return &http.Client{
		Transport: ratelimit.NewThrottledTransport(time.Second, maximumRPS, transport),
	}
}

// NewClient creates and returns a new Client instance configured with the
// provided ClientConfig. It initializes the underlying Docker client, the
// readiness check HTTP client, rate limiting and request counting.
func NewClient(cfg ClientConfig) (*Client, error) {
	dc, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
		client.WithHTTPHeaders(map[string]string{
			"User-Agent": fmt.Sprintf("%s-%s", userAgent, cfg.UserAgentVersion),
		}),
	)
	if err != nil {
		return nil, err
	}

	auth, err := dockerregistry.EncodeAuthConfig(dockerregistry.AuthConfig{
		Username:      cfg.Registry.Username,
		Password:      cfg.Registry.Password,
		ServerAddress: cfg.Registry.URL,
	})
	if err != nil {
		return nil, err
	}

	readinessCheckHTTPClient := NewHTTPClient(!cfg.Registry.EnableTLSVerify, cfg.Registry.MaximumRequestsPerSecond)
	readinessCheckHTTPClient.Timeout = 5 * time.Second

	c := &Client{
		docker:      dc,
		registryURL: cfg.Registry.URL,
		auth:        auth,
		RateLimiter: cfg.RateLimiter,
		RateCounter: ratecounter.NewRateCounter(time.Second),
	}

	c.Readiness.URL = cfg.Registry.HealthURL
	c.Readiness.HTTPClient = readinessCheckHTTPClient

	return c, nil
}

// ReadinessCheck returns a healthcheck.Check function that performs an HTTP
// GET request against the registry's health endpoint to verify it is ready
// to accept requests.
func (c *Client) ReadinessCheck(ctx context.Context) healthcheck.Check {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "registry:ReadinessCheck")
	defer span.End()

	return func() error {
		if c.Readiness.HTTPClient == nil {
			return fmt.Errorf("readiness http client not configured")
		}

		req, err := http.NewRequestWithContext(
			ctx,
			http.MethodGet,
			c.Readiness.URL,
			nil,
		)
		if err != nil {
			return err
		}

		resp, err := c.Readiness.HTTPClient.Do(req)
		if err != nil {
			return err
		}

		if resp == nil {
			return fmt.Errorf("HTTP error: empty response")
		}

		defer resp.Body.Close()

		// Registries answer /v2/ with 200 or, when auth is required, 401
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnauthorized {
			return fmt.Errorf("HTTP error: %d", resp.StatusCode)
		}

		return nil
	}
}

// rateLimit enforces rate limiting by blocking until a token is available
// from the configured RateLimiter. It also increments internal counters
// for monitoring requests made.
func (c *Client) rateLimit(ctx context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "registry:rateLimit")
	defer span.End()

	ratelimit.Take(ctx, c.RateLimiter)

	c.RateCounter.Incr(1)
	c.RequestsCounter.Add(1)
}

// EnsureTagged tags the local image identified by its content digest with the
// fully qualified registry reference, so it can be pushed.
func (c *Client) EnsureTagged(ctx context.Context, imageID digest.Digest, ref string) error {
	return c.docker.ImageTag(ctx, imageID.String(), ref)
}

// Push uploads the given reference to the registry and returns the manifest
// digest reported by the daemon for the pushed tag.
func (c *Client) Push(ctx context.Context, ref string) (digest.Digest, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "registry:Push")
	defer span.End()

	c.rateLimit(ctx)

	body, err := c.docker.ImagePush(ctx, ref, image.PushOptions{
		RegistryAuth: c.auth,
	})
	if err != nil {
		return "", err
	}
	defer body.Close()

	return drainPushOutput(body)
}

// LocalRepoDigest returns the manifest digest the local daemon recorded for
// the given reference during a previous push, or empty when the image was
// never pushed under that repository.
func (c *Client) LocalRepoDigest(ctx context.Context, ref string) (digest.Digest, error) {
	inspect, _, err := c.docker.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", nil
		}

		return "", err
	}

	repo := ref
	if idx := strings.LastIndex(ref, ":"); idx > strings.LastIndex(ref, "/") {
		repo = ref[:idx]
	}

	for _, rd := range inspect.RepoDigests {
		if after, found := strings.CutPrefix(rd, repo+"@"); found {
			return digest.Parse(after)
		}
	}

	return "", nil
}

// Resolve asks the registry what manifest digest the given reference
// currently points at. It returns an error when the tag does not exist.
func (c *Client) Resolve(ctx context.Context, ref string) (digest.Digest, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "registry:Resolve")
	defer span.End()

	c.rateLimit(ctx)

	inspect, err := c.docker.DistributionInspect(ctx, ref, c.auth)
	if err != nil {
		return "", err
	}

	return inspect.Descriptor.Digest, nil
}

// drainPushOutput consumes the daemon's JSON push stream and extracts the
// manifest digest from the final aux message.
func drainPushOutput(r io.Reader) (digest.Digest, error) {
	var pushed digest.Digest

	decoder := json.NewDecoder(r)

	for {
		var msg pushMessage

		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}

			return "", fmt.Errorf("decode push output: %w", err)
		}

		if errMsg := strings.TrimSpace(msg.Error); errMsg != "" {
			return "", fmt.Errorf("docker image push: %s", errMsg)
		}

		if msg.Aux.Digest != "" {
			d, err := digest.Parse(msg.Aux.Digest)
			if err != nil {
				return "", fmt.Errorf("parse pushed digest: %w", err)
			}

			pushed = d
		}
	}

	if pushed == "" {
		return "", fmt.Errorf("push stream ended without reporting a digest")
	}

	return pushed, nil
}

type pushMessage struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Aux    struct {
		Tag    string `json:"Tag"`
		Digest string `json:"Digest"`
		Size   int    `json:"Size"`
	} `json:"aux"`
}
