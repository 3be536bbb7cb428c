package rollout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/opencontainers/go-digest"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

// DockerPlatform runs target workloads as containers on a Docker daemon.
// Targets carrying their own daemon endpoint get a dedicated client, lazily
// created and cached per host; everything else shares the default client.
type DockerPlatform struct {
	client  *client.Client
	auth    string // base64-encoded auth payload used when pulling from the registry
	appPort int

	clientsMutex sync.Mutex
	clients      map[string]*client.Client // per-host clients, keyed by daemon endpoint
}

// NewDockerPlatform creates a compute platform backed by a Docker daemon.
func NewDockerPlatform(dockerHost string, registry config.Registry, app config.Application) (*DockerPlatform, error) {
	c, err := newDockerClient(dockerHost)
	if err != nil {
		return nil, err
	}

	auth, err := dockerregistry.EncodeAuthConfig(dockerregistry.AuthConfig{
		Username:      registry.Username,
		Password:      registry.Password,
		ServerAddress: registry.URL,
	})
	if err != nil {
		return nil, err
	}

	return &DockerPlatform{
		client:  c,
		auth:    auth,
		appPort: app.Port,
		clients: make(map[string]*client.Client),
	}, nil
}

func newDockerClient(dockerHost string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if dockerHost != "" {
		opts = append(opts, client.WithHost(dockerHost))
	}

	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return c, nil
}

// clientFor returns the daemon client serving the target's compute layer.
func (p *DockerPlatform) clientFor(target schemas.DeploymentTarget) (*client.Client, error) {
	if target.DockerHost == "" {
		return p.client, nil
	}

	p.clientsMutex.Lock()
	defer p.clientsMutex.Unlock()

	if c, ok := p.clients[target.DockerHost]; ok {
		return c, nil
	}

	c, err := newDockerClient(target.DockerHost)
	if err != nil {
		return nil, err
	}

	p.clients[target.DockerHost] = c

	return c, nil
}

// Replace pulls the image reference, removes the target's current container
// and starts a replacement from the new image. The container is recreated
// rather than updated in place so a rollback can follow the same path.
func (p *DockerPlatform) Replace(ctx context.Context, target schemas.DeploymentTarget, imageRef string) error {
	cli, err := p.clientFor(target)
	if err != nil {
		return err
	}

	if err := p.pull(ctx, cli, imageRef); err != nil {
		return fmt.Errorf("pull %s: %w", imageRef, err)
	}

	if err := cli.ContainerRemove(ctx, target.ContainerName, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("remove container %s: %w", target.ContainerName, err)
		}
	}

	port, err := nat.NewPort("tcp", fmt.Sprint(p.appPort))
	if err != nil {
		return err
	}

	created, err := cli.ContainerCreate(
		ctx,
		&container.Config{
			Image:        imageRef,
			ExposedPorts: nat.PortSet{port: struct{}{}},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostPort: fmt.Sprint(p.appPort)}},
			},
			RestartPolicy: container.RestartPolicy{
				Name: container.RestartPolicyAlways,
			},
		},
		nil,
		nil,
		target.ContainerName,
	)
	if err != nil {
		return fmt.Errorf("create container %s: %w", target.ContainerName, err)
	}

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", target.ContainerName, err)
	}

	log.WithContext(ctx).
		WithFields(log.Fields{
			"target":    target.Name,
			"container": target.ContainerName,
			"image":     imageRef,
		}).
		Info("workload replaced")

	return nil
}

// CurrentDigest reports the manifest digest of the image the target's
// container currently runs, resolved through the daemon's recorded repo
// digests. Empty when no container runs yet.
func (p *DockerPlatform) CurrentDigest(ctx context.Context, target schemas.DeploymentTarget) (digest.Digest, error) {
	cli, err := p.clientFor(target)
	if err != nil {
		return "", err
	}

	inspect, err := cli.ContainerInspect(ctx, target.ContainerName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", nil
		}

		return "", err
	}

	imageInspect, _, err := cli.ImageInspectWithRaw(ctx, inspect.Image)
	if err != nil {
		return "", err
	}

	for _, rd := range imageInspect.RepoDigests {
		if idx := strings.LastIndex(rd, "@"); idx >= 0 {
			return digest.Parse(rd[idx+1:])
		}
	}

	return "", nil
}

// Health probes the target's health endpoint once with a short timeout.
func (p *DockerPlatform) Health(ctx context.Context, target schemas.DeploymentTarget) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.HealthEndpoint, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	return nil
}

// pull fetches the image reference, draining the progress stream. The pull
// stream carries its errors in-band like the build stream does.
func (p *DockerPlatform) pull(ctx context.Context, cli *client.Client, imageRef string) error {
	body, err := cli.ImagePull(ctx, imageRef, image.PullOptions{RegistryAuth: p.auth})
	if err != nil {
		return err
	}
	defer body.Close()

	return drainPullOutput(body)
}

// drainPullOutput consumes the daemon's JSON pull stream. An error message
// anywhere in the stream fails the pull, so a missing manifest or a rejected
// auth surfaces before the running container is touched.
func drainPullOutput(r io.Reader) error {
	decoder := json.NewDecoder(r)

	for {
		var msg pullMessage

		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}

			return fmt.Errorf("decode pull output: %w", err)
		}

		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("docker image pull: %s", errMsg)
		}
	}
}

type pullMessage struct {
	Status      string               `json:"status"`
	Error       string               `json:"error"`
	ErrorDetail pullMessageErrDetail `json:"errorDetail"`
}

type pullMessageErrDetail struct {
	Message string `json:"message"`
}

func (m pullMessage) errorMessage() string {
	if strings.TrimSpace(m.Error) != "" {
		return strings.TrimSpace(m.Error)
	}

	return strings.TrimSpace(m.ErrorDetail.Message)
}

// Close releases the underlying docker clients.
func (p *DockerPlatform) Close() error {
	p.clientsMutex.Lock()
	defer p.clientsMutex.Unlock()

	err := p.client.Close()

	for _, c := range p.clients {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	return err
}
