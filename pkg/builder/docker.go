package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/opencontainers/go-digest"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/mod/semver"

	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

// minimumDaemonAPIVersion is the oldest Docker API we accept. Older daemons
// do not report image content digests the way we rely on.
const minimumDaemonAPIVersion = "v1.41"

// dockerBuilder builds container images through the local Docker daemon.
type dockerBuilder struct {
	cfg    config.Build
	client *client.Client
}

func newDockerBuilder(cfg config.Build) (*dockerBuilder, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	}

	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return &dockerBuilder{
		cfg:    cfg,
		client: c,
	}, nil
}

// Ping validates connectivity and gates the daemon on a minimum API version.
func (b *dockerBuilder) Ping(ctx context.Context) error {
	ping, err := b.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}

	if !daemonAPIVersionSupported(ping.APIVersion) {
		return fmt.Errorf("docker daemon API version %q is older than the minimum supported %q", ping.APIVersion, minimumDaemonAPIVersion)
	}

	return nil
}

// daemonAPIVersionSupported reports whether the daemon API version reported by
// a ping satisfies the minimum we require.
func daemonAPIVersionSupported(version string) bool {
	if version == "" {
		return false
	}

	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}

	return semver.Compare(version, minimumDaemonAPIVersion) >= 0
}

// localReference returns the deterministic local image reference for a
// revision. Rebuilding the same revision resolves to the same reference which
// is how the rebuild short-circuit works.
func (b *dockerBuilder) localReference(revision string) string {
	return fmt.Sprintf("release-orchestrator/build:%s", revision)
}

// Build produces a content-addressed artifact for the commit event. When an
// image for the same revision already exists locally the build is skipped and
// the existing digest is returned, preserving determinism across retries.
func (b *dockerBuilder) Build(ctx context.Context, ev schemas.CommitEvent) (artifact schemas.Artifact, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "builder:Build")
	defer span.End()

	ref := b.localReference(ev.Revision)

	// Rebuild short-circuit: same revision, same content, same digest
	if existing, inspectErr := b.inspectDigest(ctx, ref); inspectErr == nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"branch":   ev.Branch,
				"revision": ev.Revision,
				"digest":   existing,
			}).
			Debug("image for revision already built, skipping build")

		return schemas.Artifact{
			Digest:         existing,
			SourceRevision: ev.Revision,
			BuildLog:       "build skipped: image for revision already present\n",
		}, nil
	}

	for attempt := 0; ; attempt++ {
		artifact, err = b.buildOnce(ctx, ev, ref)
		if err == nil {
			return
		}

		if attempt >= b.cfg.RetryLimit {
			return
		}

		log.WithContext(ctx).
			WithFields(log.Fields{
				"branch":   ev.Branch,
				"revision": ev.Revision,
				"attempt":  attempt + 1,
			}).
			WithError(err).
			Warn("image build failed, retrying")
	}
}

func (b *dockerBuilder) buildOnce(ctx context.Context, ev schemas.CommitEvent, ref string) (schemas.Artifact, error) {
	buildCtx, err := archive.TarWithOptions(b.cfg.ContextDir, &archive.TarOptions{})
	if err != nil {
		return schemas.Artifact{}, schemas.BuildError{Reason: fmt.Sprintf("create build context: %v", err)}
	}
	defer buildCtx.Close()

	started := time.Now()

	resp, err := b.client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{ref},
		Dockerfile:  b.cfg.Dockerfile,
		Remove:      true,
		ForceRemove: true,
		Labels: map[string]string{
			"org.opencontainers.image.revision": ev.Revision,
		},
	})
	if err != nil {
		return schemas.Artifact{}, schemas.BuildError{Reason: fmt.Sprintf("docker image build: %v", err)}
	}
	defer resp.Body.Close()

	buildLog, err := drainBuildOutput(resp.Body)
	if err != nil {
		return schemas.Artifact{}, schemas.BuildError{
			Reason: err.Error(),
			Log:    buildLog,
		}
	}

	imageDigest, err := b.inspectDigest(ctx, ref)
	if err != nil {
		return schemas.Artifact{}, schemas.BuildError{
			Reason: fmt.Sprintf("inspect built image: %v", err),
			Log:    buildLog,
		}
	}

	log.WithContext(ctx).
		WithFields(log.Fields{
			"branch":   ev.Branch,
			"revision": ev.Revision,
			"digest":   imageDigest,
			"duration": time.Since(started).Round(time.Millisecond),
		}).
		Info("image built")

	return schemas.Artifact{
		Digest:         imageDigest,
		SourceRevision: ev.Revision,
		BuildLog:       buildLog,
	}, nil
}

// inspectDigest resolves the content digest of a locally present image.
func (b *dockerBuilder) inspectDigest(ctx context.Context, ref string) (digest.Digest, error) {
	inspect, _, err := b.client.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return "", err
	}

	return digest.Parse(inspect.ID)
}

// Close releases the underlying docker client.
func (b *dockerBuilder) Close() error {
	return b.client.Close()
}

// drainBuildOutput consumes the daemon's JSON build stream, accumulating the
// readable log. An error message anywhere in the stream fails the build.
func drainBuildOutput(r io.Reader) (string, error) {
	var sb strings.Builder

	decoder := json.NewDecoder(r)

	for {
		var msg buildMessage

		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}

			return sb.String(), fmt.Errorf("decode build output: %w", err)
		}

		if errMsg := msg.errorMessage(); errMsg != "" {
			return sb.String(), fmt.Errorf("docker image build: %s", errMsg)
		}

		if line := msg.render(); line != "" {
			sb.WriteString(line)

			if !strings.HasSuffix(line, "\n") {
				sb.WriteString("\n")
			}
		}
	}

	return sb.String(), nil
}

type buildMessage struct {
	Stream      string                `json:"stream"`
	Status      string                `json:"status"`
	ID          string                `json:"id"`
	Error       string                `json:"error"`
	ErrorDetail buildMessageErrDetail `json:"errorDetail"`
}

type buildMessageErrDetail struct {
	Message string `json:"message"`
}

func (m buildMessage) errorMessage() string {
	if strings.TrimSpace(m.Error) != "" {
		return strings.TrimSpace(m.Error)
	}

	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m buildMessage) render() string {
	if m.Stream != "" {
		return m.Stream
	}

	if m.Status != "" {
		if id := strings.TrimSpace(m.ID); id != "" {
			return fmt.Sprintf("%s %s", id, strings.TrimSpace(m.Status))
		}

		return strings.TrimSpace(m.Status)
	}

	return ""
}
