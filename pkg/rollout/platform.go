package rollout

import (
	"context"

	"github.com/opencontainers/go-digest"

	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

// Platform abstracts the compute layer a target's workload runs on. The
// coordinator drives it through three instructions: replace the running
// workload with an image, report what digest currently runs, and probe
// the workload's health endpoint.
type Platform interface {
	// Replace stops the target's current workload and starts the given image
	// reference in its place.
	Replace(ctx context.Context, target schemas.DeploymentTarget, imageRef string) error

	// CurrentDigest reports the manifest digest of the image the target is
	// currently running, or empty when nothing runs yet.
	CurrentDigest(ctx context.Context, target schemas.DeploymentTarget) (digest.Digest, error)

	// Health probes the target's health endpoint once. A nil return means
	// the workload answered healthy.
	Health(ctx context.Context, target schemas.DeploymentTarget) error
}
