package builder

import (
	"context"

	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

const tracerName = "release-orchestrator"

// Builder turns a commit event into a locally built, content-addressed artifact.
type Builder interface {
	// Build produces an artifact for the given commit event. A failure is
	// reported as a schemas.BuildError and is always recoverable by
	// re-running the pipeline for the same event.
	Build(ctx context.Context, ev schemas.CommitEvent) (schemas.Artifact, error)
}

// New creates an artifact builder backed by the local Docker daemon.
func New(cfg config.Build) (Builder, error) {
	return newDockerBuilder(cfg)
}
