package registry

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

// API is the subset of registry client operations the publisher relies on.
type API interface {
	EnsureTagged(ctx context.Context, imageID digest.Digest, ref string) error
	Push(ctx context.Context, ref string) (digest.Digest, error)
	Resolve(ctx context.Context, ref string) (digest.Digest, error)
	LocalRepoDigest(ctx context.Context, ref string) (digest.Digest, error)
}

// Publisher pushes built artifacts to the registry under deterministic,
// branch-derived tags and verifies the registry agrees afterwards.
type Publisher struct {
	api        API
	registry   config.Registry
	retryLimit int
}

// NewPublisher creates a publisher on top of a registry client.
func NewPublisher(api API, registry config.Registry, retryLimit int) *Publisher {
	return &Publisher{
		api:        api,
		registry:   registry,
		retryLimit: retryLimit,
	}
}

var tagInvalidChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// TagFor derives the registry tag for a branch. It is a pure function: the
// same branch always yields the same tag. Characters a registry tag cannot
// carry are replaced with dashes and leading separators are stripped.
func TagFor(branch string) string {
	tag := tagInvalidChars.ReplaceAllString(branch, "-")
	tag = strings.TrimLeft(tag, ".-")

	if len(tag) > 128 {
		tag = tag[:128]
	}

	if tag == "" {
		tag = "unnamed"
	}

	return tag
}

// ReferenceFor returns the fully qualified registry reference for a branch.
func (p *Publisher) ReferenceFor(branch string) string {
	return fmt.Sprintf("%s/%s:%s", p.registry.URL, p.registry.Repository, TagFor(branch))
}

// Publish tags the artifact with the branch-derived tag and pushes it.
// Publishing is idempotent: when the remote tag already resolves to the
// digest this daemon pushed before, the push is skipped. After a push the
// tag is re-resolved against the registry; a digest mismatch is retried up
// to the configured bound and then surfaced as a verification error, which
// is fatal to the run.
func (p *Publisher) Publish(ctx context.Context, artifact schemas.Artifact, branch string) (schemas.PublishedTag, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "registry:Publish")
	defer span.End()

	ref := p.ReferenceFor(branch)

	if err := p.api.EnsureTagged(ctx, artifact.Digest, ref); err != nil {
		return schemas.PublishedTag{}, schemas.PublishError{
			Kind:   schemas.PublishErrorKindPush,
			Reason: fmt.Sprintf("tagging %s: %v", ref, err),
		}
	}

	// Skip the push when the registry already serves what we would upload
	if localDigest, err := p.api.LocalRepoDigest(ctx, ref); err == nil && localDigest != "" {
		if remoteDigest, err := p.api.Resolve(ctx, ref); err == nil && remoteDigest == localDigest {
			log.WithContext(ctx).
				WithFields(log.Fields{
					"branch": branch,
					"ref":    ref,
					"digest": remoteDigest,
				}).
				Debug("remote tag already resolves to the artifact digest, skipping push")

			return schemas.PublishedTag{
				RegistryTag: ref,
				Digest:      remoteDigest,
			}, nil
		}
	}

	var lastErr error

	for attempt := 0; attempt <= p.retryLimit; attempt++ {
		if attempt > 0 {
			log.WithContext(ctx).
				WithFields(log.Fields{
					"branch":  branch,
					"ref":     ref,
					"attempt": attempt,
				}).
				WithError(lastErr).
				Warn("publish failed, retrying")
		}

		pushedDigest, err := p.api.Push(ctx, ref)
		if err != nil {
			lastErr = schemas.PublishError{
				Kind:   schemas.PublishErrorKindPush,
				Reason: err.Error(),
			}

			continue
		}

		remoteDigest, err := p.api.Resolve(ctx, ref)
		if err != nil {
			lastErr = schemas.PublishError{
				Kind:   schemas.PublishErrorKindVerification,
				Reason: fmt.Sprintf("resolving %s after push: %v", ref, err),
			}

			continue
		}

		if remoteDigest != pushedDigest {
			lastErr = schemas.PublishError{
				Kind:   schemas.PublishErrorKindVerification,
				Reason: fmt.Sprintf("tag %s resolves to %s, expected %s", ref, remoteDigest, pushedDigest),
			}

			continue
		}

		log.WithContext(ctx).
			WithFields(log.Fields{
				"branch": branch,
				"ref":    ref,
				"digest": pushedDigest,
			}).
			Info("artifact published")

		return schemas.PublishedTag{
			RegistryTag: ref,
			Digest:      pushedDigest,
		}, nil
	}

	return schemas.PublishedTag{}, lastErr
}
