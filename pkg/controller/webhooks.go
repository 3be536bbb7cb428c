package controller

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/api/client-go"

	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

// zeroSHA is what push events carry as the "after" revision when a branch or
// tag gets deleted.
const zeroSHA = "0000000000000000000000000000000000000000"

// processPushEvent ingests a GitLab push event as a commit event for its
// branch. Deletions and events without a usable revision are dropped.
func (c *Controller) processPushEvent(ctx context.Context, e gitlab.PushEvent) {
	branch := strings.TrimPrefix(e.Ref, "refs/heads/")

	logger := log.WithContext(ctx).WithFields(log.Fields{
		"branch":   branch,
		"revision": e.After,
	})

	if e.After == zeroSHA || e.After == "" {
		logger.Debug("push event carries no revision, likely a branch deletion, ignoring")

		return
	}

	logger.Debug("received push event")

	c.ingestCommitEvent(ctx, schemas.NewCommitEvent(branch, e.After))
}

// processTagEvent ingests a GitLab tag push event. The tag name acts as the
// branch for resolution purposes, so tags release exactly like branches when
// the mapping names them.
func (c *Controller) processTagEvent(ctx context.Context, e gitlab.TagEvent) {
	tag := strings.TrimPrefix(e.Ref, "refs/tags/")

	logger := log.WithContext(ctx).WithFields(log.Fields{
		"tag":      tag,
		"revision": e.After,
	})

	if e.After == zeroSHA || e.After == "" {
		logger.Debug("tag event carries no revision, likely a tag deletion, ignoring")

		return
	}

	logger.Debug("received tag push event")

	c.ingestCommitEvent(ctx, schemas.NewCommitEvent(tag, e.After))
}

// ingestCommitEvent schedules a pipeline run for the commit event. The task is
// keyed by branch: while a run for the branch is still in flight the event is
// rejected, once it reached a terminal state a fresh run starts.
func (c *Controller) ingestCommitEvent(ctx context.Context, ev schemas.CommitEvent) {
	c.ScheduleTask(ctx, schemas.TaskTypePipelineRun, ev.Branch, ev)
}
