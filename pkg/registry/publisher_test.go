package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"

	"github.com/helvethink/release-orchestrator/pkg/config"
	"github.com/helvethink/release-orchestrator/pkg/schemas"
)

func TestTagFor(t *testing.T) {
	// Same branch, same tag
	assert.Equal(t, TagFor("main"), TagFor("main"))

	assert.Equal(t, "main", TagFor("main"))
	assert.Equal(t, "feature-login", TagFor("feature/login"))
	assert.Equal(t, "release-1.2.3", TagFor("release/1.2.3"))
	assert.Equal(t, "hidden", TagFor(".hidden"))
	assert.Equal(t, "unnamed", TagFor("///"))
}

type fakeAPI struct {
	tagged      map[digest.Digest]string
	pushes      int
	pushDigest  digest.Digest
	pushErr     error
	remote      digest.Digest
	remoteErr   error
	local       digest.Digest
	resolveSeen int

	// resolveAfterPush makes Resolve start returning pushDigest once a push
	// happened, mimicking an eventually consistent registry.
	resolveAfterPush bool
}

func (f *fakeAPI) EnsureTagged(_ context.Context, imageID digest.Digest, ref string) error {
	if f.tagged == nil {
		f.tagged = map[digest.Digest]string{}
	}
	f.tagged[imageID] = ref
	return nil
}

func (f *fakeAPI) Push(_ context.Context, _ string) (digest.Digest, error) {
	f.pushes++
	if f.pushErr != nil {
		return "", f.pushErr
	}
	return f.pushDigest, nil
}

func (f *fakeAPI) Resolve(_ context.Context, _ string) (digest.Digest, error) {
	f.resolveSeen++
	if f.resolveAfterPush && f.pushes > 0 {
		return f.pushDigest, nil
	}
	if f.remoteErr != nil {
		return "", f.remoteErr
	}
	return f.remote, nil
}

func (f *fakeAPI) LocalRepoDigest(_ context.Context, _ string) (digest.Digest, error) {
	return f.local, nil
}

func testRegistryConfig() config.Registry {
	return config.Registry{
		URL:        "registry.example.com",
		Repository: "acme/api",
	}
}

func testArtifact() schemas.Artifact {
	return schemas.Artifact{
		Digest:         digest.Digest("sha256:1111111111111111111111111111111111111111111111111111111111111111"),
		SourceRevision: "abc123",
	}
}

func TestPublish(t *testing.T) {
	manifestDigest := digest.Digest("sha256:2222222222222222222222222222222222222222222222222222222222222222")

	api := &fakeAPI{
		pushDigest:       manifestDigest,
		resolveAfterPush: true,
	}

	p := NewPublisher(api, testRegistryConfig(), 2)

	published, err := p.Publish(context.Background(), testArtifact(), "main")
	assert.NoError(t, err)
	assert.Equal(t, "registry.example.com/acme/api:main", published.RegistryTag)
	assert.Equal(t, manifestDigest, published.Digest)
	assert.Equal(t, 1, api.pushes)
}

func TestPublishIdempotent(t *testing.T) {
	manifestDigest := digest.Digest("sha256:2222222222222222222222222222222222222222222222222222222222222222")

	// The remote tag already resolves to what we pushed last time
	api := &fakeAPI{
		local:  manifestDigest,
		remote: manifestDigest,
	}

	p := NewPublisher(api, testRegistryConfig(), 2)

	published, err := p.Publish(context.Background(), testArtifact(), "main")
	assert.NoError(t, err)
	assert.Equal(t, manifestDigest, published.Digest)
	assert.Equal(t, 0, api.pushes)
}

func TestPublishPushErrorRetriedThenFatal(t *testing.T) {
	api := &fakeAPI{
		pushErr: fmt.Errorf("registry unavailable"),
	}

	p := NewPublisher(api, testRegistryConfig(), 2)

	_, err := p.Publish(context.Background(), testArtifact(), "main")
	assert.Error(t, err)

	var publishErr schemas.PublishError
	assert.ErrorAs(t, err, &publishErr)
	assert.Equal(t, schemas.PublishErrorKindPush, publishErr.Kind)

	// Initial attempt plus two retries
	assert.Equal(t, 3, api.pushes)
}

func TestPublishVerificationMismatch(t *testing.T) {
	api := &fakeAPI{
		pushDigest: digest.Digest("sha256:2222222222222222222222222222222222222222222222222222222222222222"),
		remote:     digest.Digest("sha256:3333333333333333333333333333333333333333333333333333333333333333"),
	}

	p := NewPublisher(api, testRegistryConfig(), 1)

	_, err := p.Publish(context.Background(), testArtifact(), "main")
	assert.Error(t, err)

	var publishErr schemas.PublishError
	assert.ErrorAs(t, err, &publishErr)
	assert.Equal(t, schemas.PublishErrorKindVerification, publishErr.Kind)
}
