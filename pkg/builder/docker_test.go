package builder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDaemonAPIVersionSupported(t *testing.T) {
	assert.True(t, daemonAPIVersionSupported("1.41"))
	assert.True(t, daemonAPIVersionSupported("1.47"))
	assert.True(t, daemonAPIVersionSupported("v1.44"))
	assert.False(t, daemonAPIVersionSupported("1.40"))
	assert.False(t, daemonAPIVersionSupported("1.24"))
	assert.False(t, daemonAPIVersionSupported(""))
}

func TestDrainBuildOutput(t *testing.T) {
	stream := `{"stream":"Step 1/2 : FROM alpine\n"}
{"status":"Pull complete","id":"abc123"}
{"stream":"Successfully built deadbeef\n"}
`

	buildLog, err := drainBuildOutput(strings.NewReader(stream))
	assert.NoError(t, err)
	assert.Contains(t, buildLog, "Step 1/2 : FROM alpine")
	assert.Contains(t, buildLog, "abc123 Pull complete")
	assert.Contains(t, buildLog, "Successfully built deadbeef")
}

func TestDrainBuildOutputError(t *testing.T) {
	stream := `{"stream":"Step 1/2 : FROM alpine\n"}
{"errorDetail":{"message":"executor failed running"},"error":"executor failed running"}
`

	buildLog, err := drainBuildOutput(strings.NewReader(stream))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "executor failed running")

	// The log accumulated before the failure is preserved
	assert.Contains(t, buildLog, "Step 1/2 : FROM alpine")
}

func TestLocalReference(t *testing.T) {
	b := &dockerBuilder{}
	ref := b.localReference("0a1b2c3d")
	assert.Equal(t, "release-orchestrator/build:0a1b2c3d", ref)

	// Same revision must resolve to the same reference
	assert.Equal(t, ref, b.localReference("0a1b2c3d"))
}
