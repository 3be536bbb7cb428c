package schemas

import (
	"github.com/opencontainers/go-digest"
)

// Artifact represents a content-addressed, immutable build output ready for
// deployment. Two builds of identical source content yield the same digest,
// which is what makes re-running a partially failed pipeline safe.
type Artifact struct {
	Digest         digest.Digest // Content hash uniquely identifying the artifact
	SourceRevision string        // Commit hash the artifact was built from
	BuildLog       string        // Raw build output, preserved for failure analysis
}

// PublishedTag represents a named pointer to an artifact digest in the remote
// registry. Tags are mutable pointers, digests are immutable: a tag always
// points at the digest of the most recently successful publish for its branch.
type PublishedTag struct {
	RegistryTag string        // Fully qualified tag reference in the registry
	Digest      digest.Digest // Digest the tag was verified to point at
}
