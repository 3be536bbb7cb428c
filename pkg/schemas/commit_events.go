package schemas

import (
	"hash/crc32" // For calculating CRC32 checksums
	"strconv"    // For string conversion operations
	"time"
)

// CommitEvent represents a commit notification received from the CI
// collaborator. It is immutable once created: a given branch/revision pair
// identifies exactly one event.
type CommitEvent struct {
	Branch    string    // Name of the branch the commit was pushed to
	Revision  string    // Commit hash of the pushed revision
	Timestamp time.Time // Time at which the event was received
}

// CommitEventKey is a custom type used as a key for identifying commit events.
type CommitEventKey string

// Key generates a unique key for a CommitEvent using a CRC32 checksum of the
// branch and revision.
func (e CommitEvent) Key() CommitEventKey {
	return CommitEventKey(strconv.Itoa(int(crc32.ChecksumIEEE([]byte(e.Branch + e.Revision)))))
}

// NewCommitEvent is a helper function that returns a new CommitEvent stamped
// with the current time.
func NewCommitEvent(branch, revision string) CommitEvent {
	return CommitEvent{
		Branch:    branch,
		Revision:  revision,
		Timestamp: time.Now().UTC(),
	}
}
