package ledger

import (
	"io"
)

// EntryID identifies an entry for its whole lifetime, independent of its
// position in the ledger.
type EntryID string

// Status is the upload lifecycle state of an entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// Source opens the payload of a file at transfer time.
type Source interface {
	Open() (io.ReadSeekCloser, error)
}

// Descriptor describes a file offered to the ledger.
type Descriptor struct {
	Name        string
	Size        int64
	ContentType string
	Source      Source
}

// Entry is a snapshot of a ledger entry.
type Entry struct {
	ID          EntryID
	Name        string
	Size        int64
	ContentType string
	Status      Status
	Progress    int
	Preview     string
	Source      Source
}

// Patch is a partial entry update; nil fields are left untouched.
type Patch struct {
	Status   *Status
	Progress *int
}

// StatusPatch ...
func StatusPatch(status Status) Patch {
	return Patch{Status: &status}
}

// ProgressPatch ...
func ProgressPatch(progress int) Patch {
	return Patch{Progress: &progress}
}

// DonePatch marks an entry done with full progress.
func DonePatch() Patch {
	status, progress := StatusDone, 100
	return Patch{Status: &status, Progress: &progress}
}
