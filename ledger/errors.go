package ledger

import (
	"errors"
	"fmt"

	"github.com/docker/go-units"
)

var (
	// ErrValidationFailed marks inputs rejected before any transfer starts.
	ErrValidationFailed = errors.New("validation failed")

	// ErrEntryNotFound ...
	ErrEntryNotFound = errors.New("entry not found")
)

// Limit names the quota a batch exceeded.
type Limit string

const (
	LimitCount Limit = "count"
	LimitBytes Limit = "bytes"
)

// QuotaError is returned when a batch would push the ledger over a limit.
type QuotaError struct {
	Limit Limit
	Max   int64
	Got   int64
}

func (e *QuotaError) Error() string {
	if e.Limit == LimitCount {
		return fmt.Sprintf("Limit is %d files per session.", e.Max)
	}
	return fmt.Sprintf("Total exceeds %.1f GB.", float64(e.Max)/float64(units.GiB))
}

// Unwrap ...
func (e *QuotaError) Unwrap() error {
	return ErrValidationFailed
}
