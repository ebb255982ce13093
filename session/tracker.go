package session

import (
	"time"

	"github.com/bitrise-io/go-suas-uploader/ledger"
	"github.com/bitrise-io/go-suas-uploader/upload"
	"github.com/bitrise-io/go-utils/v2/analytics"
)

type noopTracker struct{}

func (noopTracker) Enqueue(string, ...analytics.Properties) {}
func (noopTracker) Wait()                                   {}

type sessionTracker struct {
	tracker analytics.Tracker
}

func newSessionTracker(tracker analytics.Tracker) sessionTracker {
	if tracker == nil {
		tracker = noopTracker{}
	}
	return sessionTracker{tracker: tracker}
}

func (t sessionTracker) logAdmitted() {
	t.tracker.Enqueue("session_admitted")
}

func (t sessionTracker) logFilesRejected(quotaErr *ledger.QuotaError, batchSize int) {
	properties := analytics.Properties{
		"limit":      string(quotaErr.Limit),
		"max":        quotaErr.Max,
		"got":        quotaErr.Got,
		"batch_size": batchSize,
	}
	t.tracker.Enqueue("files_rejected", properties)
}

func (t sessionTracker) logFileUploaded(entry ledger.Entry, uploadTime time.Duration) {
	properties := analytics.Properties{
		"upload_time_s":     uploadTime.Truncate(time.Second).Seconds(),
		"upload_size_bytes": entry.Size,
		"content_type":      entry.ContentType,
	}
	t.tracker.Enqueue("file_uploaded", properties)
}

func (t sessionTracker) logFileUploadFailed(entry ledger.Entry, outcome upload.Outcome) {
	properties := analytics.Properties{
		"upload_size_bytes": entry.Size,
		"content_type":      entry.ContentType,
		"message":           outcome.Message,
	}
	t.tracker.Enqueue("file_upload_failed", properties)
}

func (t sessionTracker) logFinished(p Progress) {
	properties := analytics.Properties{
		"file_count":   p.Total,
		"done_count":   p.Done,
		"failed_count": p.Failed,
		"total_bytes":  p.Bytes,
		"done_bytes":   p.DoneBytes,
	}
	t.tracker.Enqueue("session_finished", properties)
}

func (t sessionTracker) wait() {
	t.tracker.Wait()
}
