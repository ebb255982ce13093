// Package upload moves ledger entries through their upload lifecycle:
// validation, signed URL resolution, an availability probe and the PUT.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bitrise-io/go-suas-uploader/ledger"
	"github.com/bitrise-io/go-suas-uploader/signing"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

// ErrTransferFailed is returned when the probe or the PUT did not succeed.
var ErrTransferFailed = errors.New("transfer failed")

// User-facing failure messages.
const (
	MessageMissingSerial      = "Please enter your Serial Number before uploading."
	MessageSigningUnavailable = "Upload service unavailable – please contact administrator."
	MessageTransferFailed     = "Upload failed—please try again later."
)

const defaultContentType = "application/octet-stream"

// Validator checks the session metadata before a transfer starts.
type Validator interface {
	Validate() error
}

// Outcome describes what one Upload call did to its entry.
type Outcome struct {
	ID     ledger.EntryID
	Status ledger.Status
	Err    error
	// Message is set for failures that should be shown to the operator.
	Message string
	// Skipped is true when the entry was already uploading or done.
	Skipped bool
}

// Uploader ...
type Uploader interface {
	Upload(ctx context.Context, l *ledger.Ledger, id ledger.EntryID, validator Validator) Outcome
}

// Worker uploads single entries. It is safe for concurrent use.
type Worker struct {
	resolver   signing.URLResolver
	httpClient *retryablehttp.Client
	logger     log.Logger
	stats      *Stats
}

// NewWorker ...
func NewWorker(resolver signing.URLResolver, client *retryablehttp.Client, logger log.Logger) *Worker {
	return &Worker{
		resolver:   resolver,
		httpClient: client,
		logger:     logger,
		stats:      NewStats(),
	}
}

// Stats returns the transfer statistics.
func (w *Worker) Stats() *Stats {
	return w.stats
}

// Upload runs one entry through validation and transfer. Failures end with
// the entry in error and are reported in the Outcome, never returned.
func (w *Worker) Upload(ctx context.Context, l *ledger.Ledger, id ledger.EntryID, validator Validator) Outcome {
	entry, ok := l.Get(id)
	if !ok {
		return Outcome{ID: id, Err: fmt.Errorf("upload %s: %w", id, ledger.ErrEntryNotFound)}
	}
	if entry.Status == ledger.StatusUploading || entry.Status == ledger.StatusDone {
		w.logger.Debugf("Skipping %s: already %s", entry.Name, entry.Status)
		return Outcome{ID: id, Status: entry.Status, Skipped: true}
	}

	if validator != nil {
		if err := validator.Validate(); err != nil {
			failed, ferr := l.Fail(id)
			if ferr != nil {
				return Outcome{ID: id, Err: ferr}
			}
			if !failed {
				return w.skipped(l, id)
			}
			w.logger.Warnf("Not uploading %s: %s", entry.Name, err)
			return Outcome{
				ID:      id,
				Status:  ledger.StatusError,
				Err:     fmt.Errorf("validate %s: %w", entry.Name, err),
				Message: MessageMissingSerial,
			}
		}
	}

	started, err := l.Begin(id)
	if err != nil {
		return Outcome{ID: id, Err: err}
	}
	if !started {
		return w.skipped(l, id)
	}

	if err := w.transfer(ctx, l, entry); err != nil {
		if uerr := l.Update(id, ledger.StatusPatch(ledger.StatusError)); uerr != nil {
			w.logger.Warnf("Failed to mark %s failed: %s", entry.Name, uerr)
		}
		message := MessageTransferFailed
		if errors.Is(err, signing.ErrSigningUnavailable) {
			message = MessageSigningUnavailable
		}
		w.logger.Errorf("Upload of %s failed: %s", entry.Name, err)
		return Outcome{ID: id, Status: ledger.StatusError, Err: err, Message: message}
	}

	if err := l.Update(id, ledger.DonePatch()); err != nil {
		return Outcome{ID: id, Err: err}
	}
	w.logger.Donef("Uploaded %s", entry.Name)
	return Outcome{ID: id, Status: ledger.StatusDone}
}

func (w *Worker) skipped(l *ledger.Ledger, id ledger.EntryID) Outcome {
	e, _ := l.Get(id)
	return Outcome{ID: id, Status: e.Status, Skipped: true}
}

func (w *Worker) transfer(ctx context.Context, l *ledger.Ledger, entry ledger.Entry) error {
	signedURL, err := w.resolver.Resolve(ctx, entry.Name)
	if err != nil {
		if errors.Is(err, signing.ErrSigningUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", signing.ErrSigningUnavailable, err)
	}

	if err := signing.Probe(ctx, w.httpClient, signedURL); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	w.logger.Debugf("Upload URL for %s is available", entry.Name)

	if entry.Source == nil {
		return fmt.Errorf("%w: %s has no source", ErrTransferFailed, entry.Name)
	}
	src, err := entry.Source.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrTransferFailed, entry.Name, err)
	}
	defer func(src io.Closer) {
		if err := src.Close(); err != nil {
			w.logger.Warnf("Failed to close %s: %s", entry.Name, err)
		}
	}(src)

	body := newProgressReader(src, entry.Size, func(percent int) {
		if err := l.Update(entry.ID, ledger.ProgressPatch(percent)); err != nil {
			w.logger.Debugf("Progress update for %s dropped: %s", entry.Name, err)
		}
	})

	startTime := time.Now()
	if err := w.put(ctx, signedURL, body, entry); err != nil {
		return err
	}
	took := time.Since(startTime)
	w.stats.Update(took, entry.Size)
	w.logger.Debugf("Transferred %s in %s [finished=%d] [avg=%s]",
		entry.Name, took.Round(time.Millisecond), w.stats.FinishedCount(), w.stats.Average().Round(time.Millisecond))
	return nil
}

func (w *Worker) put(ctx context.Context, signedURL string, body io.ReadSeeker, entry ledger.Entry) error {
	var rawBody interface{} = body
	if entry.Size == 0 {
		rawBody = nil
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, signedURL, rawBody)
	if err != nil {
		return fmt.Errorf("%w: create request: %w", ErrTransferFailed, err)
	}

	contentType := entry.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Length", fmt.Sprintf("%d", entry.Size))
	req.ContentLength = entry.Size

	resp, err := w.httpClient.Do(req)
	if resp != nil {
		defer func(body io.ReadCloser) {
			if err := body.Close(); err != nil {
				w.logger.Printf("%s", err)
			}
		}(resp.Body)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody := make([]byte, 1024)
		n, _ := io.ReadAtLeast(resp.Body, errorBody, 1)
		return fmt.Errorf("%w: HTTP %d: %s", ErrTransferFailed, resp.StatusCode, string(errorBody[:n]))
	}
	return nil
}
