// Package session drives one operator session: PIN admission, metadata,
// file intake and the uploads, ending with a reset for the next operator.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bitrise-io/go-suas-uploader/gate"
	"github.com/bitrise-io/go-suas-uploader/ledger"
	"github.com/bitrise-io/go-suas-uploader/upload"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotAdmitted is returned by form and upload operations before a PIN was accepted.
	ErrNotAdmitted = errors.New("session not admitted")
	// ErrInvalidTransition is returned when retrying an entry that has not failed.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Step is the screen the session is on.
type Step string

const (
	StepGate Step = "gate"
	StepForm Step = "form"
)

// Admitter decides PIN submissions.
type Admitter interface {
	Submit(ctx context.Context, candidate string) gate.Result
}

// Progress aggregates the ledger for display.
type Progress struct {
	Total     int
	Pending   int
	Uploading int
	Done      int
	Failed    int
	Bytes     int64
	DoneBytes int64
}

// state holds no PIN: an accepted PIN is not kept beyond SubmitPIN.
type state struct {
	step     Step
	metadata Metadata
}

// Option ...
type Option func(*Controller)

// WithNotifier sets where user-facing failures are reported.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

// WithTracker enables analytics events.
func WithTracker(t analytics.Tracker) Option {
	return func(c *Controller) {
		c.tracker = newSessionTracker(t)
	}
}

// Controller is safe for concurrent use.
type Controller struct {
	admitter Admitter
	ledger   *ledger.Ledger
	uploader upload.Uploader
	notifier Notifier
	tracker  sessionTracker
	logger   log.Logger

	mu    sync.Mutex
	state state
}

// New ...
func New(admitter Admitter, l *ledger.Ledger, uploader upload.Uploader, logger log.Logger, opts ...Option) *Controller {
	c := &Controller{
		admitter: admitter,
		ledger:   l,
		uploader: uploader,
		notifier: NewLogNotifier(logger),
		tracker:  newSessionTracker(nil),
		logger:   logger,
		state:    state{step: StepGate},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Step ...
func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.step
}

// Ledger ...
func (c *Controller) Ledger() *ledger.Ledger {
	return c.ledger
}

// SubmitPIN forwards the attempt to the gate and opens the form on admission.
func (c *Controller) SubmitPIN(ctx context.Context, pin string) gate.Result {
	res := c.admitter.Submit(ctx, pin)
	if !res.Admit {
		if res.Message != "" {
			c.notifier.Notify(res.Message)
		}
		return res
	}

	c.mu.Lock()
	c.state.step = StepForm
	c.mu.Unlock()

	c.logger.Donef("Access granted")
	c.tracker.logAdmitted()
	return res
}

// SetMetadata replaces the session metadata. The serial number is only
// required once an upload starts.
func (c *Controller) SetMetadata(m Metadata) error {
	if err := c.requireAdmitted(); err != nil {
		return err
	}
	if err := m.validateBranch(); err != nil {
		c.notifier.Notify(err.Error())
		return err
	}

	c.mu.Lock()
	c.state.metadata = m
	c.mu.Unlock()
	return nil
}

// LoadMetadata reads a YAML metadata document and sets it.
func (c *Controller) LoadMetadata(r io.Reader) error {
	m, err := ParseMetadata(r)
	if err != nil {
		return err
	}
	return c.SetMetadata(m)
}

// Metadata ...
func (c *Controller) Metadata() Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.metadata
}

// AddFiles accepts the batch into the ledger or rejects it whole.
func (c *Controller) AddFiles(batch []ledger.Descriptor) ([]ledger.EntryID, error) {
	if err := c.requireAdmitted(); err != nil {
		return nil, err
	}

	ids, err := c.ledger.Add(batch)
	if err != nil {
		c.notifier.Notify(err.Error())
		var quotaErr *ledger.QuotaError
		if errors.As(err, &quotaErr) {
			c.tracker.logFilesRejected(quotaErr, len(batch))
		}
		return nil, err
	}
	limits := c.ledger.Limits()
	c.logger.Infof("Added %d file(s), session holds %d of %d file(s), %s of %s",
		len(ids), c.ledger.Count(), limits.MaxFiles,
		units.HumanSize(float64(c.ledger.TotalBytes())), units.HumanSize(float64(limits.MaxBytes)))
	return ids, nil
}

// Upload starts the transfer of one entry.
func (c *Controller) Upload(ctx context.Context, id ledger.EntryID) (upload.Outcome, error) {
	if err := c.requireAdmitted(); err != nil {
		return upload.Outcome{}, err
	}
	return c.upload(ctx, id), nil
}

// Retry uploads a failed entry again.
func (c *Controller) Retry(ctx context.Context, id ledger.EntryID) (upload.Outcome, error) {
	if err := c.requireAdmitted(); err != nil {
		return upload.Outcome{}, err
	}
	e, ok := c.ledger.Get(id)
	if !ok {
		return upload.Outcome{}, fmt.Errorf("retry %s: %w", id, ledger.ErrEntryNotFound)
	}
	if e.Status != ledger.StatusError {
		return upload.Outcome{}, fmt.Errorf("retry %s from %s: %w", e.Name, e.Status, ErrInvalidTransition)
	}
	return c.upload(ctx, id), nil
}

// UploadAll uploads every pending entry concurrently. The outcomes follow
// ledger order; a failed entry does not affect the others.
func (c *Controller) UploadAll(ctx context.Context) ([]upload.Outcome, error) {
	if err := c.requireAdmitted(); err != nil {
		return nil, err
	}

	pending := c.ledger.Pending()
	outcomes := make([]upload.Outcome, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range pending {
		g.Go(func() error {
			outcomes[i] = c.upload(gctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// Remove drops an entry and its preview.
func (c *Controller) Remove(id ledger.EntryID) error {
	if err := c.requireAdmitted(); err != nil {
		return err
	}
	return c.ledger.Remove(id)
}

// Progress ...
func (c *Controller) Progress() Progress {
	var p Progress
	for _, e := range c.ledger.Entries() {
		p.Total++
		p.Bytes += e.Size
		switch e.Status {
		case ledger.StatusPending:
			p.Pending++
		case ledger.StatusUploading:
			p.Uploading++
		case ledger.StatusDone:
			p.Done++
			p.DoneBytes += e.Size
		case ledger.StatusError:
			p.Failed++
		}
	}
	return p
}

// Finish clears the ledger and returns to the PIN gate.
func (c *Controller) Finish() {
	p := c.Progress()
	c.ledger.Clear()

	c.mu.Lock()
	c.state = state{step: StepGate}
	c.mu.Unlock()

	c.tracker.logFinished(p)
	c.logger.Infof("Session finished: %d of %d file(s) uploaded", p.Done, p.Total)
}

// Close flushes pending analytics events. The controller must not be used
// afterwards.
func (c *Controller) Close() {
	c.tracker.wait()
}

func (c *Controller) requireAdmitted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.step != StepForm {
		return ErrNotAdmitted
	}
	return nil
}

func (c *Controller) upload(ctx context.Context, id ledger.EntryID) upload.Outcome {
	startTime := time.Now()
	outcome := c.uploader.Upload(ctx, c.ledger, id, c.Metadata())
	if outcome.Skipped {
		return outcome
	}

	entry, _ := c.ledger.Get(id)
	switch outcome.Status {
	case ledger.StatusDone:
		c.tracker.logFileUploaded(entry, time.Since(startTime))
	case ledger.StatusError:
		c.tracker.logFileUploadFailed(entry, outcome)
	}
	if outcome.Message != "" {
		c.notifier.Notify(outcome.Message)
	}
	return outcome
}
