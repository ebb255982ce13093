// Package ledger keeps the files of an upload session, their lifecycle state
// and the session quotas.
package ledger

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
)

// Limits are the per-session quotas.
type Limits struct {
	MaxFiles int
	MaxBytes int64
}

// Observer receives a snapshot of an entry after each change. Observers are
// called outside the ledger lock, possibly from several goroutines.
type Observer func(Entry)

// Option ...
type Option func(*Ledger)

// WithObserver registers an observer for entry changes.
func WithObserver(o Observer) Option {
	return func(l *Ledger) {
		l.observers = append(l.observers, o)
	}
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	limits    Limits
	previews  PreviewStore
	order     []EntryID
	entries   map[EntryID]*Entry
	observers []Observer
}

// New ...
func New(limits Limits, previews PreviewStore, opts ...Option) *Ledger {
	l := &Ledger{
		limits:   limits,
		previews: previews,
		entries:  map[EntryID]*Entry{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add accepts the whole batch or none of it.
func (l *Ledger) Add(batch []Descriptor) ([]EntryID, error) {
	for _, d := range batch {
		if d.Size < 0 {
			return nil, fmt.Errorf("%s: invalid size %d: %w", d.Name, d.Size, ErrValidationFailed)
		}
	}

	incoming := make([]*Entry, 0, len(batch))
	for _, d := range batch {
		incoming = append(incoming, &Entry{
			ID:          EntryID(uuid.NewString()),
			Name:        d.Name,
			Size:        d.Size,
			ContentType: d.ContentType,
			Status:      StatusPending,
			Preview:     l.acquirePreview(d),
			Source:      d.Source,
		})
	}

	l.mu.Lock()
	if err := l.checkQuota(incoming); err != nil {
		l.mu.Unlock()
		for _, e := range incoming {
			l.releasePreview(e.Preview)
		}
		return nil, err
	}

	ids := make([]EntryID, 0, len(incoming))
	snapshots := make([]Entry, 0, len(incoming))
	for _, e := range incoming {
		l.order = append(l.order, e.ID)
		l.entries[e.ID] = e
		ids = append(ids, e.ID)
		snapshots = append(snapshots, *e)
	}
	l.mu.Unlock()

	for _, s := range snapshots {
		l.notify(s)
	}
	return ids, nil
}

func (l *Ledger) checkQuota(incoming []*Entry) error {
	count := len(l.order) + len(incoming)
	if count > l.limits.MaxFiles {
		return &QuotaError{Limit: LimitCount, Max: int64(l.limits.MaxFiles), Got: int64(count)}
	}

	total := l.totalBytesLocked()
	for _, e := range incoming {
		if e.Size > l.limits.MaxBytes-total {
			return &QuotaError{Limit: LimitBytes, Max: l.limits.MaxBytes, Got: saturatingAdd(total, e.Size)}
		}
		total += e.Size
	}
	return nil
}

func saturatingAdd(a, b int64) int64 {
	if b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}

// Update applies a partial state change to an entry.
func (l *Ledger) Update(id EntryID, patch Patch) error {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("update %s: %w", id, ErrEntryNotFound)
	}
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	if patch.Progress != nil {
		e.Progress = clampProgress(*patch.Progress)
	}
	snapshot := *e
	l.mu.Unlock()

	l.notify(snapshot)
	return nil
}

// Begin moves a pending or failed entry to uploading. It returns false, and
// changes nothing, when the entry is already uploading or done.
func (l *Ledger) Begin(id EntryID) (bool, error) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		l.mu.Unlock()
		return false, fmt.Errorf("begin %s: %w", id, ErrEntryNotFound)
	}
	if e.Status != StatusPending && e.Status != StatusError {
		l.mu.Unlock()
		return false, nil
	}
	e.Status = StatusUploading
	e.Progress = 0
	snapshot := *e
	l.mu.Unlock()

	l.notify(snapshot)
	return true, nil
}

// Fail moves a pending or failed entry straight to error, without passing
// through uploading. Entries that are uploading or done are left alone.
func (l *Ledger) Fail(id EntryID) (bool, error) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		l.mu.Unlock()
		return false, fmt.Errorf("fail %s: %w", id, ErrEntryNotFound)
	}
	if e.Status != StatusPending && e.Status != StatusError {
		l.mu.Unlock()
		return false, nil
	}
	e.Status = StatusError
	snapshot := *e
	l.mu.Unlock()

	l.notify(snapshot)
	return true, nil
}

// Remove releases the entry's preview and drops it.
func (l *Ledger) Remove(id EntryID) error {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrEntryNotFound)
	}
	delete(l.entries, id)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.mu.Unlock()

	l.releasePreview(e.Preview)
	return nil
}

// Clear releases every preview and empties the ledger.
func (l *Ledger) Clear() {
	l.mu.Lock()
	previews := make([]string, 0, len(l.order))
	for _, id := range l.order {
		previews = append(previews, l.entries[id].Preview)
	}
	l.order = nil
	l.entries = map[EntryID]*Entry{}
	l.mu.Unlock()

	for _, p := range previews {
		l.releasePreview(p)
	}
}

// Get ...
func (l *Ledger) Get(id EntryID) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns snapshots in insertion order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]Entry, 0, len(l.order))
	for _, id := range l.order {
		entries = append(entries, *l.entries[id])
	}
	return entries
}

// Pending returns the IDs of pending entries in insertion order.
func (l *Ledger) Pending() []EntryID {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []EntryID
	for _, id := range l.order {
		if l.entries[id].Status == StatusPending {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count ...
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// TotalBytes ...
func (l *Ledger) TotalBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalBytesLocked()
}

// Limits ...
func (l *Ledger) Limits() Limits {
	return l.limits
}

func (l *Ledger) totalBytesLocked() int64 {
	var total int64
	for _, e := range l.entries {
		total += e.Size
	}
	return total
}

func (l *Ledger) acquirePreview(d Descriptor) string {
	if !hasLivePreview(d.ContentType) || l.previews == nil {
		return fallbackIcon(d.ContentType)
	}
	ref, err := l.previews.Acquire(d)
	if err != nil || ref == "" {
		return FileIcon
	}
	return ref
}

func (l *Ledger) releasePreview(ref string) {
	if l.previews == nil || ref == "" || IsFallback(ref) {
		return
	}
	l.previews.Release(ref)
}

func (l *Ledger) notify(e Entry) {
	for _, o := range l.observers {
		o(e)
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
