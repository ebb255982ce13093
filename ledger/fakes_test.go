package ledger

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }

type bytesSource []byte

func (s bytesSource) Open() (io.ReadSeekCloser, error) {
	return nopSeekCloser{bytes.NewReader(s)}, nil
}

func descriptor(name, contentType string, size int64) Descriptor {
	return Descriptor{Name: name, Size: size, ContentType: contentType, Source: bytesSource("x")}
}

type failingPreviews struct{}

func (failingPreviews) Acquire(Descriptor) (string, error) { return "", errors.New("no preview") }
func (failingPreviews) Release(string)                     {}

type recordingObserver struct {
	mu      sync.Mutex
	changes []Entry
}

func (o *recordingObserver) observe(e Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, e)
}

func (o *recordingObserver) statuses(id EntryID) []Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	var statuses []Status
	for _, e := range o.changes {
		if e.ID == id {
			statuses = append(statuses, e.Status)
		}
	}
	return statuses
}
