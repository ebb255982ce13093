package gate

import (
	"context"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeResolver struct {
	mu        sync.Mutex
	url       string
	err       error
	filenames []string
}

func (r *fakeResolver) Resolve(_ context.Context, filename string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filenames = append(r.filenames, filename)
	return r.url, r.err
}

func (r *fakeResolver) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.filenames...)
}
