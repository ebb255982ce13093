package upload

import (
	"sync"
	"time"
)

// Stats tracks completed transfers across every upload of a worker.
type Stats struct {
	sum           time.Duration
	bytes         int64
	finishedFiles int64
	mu            sync.Mutex
}

// NewStats ...
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful transfer.
func (s *Stats) Update(d time.Duration, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.bytes += size
	s.finishedFiles++
}

// Average returns the average transfer duration of completed files.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedFiles == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedFiles)
}

// FinishedCount ...
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedFiles
}

// TotalDuration ...
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}

// TotalBytes returns the number of bytes transferred by completed files.
func (s *Stats) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}
