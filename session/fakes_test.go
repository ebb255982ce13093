package session

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-suas-uploader/ledger"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/stretchr/testify/mock"
)

type mockTracker struct {
	mock.Mock
}

func (m *mockTracker) Enqueue(eventName string, properties ...analytics.Properties) {
	m.Called(eventName)
}

func (m *mockTracker) Wait() {
	m.Called()
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }

type bytesSource []byte

func (s bytesSource) Open() (io.ReadSeekCloser, error) {
	return nopSeekCloser{bytes.NewReader(s)}, nil
}

func textFile(name, content string) ledger.Descriptor {
	return ledger.Descriptor{Name: name, Size: int64(len(content)), ContentType: "text/plain", Source: bytesSource(content)}
}

// storage serves a signed-URL store that fails PUTs for the named objects.
type storage struct {
	mu      sync.Mutex
	failing map[string]bool
	objects map[string][]byte
	server  *httptest.Server
}

func newStorage(t *testing.T, failing ...string) *storage {
	t.Helper()
	s := &storage{failing: map[string]bool{}, objects: map[string][]byte{}}
	for _, name := range failing {
		s.failing[name] = true
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/bucket/"):]
		s.mu.Lock()
		defer s.mu.Unlock()
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			if s.failing[name] {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			body, _ := io.ReadAll(r.Body)
			s.objects[name] = body
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *storage) Resolve(_ context.Context, filename string) (string, error) {
	return s.server.URL + "/bucket/" + filename, nil
}

func (s *storage) heal(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failing, name)
}

func (s *storage) object(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[name]
	return b, ok
}

// gatedStorage holds every PUT until want of them are in flight at once, or
// until a timeout passes.
type gatedStorage struct {
	want     int32
	inFlight atomic.Int32
	peak     atomic.Int32
	release  chan struct{}
	once     sync.Once
	server   *httptest.Server
}

func newGatedStorage(t *testing.T, want int32) *gatedStorage {
	t.Helper()
	s := &gatedStorage{want: want, release: make(chan struct{})}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)

		n := s.inFlight.Add(1)
		for {
			peak := s.peak.Load()
			if n <= peak || s.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		if n >= s.want {
			s.once.Do(func() { close(s.release) })
		}
		select {
		case <-s.release:
		case <-time.After(5 * time.Second):
		}
		s.inFlight.Add(-1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *gatedStorage) Resolve(_ context.Context, filename string) (string, error) {
	return s.server.URL + "/bucket/" + filename, nil
}

func stringsReader(s string) io.Reader {
	return bytes.NewBufferString(s)
}
