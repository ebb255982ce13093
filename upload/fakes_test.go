package upload

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bitrise-io/go-suas-uploader/ledger"
)

type validatorFunc func() error

func (f validatorFunc) Validate() error { return f() }

var validMetadata = validatorFunc(func() error { return nil })

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }

type bytesSource []byte

func (s bytesSource) Open() (io.ReadSeekCloser, error) {
	return nopSeekCloser{bytes.NewReader(s)}, nil
}

type fakeResolver struct {
	url string
	err error
}

func (r fakeResolver) Resolve(context.Context, string) (string, error) {
	return r.url, r.err
}

type storedRequest struct {
	method      string
	contentType string
	length      int64
	body        []byte
}

// storage is an httptest object store recording every request.
type storage struct {
	mu       sync.Mutex
	requests []storedRequest
	headCode int
	putCode  int
	server   *httptest.Server
}

func newStorage(t *testing.T) *storage {
	t.Helper()
	s := &storage{headCode: http.StatusOK, putCode: http.StatusOK}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, storedRequest{
			method:      r.Method,
			contentType: r.Header.Get("Content-Type"),
			length:      r.ContentLength,
			body:        body,
		})
		code := s.putCode
		if r.Method == http.MethodHead {
			code = s.headCode
		}
		s.mu.Unlock()
		w.WriteHeader(code)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *storage) url() string {
	return s.server.URL + "/bucket/object?sig=abc"
}

func (s *storage) recorded() []storedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storedRequest(nil), s.requests...)
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []ledger.Status
	progress []int
}

func (r *statusRecorder) observe(e ledger.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, e.Status)
	r.progress = append(r.progress, e.Progress)
}

func (r *statusRecorder) seen(status ledger.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if s == status {
			return true
		}
	}
	return false
}
