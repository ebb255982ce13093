package signer

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Store is a development object store behind LocalPresigner URLs. HEAD
// answers 200 for a valid signature; PUT writes the object to dir.
type Store struct {
	dir       string
	presigner *LocalPresigner
	logger    log.Logger
}

// NewStore ...
func NewStore(dir string, presigner *LocalPresigner, logger log.Logger) *Store {
	return &Store{dir: dir, presigner: presigner, logger: logger}
}

// Register adds the store routes to mux.
func (s *Store) Register(mux *http.ServeMux) {
	mux.HandleFunc("HEAD /objects/{key}", s.head)
	mux.HandleFunc("PUT /objects/{key}", s.put)
}

func (s *Store) head(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r); !ok {
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Store) put(w http.ResponseWriter, r *http.Request) {
	key, ok := s.authorize(w, r)
	if !ok {
		return
	}

	n, err := s.write(key, r.Body)
	if err != nil {
		s.logger.Errorf("Failed to store %s: %s", key, err)
		http.Error(w, "store failed", http.StatusInternalServerError)
		return
	}
	s.logger.Infof("Stored %s (%d bytes, %s)", key, n, r.Header.Get("Content-Type"))
	w.WriteHeader(http.StatusOK)
}

func (s *Store) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := ValidateFilename(r.PathValue("key"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	if err := s.presigner.Verify(key, r.URL.Query()); err != nil {
		s.logger.Warnf("Rejected %s %s: %s", r.Method, key, err)
		http.Error(w, err.Error(), http.StatusForbidden)
		return "", false
	}
	return key, true
}

// write stores the object through a temp file so readers never see a
// partial object.
func (s *Store) write(key string, body io.Reader) (int64, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		return n, fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, key)); err != nil {
		return n, fmt.Errorf("rename object: %w", err)
	}
	return n, nil
}
