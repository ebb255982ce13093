package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-suas-uploader/signer"
	"github.com/bitrise-io/go-utils/v2/log"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	return repo.envVars[key]
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	delete(repo.envVars, key)
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, k+"="+v)
	}
	return envs
}

// recordingSleeper moves a fake clock instead of sleeping.
type recordingSleeper struct {
	clock time.Time
	waits []time.Duration
}

func newRecordingSleeper() *recordingSleeper {
	return &recordingSleeper{clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *recordingSleeper) now() time.Time {
	return s.clock
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	s.clock = s.clock.Add(d)
	return nil
}

// newLocalSigner serves the reference signer with its development store.
// The first failSigns signing requests are answered with 503.
func newLocalSigner(t *testing.T, storeDir string, failSigns int32) *httptest.Server {
	t.Helper()
	var (
		handler http.Handler
		signs   atomic.Int32
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/sign") && signs.Add(1) <= failSigns {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	logger := log.NewLogger()
	presigner := signer.NewLocalPresigner(server.URL, []byte("test-secret"), time.Minute)
	mux := signer.NewHandler(presigner, logger)
	signer.NewStore(storeDir, presigner, logger).Register(mux)
	handler = mux
	return server
}
