//go:build integration

package integration

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitrise-io/go-suas-uploader/signer"
	"github.com/bitrise-io/go-utils/v2/log"
)

var logger = log.NewLogger()

func checksumOf(bytes []byte) string {
	hash := sha256.New()
	hash.Write(bytes)
	return hex.EncodeToString(hash.Sum(nil))
}

func fileChecksum(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %s", path, err)
	}
	return checksumOf(b)
}

// startLocalSigner serves the signing endpoint and the development store
// the way `suas-upload signer --backend local` does.
func startLocalSigner(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	storeDir := filepath.Join(t.TempDir(), "store")
	var handler http.Handler
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	presigner := signer.NewLocalPresigner(server.URL, []byte("integration"), 5*time.Minute)
	mux := signer.NewHandler(presigner, logger)
	signer.NewStore(storeDir, presigner, logger).Register(mux)
	handler = mux
	return server, storeDir
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
