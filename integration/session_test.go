//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitrise-io/go-suas-uploader/gate"
	"github.com/bitrise-io/go-suas-uploader/intake"
	"github.com/bitrise-io/go-suas-uploader/internal/osproxy"
	"github.com/bitrise-io/go-suas-uploader/ledger"
	"github.com/bitrise-io/go-suas-uploader/session"
	"github.com/bitrise-io/go-suas-uploader/signing"
	"github.com/bitrise-io/go-suas-uploader/upload"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(signingURL string, cfg gate.Config, clock *fakeClock) (*session.Controller, *ledger.Ledger, *ledger.MemoryPreviews) {
	client := signing.NewHTTPClient(logger)
	resolver := signing.NewResolver(client, signingURL, logger)
	g := gate.New(cfg, resolver, client, logger, gate.WithClock(clock.Now))
	previews := ledger.NewMemoryPreviews()
	l := ledger.New(ledger.Limits{MaxFiles: 250, MaxBytes: 5 * units.GiB}, previews)
	return session.New(g, l, upload.NewWorker(resolver, client, logger), logger), l, previews
}

func TestSession_EndToEnd(t *testing.T) {
	logger.EnableDebugLog(true)
	server, storeDir := startLocalSigner(t)
	clock := &fakeClock{now: time.Now()}
	controller, l, previews := newController(server.URL, gate.Config{PIN: "4321", HealthcheckFile: "healthcheck.txt"}, clock)
	ctx := context.Background()

	// Wrong PIN
	res := controller.SubmitPIN(ctx, "0000")
	assert.False(t, res.Admit)
	assert.Equal(t, 2*time.Second, res.Wait)
	assert.Equal(t, 0, l.Count())

	// Correct PIN after the lockout, healthcheck against the dev store
	clock.Advance(res.Wait)
	res = controller.SubmitPIN(ctx, "4321")
	require.True(t, res.Admit, res.Message)

	// Oversized batch
	_, err := controller.AddFiles([]ledger.Descriptor{{Name: "huge.mov", Size: 6 * units.GiB, ContentType: "video/quicktime"}})
	assert.ErrorIs(t, err, ledger.ErrValidationFailed)
	assert.Equal(t, 0, l.Count())
	assert.Equal(t, 0, previews.Live())

	// Real files
	srcDir := t.TempDir()
	contents := map[string]string{
		"dd214 scan.pdf": "%PDF-1.4 service record",
		"photo.jpg":      "\xff\xd8\xff\xe0 jpeg",
		"notes.txt":      "served 2004-2012",
	}
	for name, content := range contents {
		require.NoError(t, os.WriteFile(filepath.Join(srcDir, name), []byte(content), 0o644))
	}
	descriptors, err := intake.NewCollector(osproxy.RealOS{}, pathutil.NewPathModifier(), logger).Collect([]string{filepath.Join(srcDir, "*")})
	require.NoError(t, err)
	require.Len(t, descriptors, 3)
	_, err = controller.AddFiles(descriptors)
	require.NoError(t, err)
	assert.Equal(t, 1, previews.Live())

	require.NoError(t, controller.SetMetadata(session.Metadata{FirstName: "Jane", LastName: "Doe", Branch: "Navy", SerialNumber: "0012345"}))
	outcomes, err := controller.UploadAll(ctx)
	require.NoError(t, err)
	for _, o := range outcomes {
		assert.Equal(t, ledger.StatusDone, o.Status, "%v", o.Err)
	}
	for _, e := range l.Entries() {
		assert.Equal(t, ledger.StatusDone, e.Status)
		assert.Equal(t, 100, e.Progress)
	}
	for name, content := range contents {
		assert.Equal(t, checksumOf([]byte(content)), fileChecksum(t, filepath.Join(storeDir, name)), name)
	}

	controller.Finish()
	assert.Equal(t, 0, l.Count())
	assert.Equal(t, 0, previews.Live())
	assert.Equal(t, session.StepGate, controller.Step())
}

func TestSession_SkipHealthcheck(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	controller, _, _ := newController("http://127.0.0.1:1", gate.Config{PIN: "4321", SkipHealthcheck: true}, clock)

	res := controller.SubmitPIN(context.Background(), "4321")

	assert.True(t, res.Admit)
	assert.Equal(t, session.StepForm, controller.Step())
}

func TestSession_StorageUnavailable(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	controller, _, _ := newController("http://127.0.0.1:1", gate.Config{PIN: "4321", HealthcheckFile: "healthcheck.txt"}, clock)

	res := controller.SubmitPIN(context.Background(), "4321")

	assert.False(t, res.Admit)
	assert.Equal(t, gate.ReasonStorageUnavailable, res.Reason)
	assert.ErrorIs(t, res.Err, gate.ErrStorageUnavailable)
	assert.ErrorIs(t, res.Err, signing.ErrSigningUnavailable)
}
