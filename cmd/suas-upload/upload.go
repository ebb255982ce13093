package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bitrise-io/go-suas-uploader/config"
	"github.com/bitrise-io/go-suas-uploader/gate"
	"github.com/bitrise-io/go-suas-uploader/intake"
	"github.com/bitrise-io/go-suas-uploader/internal/osproxy"
	"github.com/bitrise-io/go-suas-uploader/ledger"
	"github.com/bitrise-io/go-suas-uploader/session"
	"github.com/bitrise-io/go-suas-uploader/signing"
	"github.com/bitrise-io/go-suas-uploader/upload"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	errUploadsFailed = errors.New("some files failed to upload")
	errFilesRejected = errors.New("files rejected")
)

type uploadOptions struct {
	metadataPath string
	metadata     session.Metadata
	pinStdin     bool
	verbose      bool
}

type uploadRunner struct {
	logger    log.Logger
	envRepo   env.Repository
	pinReader pinReader
	osProxy   osproxy.OS
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func newUploadCmd(logger log.Logger) *cobra.Command {
	var opts uploadOptions
	cmd := &cobra.Command{
		Use:   "upload [paths or glob patterns...]",
		Short: "Run an upload session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reader pinReader = newLinePINReader(cmd.InOrStdin())
			if !opts.pinStdin {
				fd := int(os.Stdin.Fd())
				if !term.IsTerminal(fd) {
					return errors.New("stdin is not a terminal, use --pin-stdin")
				}
				reader = terminalPINReader{fd: fd, out: cmd.ErrOrStderr()}
			}
			r := uploadRunner{
				logger:    logger,
				envRepo:   env.NewRepository(),
				pinReader: reader,
				osProxy:   osproxy.RealOS{},
				now:       time.Now,
				sleep:     sleepContext,
			}
			return r.run(cmd.Context(), opts, overriddenFields(cmd), args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.metadataPath, "metadata", "", "YAML file with the service member metadata")
	f.StringVar(&opts.metadata.FirstName, "first-name", "", "first name")
	f.StringVar(&opts.metadata.MiddleName, "middle-name", "", "middle name")
	f.StringVar(&opts.metadata.LastName, "last-name", "", "last name")
	f.StringVar(&opts.metadata.Branch, "branch", "", "branch of service")
	f.StringVar(&opts.metadata.Rank, "rank", "", "rank")
	f.StringVar(&opts.metadata.SerialNumber, "serial", "", "serial number (required before uploading)")
	f.StringVar(&opts.metadata.BootCamp, "boot-camp", "", "boot camp")
	f.StringVar(&opts.metadata.LastUnit, "last-unit", "", "last unit")
	f.BoolVar(&opts.pinStdin, "pin-stdin", false, "read the PIN from stdin, one attempt per line")
	f.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	return cmd
}

// overriddenFields lists the metadata flags set on the command line.
func overriddenFields(cmd *cobra.Command) map[string]bool {
	set := map[string]bool{}
	for _, name := range []string{"first-name", "middle-name", "last-name", "branch", "rank", "serial", "boot-camp", "last-unit"} {
		set[name] = cmd.Flags().Changed(name)
	}
	return set
}

func (r uploadRunner) run(ctx context.Context, opts uploadOptions, overridden map[string]bool, patterns []string) error {
	cfg, err := config.Load(r.envRepo)
	if err != nil {
		return err
	}
	r.logger.EnableDebugLog(cfg.Verbose || opts.verbose)
	config.Print(r.logger, cfg)
	r.logger.Println()

	client := signing.NewHTTPClient(r.logger)
	resolver := signing.NewResolver(client, cfg.SigningURL, r.logger)
	g := gate.New(gate.Config{
		PIN:             string(cfg.PIN),
		PINHash:         string(cfg.PINHash),
		SkipHealthcheck: cfg.SkipHealthcheck,
		HealthcheckFile: cfg.HealthcheckFile,
	}, resolver, client, r.logger, gate.WithClock(r.now))
	l := ledger.New(
		ledger.Limits{MaxFiles: cfg.MaxFiles, MaxBytes: int64(cfg.MaxBytes)},
		ledger.NewMemoryPreviews(),
		ledger.WithObserver(progressPrinter(r.logger)),
	)

	var tracker analytics.Tracker
	if cfg.Analytics {
		tracker = analytics.NewDefaultTracker(r.logger, analytics.Properties{"session_id": uuid.NewString()})
	}
	controller := session.New(g, l, upload.NewWorker(resolver, client, r.logger), r.logger, session.WithTracker(tracker))
	defer controller.Close()

	if err := r.admit(ctx, controller); err != nil {
		return err
	}
	defer controller.Finish()

	if err := r.setMetadata(controller, opts, overridden); err != nil {
		return err
	}

	descriptors, err := intake.NewCollector(r.osProxy, pathutil.NewPathModifier(), r.logger).Collect(patterns)
	if err != nil {
		return err
	}
	if len(descriptors) == 0 {
		return errors.New("no files to upload")
	}
	if _, err := controller.AddFiles(descriptors); err != nil {
		if errors.Is(err, ledger.ErrValidationFailed) {
			r.logger.Printf("No file was uploaded, run again with a smaller selection")
			return fmt.Errorf("%w: %w", errFilesRejected, err)
		}
		return err
	}

	r.logger.Println()
	r.logger.Infof("Uploading %d file(s)", len(descriptors))
	if _, err := controller.UploadAll(ctx); err != nil {
		return err
	}

	return r.summarize(controller)
}

// admit prompts for the PIN until the gate admits, waiting out lockouts.
// A failed storage healthcheck allows an immediate new attempt.
func (r uploadRunner) admit(ctx context.Context, controller *session.Controller) error {
	for {
		pin, err := r.pinReader.ReadPIN()
		if err != nil {
			return err
		}
		res := controller.SubmitPIN(ctx, pin)
		switch res.Reason {
		case gate.ReasonAdmitted:
			return nil
		case gate.ReasonStorageUnavailable:
			r.logger.Debugf("Healthcheck error: %s", res.Err)
			r.logger.Printf("Enter the PIN to try again")
			continue
		}
		if res.Wait > 0 {
			if err := r.sleep(ctx, res.Wait); err != nil {
				return err
			}
		}
	}
}

func (r uploadRunner) setMetadata(controller *session.Controller, opts uploadOptions, overridden map[string]bool) error {
	if opts.metadataPath != "" {
		f, err := r.osProxy.Open(opts.metadataPath)
		if err != nil {
			return fmt.Errorf("open metadata: %w", err)
		}
		defer f.Close() //nolint:errcheck
		if err := controller.LoadMetadata(f); err != nil {
			return err
		}
	}
	return controller.SetMetadata(mergeMetadata(controller.Metadata(), opts.metadata, overridden))
}

// mergeMetadata overlays the flag values that were set on base.
func mergeMetadata(base, flags session.Metadata, overridden map[string]bool) session.Metadata {
	m := base
	fields := map[string]struct {
		dst *string
		src string
	}{
		"first-name":  {&m.FirstName, flags.FirstName},
		"middle-name": {&m.MiddleName, flags.MiddleName},
		"last-name":   {&m.LastName, flags.LastName},
		"branch":      {&m.Branch, flags.Branch},
		"rank":        {&m.Rank, flags.Rank},
		"serial":      {&m.SerialNumber, flags.SerialNumber},
		"boot-camp":   {&m.BootCamp, flags.BootCamp},
		"last-unit":   {&m.LastUnit, flags.LastUnit},
	}
	for name, f := range fields {
		if overridden[name] {
			*f.dst = f.src
		}
	}
	return m
}

func (r uploadRunner) summarize(controller *session.Controller) error {
	r.logger.Println()
	r.logger.Infof("Summary")
	for _, e := range controller.Ledger().Entries() {
		line := fmt.Sprintf("- %s (%s): %s", e.Name, units.HumanSize(float64(e.Size)), e.Status)
		if e.Status == ledger.StatusDone {
			r.logger.Donef("%s", line)
		} else {
			r.logger.Errorf("%s", line)
		}
	}

	p := controller.Progress()
	r.logger.Printf("%d of %d file(s) uploaded, %s of %s",
		p.Done, p.Total, units.HumanSize(float64(p.DoneBytes)), units.HumanSize(float64(p.Bytes)))
	if p.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", errUploadsFailed, p.Failed, p.Total)
	}
	return nil
}

// progressPrinter logs status changes and every quarter of progress.
func progressPrinter(logger log.Logger) ledger.Observer {
	return func(e ledger.Entry) {
		switch e.Status {
		case ledger.StatusUploading:
			if e.Progress == 0 {
				logger.Printf("Uploading %s (%s)", e.Name, units.HumanSize(float64(e.Size)))
			} else if e.Progress%25 == 0 {
				logger.Debugf("%s: %d%%", e.Name, e.Progress)
			}
		case ledger.StatusError:
			logger.Warnf("%s failed", e.Name)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
