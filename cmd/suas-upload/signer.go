package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bitrise-io/go-suas-uploader/signer"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	backendLocal = "local"
	backendS3    = "s3"
)

type signerOptions struct {
	addr      string
	backend   string
	publicURL string
	storeDir  string
	expiry    time.Duration
	s3        signer.S3Params
	verbose   bool
}

func newSignerCmd(logger log.Logger) *cobra.Command {
	var opts signerOptions
	cmd := &cobra.Command{
		Use:   "signer",
		Short: "Serve the reference signing endpoint",
		Long: `Serves /api/sign in its query, path and POST shapes. The local backend
also serves a development object store under /objects/; the s3 backend
presigns PutObject URLs for an S3 bucket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.EnableDebugLog(opts.verbose)
			return runSigner(cmd.Context(), opts, env.NewRepository(), logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", ":8080", "listen address")
	f.StringVar(&opts.backend, "backend", backendLocal, "presigner backend: local or s3")
	f.StringVar(&opts.publicURL, "public-url", "", "base URL of signed local URLs (default http://localhost:<port>)")
	f.StringVar(&opts.storeDir, "store-dir", "uploads", "directory of the local object store")
	f.DurationVar(&opts.expiry, "expiry", 15*time.Minute, "lifetime of signed URLs")
	f.StringVar(&opts.s3.Region, "region", "", "S3 region")
	f.StringVar(&opts.s3.Bucket, "bucket", "", "S3 bucket")
	f.StringVar(&opts.s3.Folder, "folder", "", "key prefix inside the bucket")
	f.StringVar(&opts.s3.Endpoint, "endpoint", "", "S3 compatible endpoint URL")
	f.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	return cmd
}

func runSigner(ctx context.Context, opts signerOptions, envRepo env.Repository, logger log.Logger) error {
	listener, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if opts.publicURL == "" {
		_, port, err := net.SplitHostPort(listener.Addr().String())
		if err != nil {
			return fmt.Errorf("listen address: %w", err)
		}
		opts.publicURL = "http://" + net.JoinHostPort("localhost", port)
	}

	mux, err := newSignerMux(ctx, opts, envRepo, logger)
	if err != nil {
		_ = listener.Close()
		return err
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Infof("Signer (%s backend) listening on %s", opts.backend, listener.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Donef("Signer stopped")
	return nil
}

func newSignerMux(ctx context.Context, opts signerOptions, envRepo env.Repository, logger log.Logger) (*http.ServeMux, error) {
	switch opts.backend {
	case backendLocal:
		secret := envRepo.Get("SUAS_SIGNER_SECRET")
		if secret == "" {
			secret = uuid.NewString()
			logger.Warnf("SUAS_SIGNER_SECRET is not set, using a random secret")
		}
		presigner := signer.NewLocalPresigner(opts.publicURL, []byte(secret), opts.expiry)
		mux := signer.NewHandler(presigner, logger)
		signer.NewStore(opts.storeDir, presigner, logger).Register(mux)
		return mux, nil
	case backendS3:
		params := opts.s3
		params.Expiry = opts.expiry
		params.AccessKeyID = envRepo.Get("AWS_ACCESS_KEY_ID")
		params.SecretAccessKey = envRepo.Get("AWS_SECRET_ACCESS_KEY")
		presigner, err := signer.NewS3Presigner(ctx, params, logger)
		if err != nil {
			return nil, err
		}
		if err := presigner.CheckBucket(ctx); err != nil {
			return nil, fmt.Errorf("check bucket: %w", err)
		}
		return signer.NewHandler(presigner, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q, expected %s or %s", opts.backend, backendLocal, backendS3)
	}
}
