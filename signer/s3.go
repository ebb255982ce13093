package signer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	defaultPresignExpiry = 15 * time.Minute
	numBucketRetries     = 3
)

// ErrBucketNotFound is returned by CheckBucket when the bucket does not exist.
var ErrBucketNotFound = errors.New("bucket not found")

// S3Params ...
type S3Params struct {
	Region          string
	Bucket          string
	Folder          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the S3 endpoint, for S3 compatible stores. Path
	// style addressing is used when set.
	Endpoint string
	Expiry   time.Duration
}

// S3Presigner issues presigned PutObject URLs.
type S3Presigner struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	folder    string
	logger    log.Logger
	retryWait time.Duration
}

// NewS3Presigner ...
func NewS3Presigner(ctx context.Context, params S3Params, logger log.Logger) (*S3Presigner, error) {
	if params.Bucket == "" {
		return nil, errors.New("bucket must not be empty")
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
			o.UsePathStyle = true
		}
	})
	expiry := params.Expiry
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}

	return &S3Presigner{
		client: client,
		presign: s3.NewPresignClient(client, func(o *s3.PresignOptions) {
			o.Expires = expiry
		}),
		bucket:    params.Bucket,
		folder:    params.Folder,
		logger:    logger,
		retryWait: 5 * time.Second,
	}, nil
}

// PresignPut ...
func (p *S3Presigner) PresignPut(ctx context.Context, filename string) (string, error) {
	key := p.key(filename)
	req, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// CheckBucket verifies the bucket is reachable, retrying transient errors.
func (p *S3Presigner) CheckBucket(ctx context.Context) error {
	return retry.Times(numBucketRetries).Wait(p.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(p.bucket),
		})
		if err == nil {
			return nil, true
		}

		var apiError smithy.APIError
		if errors.As(err, &apiError) {
			switch apiError.(type) {
			case *types.NotFound:
				return fmt.Errorf("%w: %s", ErrBucketNotFound, p.bucket), true
			}
		}
		p.logger.Debugf("Bucket check attempt %d failed: %s", attempt+1, err)
		return fmt.Errorf("head bucket: %w", err), false
	})
}

func (p *S3Presigner) key(filename string) string {
	if p.folder == "" {
		return filename
	}
	return path.Join(p.folder, filename)
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, errors.New("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
