// Package s3 provides a remote Fetcher backed by Amazon S3 or any
// S3-compatible service (Localstack, MinIO).
//
// Each Fetch is exactly one GetObject: the SDK's own retryer is disabled
// because the unit loader owns the retry budget. Errors are classified into
// source.ErrNetwork (throttling, 5xx, timeouts) and source.ErrProtocol
// (missing keys, access denied, oversized objects).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/metrics"
	"github.com/marmos91/dittobundle/pkg/source"
)

// Config holds configuration for the S3 fetcher.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// KeyPrefix is prepended to all keys (e.g., "units/").
	KeyPrefix string

	// AccessKeyID and SecretAccessKey configure static credentials. When
	// empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool

	// MaxObjectSize rejects larger objects with source.ErrTooLarge.
	// Zero disables the check.
	MaxObjectSize int64
}

// Fetcher implements source.Fetcher over S3.
type Fetcher struct {
	client  *s3.Client
	bucket  string
	prefix  string
	maxSize int64
	metrics metrics.FetchMetrics

	mu     sync.RWMutex
	closed bool
}

// New creates a fetcher with an existing client.
func New(client *s3.Client, cfg Config, m metrics.FetchMetrics) *Fetcher {
	return &Fetcher{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.KeyPrefix,
		maxSize: cfg.MaxObjectSize,
		metrics: m,
	}
}

// NewFromConfig builds an S3 client from cfg and wraps it.
func NewFromConfig(ctx context.Context, cfg Config, m metrics.FetchMetrics) (*Fetcher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
		o.RetryMaxAttempts = 1
	})

	logger.Info("S3 fetcher configured",
		logger.KeyBucket, cfg.Bucket,
		logger.KeyRegion, awsCfg.Region,
		"endpoint", cfg.Endpoint,
		"prefix", cfg.KeyPrefix)

	return New(client, cfg, m), nil
}

// Kind returns "s3".
func (f *Fetcher) Kind() string { return "s3" }

func (f *Fetcher) fullKey(key string) string {
	return f.prefix + key
}

// Fetch downloads one object.
func (f *Fetcher) Fetch(ctx context.Context, key string) (data []byte, err error) {
	f.mu.RLock()
	closed := f.closed
	f.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: %w", source.ErrProtocol, source.ErrClosed)
	}

	start := time.Now()
	defer func() {
		metrics.ObserveFetch(f.metrics, "s3", outcome(err), int64(len(data)), time.Since(start))
	}()

	fullKey := f.fullKey(key)
	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return nil, classify(fullKey, err)
	}
	defer resp.Body.Close()

	if f.maxSize > 0 && resp.ContentLength != nil && *resp.ContentLength > f.maxSize {
		return nil, fmt.Errorf("%w: %w: %s is %d bytes", source.ErrProtocol, source.ErrTooLarge, fullKey, *resp.ContentLength)
	}

	var buf bytes.Buffer
	if resp.ContentLength != nil && *resp.ContentLength > 0 {
		buf.Grow(int(*resp.ContentLength))
	}
	r := io.Reader(resp.Body)
	if f.maxSize > 0 {
		r = io.LimitReader(resp.Body, f.maxSize+1)
	}
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", source.ErrNetwork, fullKey, err)
	}
	if f.maxSize > 0 && int64(buf.Len()) > f.maxSize {
		return nil, fmt.Errorf("%w: %w: %s", source.ErrProtocol, source.ErrTooLarge, fullKey)
	}

	logger.Debug("S3 object fetched", logger.KeyKey, fullKey, logger.KeyBytes, buf.Len())
	return buf.Bytes(), nil
}

// Put uploads raw bytes under the fetcher's prefix. Integration tests seed
// buckets with it.
func (f *Fetcher) Put(ctx context.Context, key string, data []byte) error {
	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.fullKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// Close makes further fetches fail.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// classify wraps an SDK error into the source error taxonomy.
func classify(key string, err error) error {
	switch {
	case isNotFoundError(err):
		return fmt.Errorf("%w: %w: %s", source.ErrProtocol, source.ErrNotFound, key)
	case isRetryableError(err):
		return fmt.Errorf("%w: get %s: %v", source.ErrNetwork, key, err)
	default:
		return fmt.Errorf("%w: get %s: %v", source.ErrProtocol, key, err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, source.ErrNotFound):
		return "not_found"
	case errors.Is(err, source.ErrNetwork):
		return "network"
	default:
		return "protocol"
	}
}

// isRetryableError reports whether err is a transient failure.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// A cancelled caller is not a transient backend failure, but a deadline
	// on a slow link is.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown",
			"ProvisionedThroughputExceededException":
			return true
		case "InternalError", "ServiceUnavailable", "ServiceException", "InternalServiceException":
			return true
		case "NoSuchKey", "NotFound", "AccessDenied", "Forbidden", "InvalidRequest", "NoSuchBucket":
			return false
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "StatusCode: 503") ||
		strings.Contains(errStr, "StatusCode: 500")
}

// isNotFoundError reports whether err means the object doesn't exist.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}

	return strings.Contains(err.Error(), "StatusCode: 404")
}
