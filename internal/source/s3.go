package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Config holds the connection settings for an S3-backed source.
type S3Config struct {
	Endpoint  string // optional, for S3-compatible stores
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Key       string
}

// S3Source reads a single object through ranged GetObject calls. The
// object size is resolved once at construction so reads past the end
// become local EOS decisions instead of InvalidRange round-trips.
type S3Source struct {
	client *s3.Client
	bucket string
	key    string
	size   int64
	logger *zap.Logger
}

// NewS3Source builds the client and resolves the object size.
func NewS3Source(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(cfg.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("head object %s/%s: %w", cfg.Bucket, cfg.Key, err)
	}

	s := &S3Source{
		client: client,
		bucket: cfg.Bucket,
		key:    cfg.Key,
		size:   aws.ToInt64(head.ContentLength),
		logger: logger,
	}
	logger.Info("s3 source ready",
		zap.String("bucket", cfg.Bucket),
		zap.String("key", cfg.Key),
		zap.Int64("size", s.size))
	return s, nil
}

// Flags marks the source as network-backed and wanting a prefetch layer.
func (s *S3Source) Flags() Flags {
	return FlagNetworkBacked | FlagWantsPrefetching
}

// Size returns the object size in bytes.
func (s *S3Source) Size() int64 { return s.size }

// ReadAt reads up to len(p) bytes at offset off via a ranged GetObject.
func (s *S3Source) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= s.size {
		return 0, io.EOF
	}
	if max := s.size - off; int64(len(p)) > max {
		p = p[:max]
	}

	rng := fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(rng),
	})
	if err != nil {
		return 0, fmt.Errorf("get object %s/%s %s: %w", s.bucket, s.key, rng, err)
	}
	defer func() { _ = out.Body.Close() }()

	n, err := io.ReadFull(out.Body, p)
	if n > 0 {
		return n, nil
	}
	if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, io.EOF
	}
	return 0, fmt.Errorf("read object body %s/%s: %w", s.bucket, s.key, err)
}

// ReconnectAt probes the object again. S3 is stateless per request, so a
// successful HeadObject is all a reconnect needs.
func (s *S3Source) ReconnectAt(ctx context.Context, off int64) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return fmt.Errorf("reconnect head %s/%s at %d: %w", s.bucket, s.key, off, err)
	}
	return nil
}
