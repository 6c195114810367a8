package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/roboleague/collab/files"
	"github.com/roboleague/collab/metrics"
)

const defaultPresignTTL = 15 * time.Minute

// S3Config configures archive uploads to S3 or an S3-compatible store.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // empty for AWS
	AccessKey string // empty for the default credential chain
	SecretKey string
	Prefix    string
	// PresignTTL is how long returned download links stay valid.
	PresignTTL time.Duration
}

// S3Sink uploads workspace archives and hands out presigned download links.
type S3Sink struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	ttl     time.Duration
	now     func() time.Time
}

func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket cannot be empty")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	slog.Info("S3 export sink initialized", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
	return &S3Sink{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Key returns the object key for an archive of teamID taken at t.
func (s *S3Sink) Key(teamID string, t time.Time) string {
	return s.prefix + strings.TrimSuffix(ArchiveName(teamID), ".zip") + "/" + t.UTC().Format("20060102T150405Z") + ".zip"
}

// Upload stores an archive of records and returns a presigned download URL.
func (s *S3Sink) Upload(ctx context.Context, teamID string, records []files.Record) (string, error) {
	url, err := s.upload(ctx, teamID, records)
	metrics.RecordExport("s3", err == nil)
	return url, err
}

func (s *S3Sink) upload(ctx context.Context, teamID string, records []files.Record) (string, error) {
	var buf bytes.Buffer
	if err := WriteArchive(&buf, records); err != nil {
		return "", err
	}

	key := s.Key(teamID, s.now())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String("application/zip"),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}

	slog.Info("workspace archive uploaded", "teamId", teamID, "key", key, "bytes", buf.Len())
	return req.URL, nil
}
