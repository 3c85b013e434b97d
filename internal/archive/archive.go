// Package archive keeps a copy of every uploaded provisioning file.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"chatflow-access-api/internal/http/client"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	keyPrefix     = "batch-uploads"
	uploadTimeout = 30 * time.Second
)

var tracer = otel.Tracer("chatflow-access-api/archive")

// Store saves an uploaded file and returns the object key it was stored under.
type Store interface {
	Save(ctx context.Context, actorID, filename string, body []byte) (string, error)
}

// Config selects the S3 bucket. An empty Bucket disables archiving.
type Config struct {
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION"`
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	PathStyle bool   `env:"PATH_STYLE"`
}

// Enabled reports whether an archive bucket is configured.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// objectPutter is the part of *s3.Client the archive uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store archives files to an S3 compatible bucket.
type S3Store struct {
	client objectPutter
	bucket string
	now    func() time.Time
}

// New returns an S3Store when cfg is enabled, otherwise a Noop.
func New(ctx context.Context, cfg Config) (Store, error) {
	if !cfg.Enabled() {
		return Noop{}, nil
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(client.NewOutboundClient(uploadTimeout)),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return newS3Store(s3Client, cfg.Bucket), nil
}

func newS3Store(c objectPutter, bucket string) *S3Store {
	return &S3Store{client: c, bucket: bucket, now: time.Now}
}

// ObjectKey builds batch-uploads/YYYY/MM/DD/<id>.csv for the given time.
func ObjectKey(at time.Time, id uuid.UUID) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s.csv", keyPrefix, at.Year(), int(at.Month()), at.Day(), id)
}

// Save uploads body under a fresh date-partitioned key.
func (s *S3Store) Save(ctx context.Context, actorID, filename string, body []byte) (string, error) {
	key := ObjectKey(s.now(), uuid.New())

	ctx, span := tracer.Start(ctx, "archive.Save",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.String("s3.key", key),
			attribute.Int("content.size", len(body)),
		),
	)
	defer span.End()

	sum := sha256.Sum256(body)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
		Metadata: map[string]string{
			"checksum-sha256":   hex.EncodeToString(sum[:]),
			"uploaded-by":       actorID,
			"original-filename": filename,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "put object failed")
		return "", fmt.Errorf("put archive object: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return key, nil
}

// Noop discards files.
type Noop struct{}

// Save returns an empty key.
func (Noop) Save(context.Context, string, string, []byte) (string, error) {
	return "", nil
}
