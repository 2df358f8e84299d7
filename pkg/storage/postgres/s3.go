package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/ewers-io/ewers/pkg/storage"
	"github.com/ewers-io/ewers/pkg/webhooks"
)

// Archiver ships webhook delivery logs to S3 for long-term retention.
// The in-process delivery log store keeps only a bounded recent window;
// the archive holds everything.
type Archiver struct {
	client *s3.Client
	bucket string
}

// NewArchiver creates an S3-backed delivery log archiver
func NewArchiver(cfg storage.Config) (*Archiver, error) {
	ctx := context.Background()

	var awsCfg aws.Config
	var err error
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		// Static credentials, for MinIO or AWS with explicit keys
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain: IAM roles, env vars, etc.
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Archiver{client: client, bucket: cfg.S3Bucket}, nil
}

// NewArchiverWithClient wraps an existing S3 client. Used in tests.
func NewArchiverWithClient(client *s3.Client, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket}
}

// ArchiveDeliveryLogs writes a batch of delivery logs as a single JSON
// object keyed by date and a batch ID.
func (a *Archiver) ArchiveDeliveryLogs(ctx context.Context, logs []*webhooks.DeliveryLog) error {
	if len(logs) == 0 {
		return nil
	}

	data, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("failed to serialize delivery logs: %w", err)
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("delivery-logs/%s/%s.json", now.Format("2006/01/02"), uuid.NewString())

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"log-count": fmt.Sprintf("%d", len(logs)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive delivery logs: %w", err)
	}
	return nil
}

// HealthCheck verifies the archive bucket is reachable
func (a *Archiver) HealthCheck(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}
