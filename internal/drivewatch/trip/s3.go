package trip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/drivewatch/pkg/log"
	"github.com/autopeer-io/drivewatch/pkg/options"
)

var _ Recorder = (*S3Archive)(nil)

// S3Archive uploads trip summaries as JSON objects.
type S3Archive struct {
	client     *minio.Client
	bucketName string
	region     string
}

// NewS3Archive creates an archive backed by any S3-compatible store.
func NewS3Archive(opts *options.S3Options) (*S3Archive, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &S3Archive{
		client:     client,
		bucketName: opts.BucketName,
		region:     opts.Region,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (a *S3Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating...", "bucket", a.bucketName)
		if err := a.client.MakeBucket(ctx, a.bucketName, minio.MakeBucketOptions{Region: a.region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// Record uploads the summary under ObjectKey.
func (a *S3Archive) Record(ctx context.Context, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode trip summary: %w", err)
	}

	key := ObjectKey(s)
	_, err = a.client.PutObject(ctx, a.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload trip summary %s: %w", key, err)
	}

	log.Info("Archived trip summary", "bucket", a.bucketName, "key", key)
	return nil
}
