package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

// S3Source implements an asset source using Amazon S3 or compatible services.
// It supports both public read-only access and authenticated write access, so
// a device fleet can fetch configuration anonymously while the publisher
// uploads with credentials.
type S3Source struct {
	client         *s3.S3
	writeClient    *s3.S3
	bucketName     string
	prefix         string
	log            *slog.Logger
	locationURI    string
	hasWriteAccess bool
}

// NewS3Source creates a new S3 asset source.
// If accessKey and secretKey are provided, the source will have write access.
// Otherwise, it will be read-only for publicly accessible objects.
func NewS3Source(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Source, error) {
	// Format the URI for tracking
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	// Configure base AWS SDK for read-only public access
	baseCfg := aws.Config{
		Region: aws.String(region),
	}

	if endpoint != "" {
		baseCfg.Endpoint = aws.String(endpoint)
		baseCfg.S3ForcePathStyle = aws.Bool(true)
	}

	// Create AWS session for read operations (no credentials required for public buckets)
	baseSess, err := session.NewSession(&baseCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	readClient := s3.New(baseSess)

	// Check if we have write credentials
	hasWriteAccess := accessKey != "" && secretKey != ""
	var writeClient *s3.S3

	if hasWriteAccess {
		// Configure AWS SDK with credentials for write access
		writeCfg := baseCfg.Copy()
		writeCfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")

		writeSess, err := session.NewSession(writeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS write session: %w", err)
		}

		writeClient = s3.New(writeSess)
	} else {
		// No write credentials provided, use the read client for both
		writeClient = readClient
	}

	return &S3Source{
		client:         readClient,
		writeClient:    writeClient,
		bucketName:     bucketName,
		prefix:         strings.TrimSuffix(prefix, "/"),
		log:            log,
		locationURI:    uri,
		hasWriteAccess: hasWriteAccess,
	}, nil
}

// Fetch retrieves the named asset from S3.
// Returns ErrAssetNotFound if the object doesn't exist.
func (b *S3Source) Fetch(ctx context.Context, name interfaces.AssetName) ([]byte, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	key := b.objectKey(name)

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})

	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			b.log.Debug("Asset not found in S3",
				slog.String("name", name.String()),
				slog.String("bucket", b.bucketName),
				slog.String("key", key),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrAssetNotFound
		}

		b.log.Error("Failed to get object from S3",
			slog.String("name", name.String()),
			slog.String("bucket", b.bucketName),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		b.log.Error("Failed to read object body",
			slog.String("name", name.String()),
			slog.String("bucket", b.bucketName),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	b.log.Debug("Fetched asset from S3",
		slog.String("name", name.String()),
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Store uploads the named asset to S3 using the write client.
func (b *S3Source) Store(ctx context.Context, name interfaces.AssetName, data []byte) error {
	if err := name.Validate(); err != nil {
		return err
	}

	key := b.objectKey(name)

	_, err := b.writeClient.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(name)),
	})
	if err != nil {
		if !b.hasWriteAccess {
			return fmt.Errorf("failed to upload object to S3 (no write credentials provided): %w", err)
		}
		return fmt.Errorf("failed to upload object to S3: %w", err)
	}

	b.log.Debug("Stored asset in S3",
		slog.String("name", name.String()),
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Int("size", len(data)))

	return nil
}

// Available checks if the S3 source is accessible by attempting to head the bucket.
func (b *S3Source) Available(ctx context.Context) bool {
	start := time.Now()

	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})

	if err != nil {
		b.log.Warn("S3 source unavailable",
			slog.String("bucket", b.bucketName),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return false
	}

	return true
}

// Name returns a unique identifier for this asset source.
func (b *S3Source) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this asset source.
func (b *S3Source) LocationURI() string {
	return b.locationURI
}

// objectKey generates an S3 object key for a named asset.
func (b *S3Source) objectKey(name interfaces.AssetName) string {
	if b.prefix == "" {
		return name.String()
	}

	return path.Join(b.prefix, name.String())
}

// contentTypeFor picks the upload content type from the asset name extension.
func contentTypeFor(name interfaces.AssetName) string {
	switch path.Ext(name.String()) {
	case ".json":
		return "application/json"
	case ".sig":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
