package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/Valleeh/podcleaner/internal/config"
)

// S3Store keeps objects in an S3-compatible bucket. MinIO and other
// self-hosted endpoints are reached through EndpointURL with path-style
// addressing.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store connects to the bucket, creating it when the head request
// reports it missing.
func NewS3Store(ctx context.Context, cfg config.ObjectStorage) (*S3Store, error) {
	var awsCfg aws.Config
	var err error

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err = awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	store := &S3Store{client: client, bucket: cfg.BucketName}

	headCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeout)*time.Second)
	defer cancel()
	_, err = client.HeadBucket(headCtx, &s3.HeadBucketInput{Bucket: aws.String(cfg.BucketName)})
	if err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("access bucket %s: %w", cfg.BucketName, err)
		}
		if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(cfg.BucketName)}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.BucketName, err)
		}
		slog.Info("bucket created", "bucket", cfg.BucketName)
	}

	slog.Info("s3 storage initialized", "bucket", cfg.BucketName, "endpoint", cfg.EndpointURL)
	return store, nil
}

func isNotFound(err error) bool {
	var noBucket *types.NoSuchBucket
	var noKey *types.NoSuchKey
	if errors.As(err, &noBucket) || errors.As(err, &noKey) {
		return true
	}
	// HeadObject and HeadBucket surface bare 404s without a modeled type.
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchBucket")
}

// Upload stores the reader's content and returns an s3:// location.
func (s *S3Store) Upload(ctx context.Context, src io.Reader, key string) (string, error) {
	key = cleanKey(key)
	// PutObject needs a seekable body for signing; buffer the stream.
	data, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	slog.Debug("object uploaded", "key", key, "size", len(data))
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Download returns the object's content.
func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	key = cleanKey(key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("download %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return data, nil
}

// DownloadTo streams the object into a local file.
func (s *S3Store) DownloadTo(ctx context.Context, key, dest string) error {
	key = cleanKey(key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("download %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("download %s: %w", key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("download %s to %s: %w", key, dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("download %s to %s: %w", key, dest, err)
	}
	return nil
}

// Exists heads the object.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	key = cleanKey(key)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// List pages through the bucket under prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	prefix = cleanKey(prefix)
	var objects []ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

// Delete removes the object. S3 deletes are idempotent, so a missing key is
// reported via a preceding head.
func (s *S3Store) Delete(ctx context.Context, key string) (bool, error) {
	key = cleanKey(key)
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	slog.Debug("object deleted", "key", key)
	return true, nil
}

// PublicURL presigns a GET valid for ttl.
func (s *S3Store) PublicURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	key = cleanKey(key)
	presign := s3.NewPresignClient(s.client)
	req, err := presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}
