package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("unwatch/storage")

// Sentinel errors for storage operations
var (
	// ErrObjectNotFound indicates the requested object does not exist
	ErrObjectNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions for the operation
	ErrAccessDenied = errors.New("access denied")

	// ErrNetworkError indicates a network connectivity issue
	ErrNetworkError = errors.New("network error")
)

// XLSXContentType is the media type of exported workbooks.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
}

// Enabled reports whether enough is configured to connect.
func (c S3Config) Enabled() bool {
	return c.Endpoint != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

// S3Storage stores exported workbooks in S3/MinIO
type S3Storage struct {
	client *minio.Client
	bucket string
}

// NewS3Storage creates a new S3/MinIO storage client
func NewS3Storage(config S3Config) (*S3Storage, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	// Bucket must be created out-of-band
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, config.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist: create it before starting the server", config.BucketName)
	}

	return &S3Storage{
		client: client,
		bucket: config.BucketName,
	}, nil
}

// ExportKey is the object key of a user's export. Keys sort by time within
// a user's prefix.
// Key format: exports/{user_id}/{yyyy-mm-dd}/{name}.xlsx
func ExportKey(userID int64, day time.Time, name string) string {
	return fmt.Sprintf("exports/%d/%s/%s.xlsx", userID, day.UTC().Format(time.DateOnly), name)
}

// Upload stores data under key
func (s *S3Storage) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, span := tracer.Start(ctx, "storage.upload",
		trace.WithAttributes(
			attribute.String("storage.key", key),
			attribute.Int("file.size", len(data)),
		))
	defer span.End()

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return classifyStorageError(err, "upload")
	}
	return nil
}

// Download retrieves a file from S3/MinIO
func (s *S3Storage) Download(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "storage.download",
		trace.WithAttributes(attribute.String("storage.key", key)))
	defer span.End()

	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyStorageError(err, "download")
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classifyStorageError(err, "download")
	}

	span.SetAttributes(attribute.Int("file.size", len(data)))
	return data, nil
}

// PresignedURL returns a time-limited download link for key. The link
// names the file filename when saved.
func (s *S3Storage) PresignedURL(ctx context.Context, key, filename string, expiry time.Duration) (string, error) {
	ctx, span := tracer.Start(ctx, "storage.presign",
		trace.WithAttributes(attribute.String("storage.key", key)))
	defer span.End()

	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", classifyStorageError(err, "presign")
	}
	return u.String(), nil
}

// ListExports returns the keys of a user's exports, oldest first.
func (s *S3Storage) ListExports(ctx context.Context, userID int64) ([]string, error) {
	ctx, span := tracer.Start(ctx, "storage.list_exports",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	var keys []string
	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    fmt.Sprintf("exports/%d/", userID),
		Recursive: true,
	})
	for obj := range objectCh {
		if obj.Err != nil {
			span.RecordError(obj.Err)
			span.SetStatus(codes.Error, obj.Err.Error())
			return nil, classifyStorageError(obj.Err, "list exports")
		}
		keys = append(keys, obj.Key)
	}

	span.SetAttributes(attribute.Int("exports.count", len(keys)))
	return keys, nil
}

// Delete removes a file from S3/MinIO
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "storage.delete",
		trace.WithAttributes(attribute.String("storage.key", key)))
	defer span.End()

	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// classifyStorageError examines a storage error and returns an appropriate sentinel error
func classifyStorageError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		switch minioErr.Code {
		case "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("%s: %w", operation, ErrObjectNotFound)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%s: %w", operation, ErrAccessDenied)
		}
	}

	if containsAny(err.Error(), "connection", "timeout", "network", "dial", "refused") {
		return fmt.Errorf("%s network issue: %w", operation, ErrNetworkError)
	}

	return fmt.Errorf("%s failed: %w", operation, err)
}

func containsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
