// Package archive exports audit events to object storage for long-term
// retention and generates signed download URLs for completed archives.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/oversight-labs/auditpipe/internal/audit"
)

// Validation errors
var (
	ErrInvalidTenantID = errors.New("invalid tenant ID")
	ErrEmptyExport     = errors.New("export produced no data")
)

// contentTypes maps export formats to the stored object's MIME type.
var contentTypes = map[audit.ExportFormat]string{
	audit.ExportFormatCSV:  "text/csv",
	audit.ExportFormatJSON: "application/json",
}

// objectPutter is the S3 surface the service needs for uploads.
// Satisfied by *s3.Client; tests substitute a fake.
type objectPutter interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// urlPresigner is the presign surface for download links.
type urlPresigner interface {
	PresignGetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4PresignedRequest, error)
}

// v4PresignedRequest mirrors the fields of the SDK's presigned request
// that the service consumes.
type v4PresignedRequest struct {
	URL string
}

// Result describes one completed archive upload.
type Result struct {
	Key       string    `json:"key"`        // Object key in the archive bucket
	SizeBytes int64     `json:"size_bytes"` // Size of the stored object
	Format    string    `json:"format"`     // Export format
	CreatedAt time.Time `json:"created_at"`
}

// DownloadLink is a time-limited signed URL for a stored archive.
type DownloadLink struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service archives audit event exports to S3-compatible object storage.
type Service struct {
	store     audit.EventStore
	s3Client  objectPutter
	presigner urlPresigner
	bucket    string
	urlExpiry time.Duration
	logger    *slog.Logger
	timeNow   func() time.Time // For testability
}

// ServiceConfig holds configuration for the archive service.
type ServiceConfig struct {
	BucketName       string
	AccessKeyID      string
	SecretAccessKey  string
	Endpoint         string
	URLExpiryMinutes int // Default: 15 minutes
}

// NewService creates an archive service with an R2-compatible S3 client.
func NewService(store audit.EventStore, cfg ServiceConfig, logger *slog.Logger) (*Service, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.URLExpiryMinutes <= 0 {
		cfg.URLExpiryMinutes = 15
	}

	// R2-compatible S3 configuration: auto region, path-style addressing.
	client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:     store,
		s3Client:  client,
		presigner: sdkPresigner{s3.NewPresignClient(client)},
		bucket:    cfg.BucketName,
		urlExpiry: time.Duration(cfg.URLExpiryMinutes) * time.Minute,
		logger:    logger,
		timeNow:   time.Now,
	}, nil
}

// sdkPresigner adapts the SDK presign client to urlPresigner.
type sdkPresigner struct {
	client *s3.PresignClient
}

func (p sdkPresigner) PresignGetObject(ctx context.Context, input *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4PresignedRequest, error) {
	req, err := p.client.PresignGetObject(ctx, input, optFns...)
	if err != nil {
		return nil, err
	}
	return &v4PresignedRequest{URL: req.URL}, nil
}

// ObjectKey builds the archive object key for a tenant export.
// Pattern: archives/{tenant}/{date}/uuid.{ext}
func ObjectKey(tenantID string, format audit.ExportFormat, now time.Time) (string, error) {
	sanitized := sanitizePathComponent(tenantID)
	if sanitized == "" {
		return "", ErrInvalidTenantID
	}
	return fmt.Sprintf("archives/%s/%s/%s.%s",
		sanitized,
		now.UTC().Format("2006-01-02"),
		uuid.New().String(),
		format), nil
}

// sanitizePathComponent removes potentially dangerous characters from path components.
func sanitizePathComponent(s string) string {
	// Only allow alphanumeric, hyphens, and underscores
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Export serializes a tenant's events and uploads the result to the
// archive bucket.
func (s *Service) Export(ctx context.Context, opts audit.ExportOptions) (*Result, error) {
	data, err := audit.ExportEvents(ctx, s.store, opts)
	if err != nil {
		return nil, fmt.Errorf("export events: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyExport
	}

	now := s.timeNow()
	key, err := ObjectKey(opts.TenantID, opts.Format, now)
	if err != nil {
		return nil, err
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentTypes[opts.Format]),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("upload archive: %w", err)
	}

	s.logger.Info("audit archive uploaded",
		"tenant_id", opts.TenantID,
		"key", key,
		"bytes", len(data),
		"format", opts.Format)

	return &Result{
		Key:       key,
		SizeBytes: int64(len(data)),
		Format:    string(opts.Format),
		CreatedAt: now,
	}, nil
}

// SignedDownloadURL generates a pre-signed GET URL for a stored archive.
func (s *Service) SignedDownloadURL(ctx context.Context, key string) (*DownloadLink, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlExpiry
	})
	if err != nil {
		return nil, fmt.Errorf("failed to presign request: %w", err)
	}

	return &DownloadLink{
		URL:       req.URL,
		Key:       key,
		ExpiresAt: s.timeNow().Add(s.urlExpiry),
	}, nil
}
