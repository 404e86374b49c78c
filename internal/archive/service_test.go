package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oversight-labs/auditpipe/internal/audit"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, input)
	return &s3.PutObjectOutput{}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4PresignedRequest, error) {
	return &v4PresignedRequest{URL: "https://archive.example.com/" + *input.Key + "?sig=abc"}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore(t *testing.T) *audit.InMemoryStore {
	t.Helper()
	store := audit.NewInMemoryStore()
	for i := 0; i < 3; i++ {
		_, err := store.Append(context.Background(), &audit.Event{
			EventType:  "login",
			UserID:     "user-1",
			EntityType: "session",
			Timestamp:  time.Date(2026, 3, 10, 10, i, 0, 0, time.UTC),
			TenantID:   "tenant-1",
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return store
}

func testService(store audit.EventStore, putter objectPutter) *Service {
	return &Service{
		store:     store,
		s3Client:  putter,
		presigner: fakePresigner{},
		bucket:    "audit-archives",
		urlExpiry: 15 * time.Minute,
		logger:    discardLogger(),
		timeNow:   func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) },
	}
}

func TestNewService_Validation(t *testing.T) {
	store := audit.NewInMemoryStore()
	valid := ServiceConfig{
		BucketName:      "audit-archives",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Endpoint:        "https://r2.example.com",
	}

	if _, err := NewService(store, valid, nil); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ServiceConfig)
	}{
		{"missing bucket", func(c *ServiceConfig) { c.BucketName = "" }},
		{"missing access key", func(c *ServiceConfig) { c.AccessKeyID = "" }},
		{"missing secret", func(c *ServiceConfig) { c.SecretAccessKey = "" }},
		{"missing endpoint", func(c *ServiceConfig) { c.Endpoint = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewService(store, cfg, nil); err == nil {
				t.Error("expected config error")
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	key, err := ObjectKey("tenant-1", audit.ExportFormatCSV, now)
	if err != nil {
		t.Fatalf("ObjectKey: %v", err)
	}
	if !strings.HasPrefix(key, "archives/tenant-1/2026-03-15/") {
		t.Errorf("key = %q, want archives/tenant-1/2026-03-15/ prefix", key)
	}
	if !strings.HasSuffix(key, ".csv") {
		t.Errorf("key = %q, want .csv suffix", key)
	}

	// Path traversal characters are stripped
	key, err = ObjectKey("../etc/passwd", audit.ExportFormatJSON, now)
	if err != nil {
		t.Fatalf("ObjectKey: %v", err)
	}
	if strings.Contains(key, "..") || strings.Contains(key, "/etc/") {
		t.Errorf("key %q leaks path characters", key)
	}

	// A tenant ID with nothing salvageable is rejected
	if _, err := ObjectKey("../../", audit.ExportFormatCSV, now); !errors.Is(err, ErrInvalidTenantID) {
		t.Errorf("error = %v, want ErrInvalidTenantID", err)
	}
}

func TestExport_UploadsSerializedEvents(t *testing.T) {
	putter := &fakePutter{}
	svc := testService(seededStore(t), putter)

	res, err := svc.Export(context.Background(), audit.ExportOptions{
		Format:   audit.ExportFormatCSV,
		TenantID: "tenant-1",
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if len(putter.inputs) != 1 {
		t.Fatalf("PutObject called %d times, want 1", len(putter.inputs))
	}
	input := putter.inputs[0]
	if *input.Bucket != "audit-archives" {
		t.Errorf("bucket = %q", *input.Bucket)
	}
	if *input.ContentType != "text/csv" {
		t.Errorf("content type = %q, want text/csv", *input.ContentType)
	}
	if res.Key != *input.Key {
		t.Errorf("result key %q != uploaded key %q", res.Key, *input.Key)
	}
	if res.SizeBytes == 0 {
		t.Error("SizeBytes should reflect the uploaded payload")
	}

	body, err := io.ReadAll(input.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "login") {
		t.Error("uploaded CSV should contain the exported events")
	}
}

func TestExport_Errors(t *testing.T) {
	t.Run("invalid tenant", func(t *testing.T) {
		svc := testService(seededStore(t), &fakePutter{})
		_, err := svc.Export(context.Background(), audit.ExportOptions{Format: audit.ExportFormatCSV})
		if err == nil {
			t.Error("expected error for missing tenant")
		}
	})

	t.Run("upload failure", func(t *testing.T) {
		svc := testService(seededStore(t), &fakePutter{err: errors.New("bucket gone")})
		_, err := svc.Export(context.Background(), audit.ExportOptions{
			Format:   audit.ExportFormatJSON,
			TenantID: "tenant-1",
		})
		if err == nil || !strings.Contains(err.Error(), "upload archive") {
			t.Errorf("error = %v, want upload archive wrap", err)
		}
	})
}

func TestSignedDownloadURL(t *testing.T) {
	svc := testService(seededStore(t), &fakePutter{})

	link, err := svc.SignedDownloadURL(context.Background(), "archives/tenant-1/2026-03-15/x.csv")
	if err != nil {
		t.Fatalf("SignedDownloadURL: %v", err)
	}
	if !strings.Contains(link.URL, "archives/tenant-1/2026-03-15/x.csv") {
		t.Errorf("URL = %q", link.URL)
	}
	want := time.Date(2026, 3, 15, 12, 15, 0, 0, time.UTC)
	if !link.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", link.ExpiresAt, want)
	}
}
