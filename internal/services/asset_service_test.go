package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/kalamkaar/api/internal/domain"
	"github.com/kalamkaar/api/internal/repositories"
)

type stubAssetRepository struct {
	uploadFunc   func(ctx context.Context, record repositories.SignedUploadRecord) (domain.SignedAssetResponse, error)
	downloadFunc func(ctx context.Context, record repositories.SignedDownloadRecord) (domain.SignedAssetResponse, error)
}

func (s *stubAssetRepository) CreateSignedUpload(ctx context.Context, record repositories.SignedUploadRecord) (domain.SignedAssetResponse, error) {
	if s.uploadFunc == nil {
		return domain.SignedAssetResponse{AssetID: "asset-1", URL: "https://storage.example.com/upload", Method: "PUT"}, nil
	}
	return s.uploadFunc(ctx, record)
}

func (s *stubAssetRepository) CreateSignedDownload(ctx context.Context, record repositories.SignedDownloadRecord) (domain.SignedAssetResponse, error) {
	if s.downloadFunc == nil {
		return domain.SignedAssetResponse{AssetID: record.AssetID, URL: "https://storage.example.com/download", Method: "GET"}, nil
	}
	return s.downloadFunc(ctx, record)
}

func (s *stubAssetRepository) MarkUploaded(ctx context.Context, assetID string, actorID string, metadata map[string]any) error {
	return nil
}

func newTestAssetService(t *testing.T, repo repositories.AssetRepository) AssetService {
	t.Helper()
	svc, err := NewAssetService(AssetServiceDeps{
		Repository: repo,
		Clock:      func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewAssetService: %v", err)
	}
	return svc
}

func TestAssetServiceIssueSignedUpload(t *testing.T) {
	var got repositories.SignedUploadRecord
	repo := &stubAssetRepository{
		uploadFunc: func(ctx context.Context, record repositories.SignedUploadRecord) (domain.SignedAssetResponse, error) {
			got = record
			return domain.SignedAssetResponse{AssetID: "asset-1", URL: "https://storage.example.com/upload", Method: "PUT"}, nil
		},
	}
	svc := newTestAssetService(t, repo)

	resp, err := svc.IssueSignedUpload(context.Background(), SignedUploadCommand{
		ActorID:     "user-1",
		Kind:        "JPG",
		Purpose:     "customization-photo",
		FileName:    "family.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   2 * 1024 * 1024,
	})
	if err != nil {
		t.Fatalf("IssueSignedUpload: %v", err)
	}
	if resp.AssetID != "asset-1" {
		t.Fatalf("unexpected asset id %q", resp.AssetID)
	}
	if got.Kind != "jpg" || got.Purpose != "customization-photo" {
		t.Fatalf("expected normalized record, got %+v", got)
	}
}

func TestAssetServiceUploadValidation(t *testing.T) {
	svc := newTestAssetService(t, &stubAssetRepository{})

	cases := []struct {
		name string
		cmd  SignedUploadCommand
	}{
		{"missing actor", SignedUploadCommand{Kind: "jpg", Purpose: "artwork", ContentType: "image/jpeg", SizeBytes: 10}},
		{"unknown kind", SignedUploadCommand{ActorID: "u", Kind: "exe", Purpose: "artwork", ContentType: "application/octet-stream", SizeBytes: 10}},
		{"unknown purpose", SignedUploadCommand{ActorID: "u", Kind: "jpg", Purpose: "malware", ContentType: "image/jpeg", SizeBytes: 10}},
		{"wrong content type", SignedUploadCommand{ActorID: "u", Kind: "jpg", Purpose: "artwork", ContentType: "application/pdf", SizeBytes: 10}},
		{"zero size", SignedUploadCommand{ActorID: "u", Kind: "jpg", Purpose: "artwork", ContentType: "image/jpeg"}},
		{"oversize", SignedUploadCommand{ActorID: "u", Kind: "pdf", Purpose: "receipt", ContentType: "application/pdf", SizeBytes: 11 * 1024 * 1024}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.IssueSignedUpload(context.Background(), tc.cmd); !errors.Is(err, ErrAssetInvalidInput) {
				t.Fatalf("expected ErrAssetInvalidInput, got %v", err)
			}
		})
	}
}

func TestAssetServiceDownloadNotReady(t *testing.T) {
	repo := &stubAssetRepository{
		downloadFunc: func(ctx context.Context, record repositories.SignedDownloadRecord) (domain.SignedAssetResponse, error) {
			return domain.SignedAssetResponse{}, repositories.ErrAssetNotReady
		},
	}
	svc := newTestAssetService(t, repo)

	if _, err := svc.IssueSignedDownload(context.Background(), SignedDownloadCommand{ActorID: "user-1", AssetID: "asset-1"}); !errors.Is(err, ErrAssetUnavailable) {
		t.Fatalf("expected ErrAssetUnavailable, got %v", err)
	}
}

func TestAssetServiceDownloadNotFound(t *testing.T) {
	repo := &stubAssetRepository{
		downloadFunc: func(ctx context.Context, record repositories.SignedDownloadRecord) (domain.SignedAssetResponse, error) {
			return domain.SignedAssetResponse{}, errStubNotFound
		},
	}
	svc := newTestAssetService(t, repo)

	if _, err := svc.IssueSignedDownload(context.Background(), SignedDownloadCommand{ActorID: "user-1", AssetID: "asset-404"}); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}
