package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/schoolhub/schoolhub-backend/internal/clients/gcp"
	"github.com/schoolhub/schoolhub-backend/internal/clients/ragserver"
	"github.com/schoolhub/schoolhub-backend/internal/data/repos"
	"github.com/schoolhub/schoolhub-backend/internal/data/repos/documents"
	"github.com/schoolhub/schoolhub-backend/internal/domain"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/apierr"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/dbctx"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
)

type UploadInput struct {
	TenantID   uuid.UUID
	SchoolID   uuid.UUID
	UploadedBy uuid.UUID
	FileName   string
	MimeType   string
	SizeBytes  int64
	Category   string
	Metadata   map[string]any
	File       io.Reader
}

type UploadResult struct {
	Document  *domain.Document
	Duplicate bool
}

// IngestionService is the synchronous entry point for new uploads:
// fingerprint, dedup, blob upload, registry create, remote submission.
// The caller always gets a definite outcome; indexing itself completes
// asynchronously through the reconciler.
type IngestionService interface {
	Upload(ctx context.Context, in UploadInput) (*UploadResult, error)
}

type ingestionService struct {
	log           *logger.Logger
	docs          repos.DocumentRepo
	bucket        gcp.BucketService
	rag           ragserver.Client
	cache         CacheService
	maxBytes      int64
	submitTimeout time.Duration
}

func NewIngestionService(
	baseLog *logger.Logger,
	docs repos.DocumentRepo,
	bucket gcp.BucketService,
	rag ragserver.Client,
	cache CacheService,
	maxBytes int64,
	submitTimeout time.Duration,
) IngestionService {
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	if submitTimeout <= 0 {
		submitTimeout = 30 * time.Second
	}
	return &ingestionService{
		log:           baseLog.With("service", "IngestionService"),
		docs:          docs,
		bucket:        bucket,
		rag:           rag,
		cache:         cache,
		maxBytes:      maxBytes,
		submitTimeout: submitTimeout,
	}
}

func (s *ingestionService) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	dbc := dbctx.Context{Ctx: ctx}
	fingerprint := domain.ComputeFingerprint(in.TenantID, in.SchoolID, in.FileName, in.SizeBytes)
	log := s.log.With(
		"tenant_id", in.TenantID,
		"school_id", in.SchoolID,
		"file_name", in.FileName,
		"fingerprint", fingerprint,
	)

	// Dedup before any storage or remote work.
	existing, err := s.docs.FindByFingerprint(dbc, in.TenantID, in.SchoolID, fingerprint)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != domain.DocumentStatusFailed {
		log.Info("duplicate upload short-circuited", "document_id", existing.ID, "status", existing.Status)
		return &UploadResult{Document: existing, Duplicate: true}, nil
	}

	storageKey := fmt.Sprintf("documents/%s/%s/%s", in.TenantID, in.SchoolID, fingerprint)
	if err := s.bucket.UploadFile(ctx, storageKey, in.File); err != nil {
		log.Error("blob upload failed", "storage_key", storageKey, "error", err)
		return nil, apierr.Upstream("blob_upload_failed", err)
	}

	metadata := datatypes.JSON([]byte("{}"))
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, apierr.Validation("invalid_metadata", err)
		}
		metadata = datatypes.JSON(raw)
	}

	doc := &domain.Document{
		TenantID:     in.TenantID,
		SchoolID:     in.SchoolID,
		FileName:     domain.NormalizeFileName(in.FileName),
		OriginalName: in.FileName,
		MimeType:     in.MimeType,
		SizeBytes:    in.SizeBytes,
		StorageKey:   storageKey,
		FileURL:      s.bucket.GetPublicURL(storageKey),
		Status:       domain.DocumentStatusProcessing,
		Fingerprint:  fingerprint,
		Category:     in.Category,
		Metadata:     metadata,
		UploadedBy:   in.UploadedBy,
	}

	doc, dupResult, err := s.register(dbc, log, doc, existing)
	if err != nil {
		return nil, err
	}
	if dupResult != nil {
		return dupResult, nil
	}

	return s.submit(ctx, dbc, log, doc)
}

func (s *ingestionService) validate(in UploadInput) error {
	if in.TenantID == uuid.Nil || in.SchoolID == uuid.Nil {
		return apierr.Validation("missing_scope", errors.New("tenant_id and school_id are required"))
	}
	if in.FileName == "" {
		return apierr.Validation("missing_file_name", nil)
	}
	if in.File == nil || in.SizeBytes <= 0 {
		return apierr.Validation("empty_file", nil)
	}
	if in.SizeBytes > s.maxBytes {
		return apierr.Validation("file_too_large", fmt.Errorf("file is %d bytes, limit is %d", in.SizeBytes, s.maxBytes))
	}
	return nil
}

// register inserts the record, or reuses the failed row when this upload is
// a retry. A duplicate-key loss against a concurrent upload is resolved by
// returning the winner's record as a duplicate.
func (s *ingestionService) register(dbc dbctx.Context, log *logger.Logger, doc *domain.Document, failedExisting *domain.Document) (*domain.Document, *UploadResult, error) {
	if failedExisting != nil {
		doc.ID = failedExisting.ID
		fresh, err := s.docs.OverwriteForRetry(dbc, doc)
		if err == nil {
			log.Info("retrying previously failed document", "document_id", fresh.ID)
			return fresh, nil, nil
		}
		if !errors.Is(err, documents.ErrNotRetryable) {
			return nil, nil, err
		}
		// A concurrent retry got there first.
	} else {
		created, err := s.docs.Create(dbc, doc)
		if err == nil {
			return created, nil, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, nil, err
		}
	}

	winner, err := s.docs.FindByFingerprint(dbc, doc.TenantID, doc.SchoolID, doc.Fingerprint)
	if err != nil {
		return nil, nil, err
	}
	if winner == nil {
		return nil, nil, apierr.Conflict("concurrent_upload", errors.New("lost create race but no record found"))
	}
	log.Info("lost upload race, returning existing record", "document_id", winner.ID, "status", winner.Status)
	return nil, &UploadResult{Document: winner, Duplicate: true}, nil
}

// submit registers the stored file with the indexing service. A synchronous
// failure marks the record failed immediately so nothing is left in
// processing without a remote id.
func (s *ingestionService) submit(ctx context.Context, dbc dbctx.Context, log *logger.Logger, doc *domain.Document) (*UploadResult, error) {
	var metadata map[string]any
	_ = json.Unmarshal(doc.Metadata, &metadata)

	sctx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()

	resp, err := s.rag.Submit(sctx, ragserver.SubmitRequest{
		TenantID:   doc.TenantID.String(),
		SchoolID:   doc.SchoolID.String(),
		FileName:   doc.FileName,
		FileURL:    doc.FileURL,
		StorageKey: doc.StorageKey,
		MimeType:   doc.MimeType,
		Metadata:   metadata,
	})
	if err != nil {
		log.Error("indexing submission failed", "document_id", doc.ID, "error", err)
		if _, _, tErr := s.docs.Transition(dbc, doc.ID, domain.DocumentStatusFailed, nil, err.Error()); tErr != nil {
			log.Error("failed to mark document as failed after submit error", "document_id", doc.ID, "error", tErr)
		}
		s.cache.Invalidate(ctx, doc.TenantID, doc.SchoolID)
		return nil, apierr.Upstream("indexing_submit_failed", err)
	}

	if err := s.docs.SetRemoteID(dbc, doc.ID, resp.DocumentID); err != nil {
		return nil, err
	}
	remoteID := resp.DocumentID
	doc.RemoteID = &remoteID

	log.Info("document submitted for indexing", "document_id", doc.ID, "remote_id", remoteID)
	return &UploadResult{Document: doc, Duplicate: false}, nil
}
