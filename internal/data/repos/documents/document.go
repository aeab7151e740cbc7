package documents

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/schoolhub/schoolhub-backend/internal/domain"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/dbctx"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
)

// ErrNotRetryable is returned by OverwriteForRetry when the target row is no
// longer in the failed state, i.e. a concurrent request already re-ingested it.
var ErrNotRetryable = errors.New("document is not in a retryable state")

type ListFilter struct {
	Status   string
	Category string
	Page     int
	PageSize int
}

type DocumentRepo interface {
	Create(dbc dbctx.Context, doc *domain.Document) (*domain.Document, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Document, error)
	GetByRemoteID(dbc dbctx.Context, remoteID string) (*domain.Document, error)
	FindByFingerprint(dbc dbctx.Context, tenantID, schoolID uuid.UUID, fingerprint string) (*domain.Document, error)
	OverwriteForRetry(dbc dbctx.Context, doc *domain.Document) (*domain.Document, error)
	SetRemoteID(dbc dbctx.Context, id uuid.UUID, remoteID string) error
	Transition(dbc dbctx.Context, id uuid.UUID, newStatus string, vectorIDs []string, failureReason string) (*domain.Document, bool, error)
	ListByScope(dbc dbctx.Context, tenantID, schoolID uuid.UUID, filter ListFilter) ([]*domain.Document, int64, error)
	ListProcessingBefore(dbc dbctx.Context, cutoff time.Time) ([]*domain.Document, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	repoLog := baseLog.With("repo", "DocumentRepo")
	return &documentRepo{db: db, log: repoLog}
}

func (r *documentRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx.WithContext(dbc.Ctx)
	}
	return r.db.WithContext(dbc.Ctx)
}

func (r *documentRepo) Create(dbc dbctx.Context, doc *domain.Document) (*domain.Document, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if len(doc.VectorIDs) == 0 {
		doc.VectorIDs = datatypes.JSON([]byte("[]"))
	}
	if len(doc.Metadata) == 0 {
		doc.Metadata = datatypes.JSON([]byte("{}"))
	}
	if err := r.conn(dbc).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *documentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Document, error) {
	var doc domain.Document
	if err := r.conn(dbc).Where("id = ?", id).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) GetByRemoteID(dbc dbctx.Context, remoteID string) (*domain.Document, error) {
	var doc domain.Document
	if err := r.conn(dbc).Where("remote_id = ?", remoteID).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) FindByFingerprint(dbc dbctx.Context, tenantID, schoolID uuid.UUID, fingerprint string) (*domain.Document, error) {
	var doc domain.Document
	err := r.conn(dbc).
		Where("tenant_id = ? AND school_id = ? AND fingerprint = ?", tenantID, schoolID, fingerprint).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// OverwriteForRetry reuses a failed row for a fresh submission instead of
// inserting a second row for the same fingerprint. The status guard keeps a
// racing retry from stomping on a row that is already processing again.
func (r *documentRepo) OverwriteForRetry(dbc dbctx.Context, doc *domain.Document) (*domain.Document, error) {
	if len(doc.Metadata) == 0 {
		doc.Metadata = datatypes.JSON([]byte("{}"))
	}
	res := r.conn(dbc).Model(&domain.Document{}).
		Where("id = ? AND status = ?", doc.ID, domain.DocumentStatusFailed).
		Updates(map[string]interface{}{
			"file_name":      doc.FileName,
			"original_name":  doc.OriginalName,
			"mime_type":      doc.MimeType,
			"size_bytes":     doc.SizeBytes,
			"storage_key":    doc.StorageKey,
			"file_url":       doc.FileURL,
			"category":       doc.Category,
			"metadata":       doc.Metadata,
			"uploaded_by":    doc.UploadedBy,
			"status":         domain.DocumentStatusProcessing,
			"remote_id":      nil,
			"vector_ids":     datatypes.JSON([]byte("[]")),
			"failure_reason": "",
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotRetryable
	}
	return r.GetByID(dbc, doc.ID)
}

func (r *documentRepo) SetRemoteID(dbc dbctx.Context, id uuid.UUID, remoteID string) error {
	return r.conn(dbc).Model(&domain.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"remote_id":  remoteID,
			"updated_at": time.Now(),
		}).Error
}

// Transition moves a processing document to a terminal state. Calling it on
// an already-terminal document is a no-op: the current row is returned and
// the changed flag is false. Both completion paths rely on this.
func (r *documentRepo) Transition(dbc dbctx.Context, id uuid.UUID, newStatus string, vectorIDs []string, failureReason string) (*domain.Document, bool, error) {
	if !domain.IsTerminalStatus(newStatus) {
		return nil, false, gorm.ErrInvalidValue
	}

	if vectorIDs == nil {
		vectorIDs = []string{}
	}
	raw, err := json.Marshal(vectorIDs)
	if err != nil {
		return nil, false, err
	}

	res := r.conn(dbc).Model(&domain.Document{}).
		Where("id = ? AND status = ?", id, domain.DocumentStatusProcessing).
		Updates(map[string]interface{}{
			"status":         newStatus,
			"vector_ids":     datatypes.JSON(raw),
			"failure_reason": failureReason,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}

	doc, err := r.GetByID(dbc, id)
	if err != nil {
		return nil, false, err
	}
	return doc, res.RowsAffected > 0, nil
}

func (r *documentRepo) ListByScope(dbc dbctx.Context, tenantID, schoolID uuid.UUID, filter ListFilter) ([]*domain.Document, int64, error) {
	q := r.conn(dbc).Model(&domain.Document{}).
		Where("tenant_id = ? AND school_id = ?", tenantID, schoolID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var results []*domain.Document
	if err := q.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&results).Error; err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// ListProcessingBefore returns processing documents submitted at or before
// cutoff. Rows without a remote id are excluded: there is nothing to poll.
func (r *documentRepo) ListProcessingBefore(dbc dbctx.Context, cutoff time.Time) ([]*domain.Document, error) {
	var results []*domain.Document
	if err := r.conn(dbc).
		Where("status = ? AND remote_id IS NOT NULL AND updated_at <= ?", domain.DocumentStatusProcessing, cutoff).
		Order("updated_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
