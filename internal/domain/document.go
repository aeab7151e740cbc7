package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Document lifecycle states. Processing is the only non-terminal state;
// the reconciler is the sole writer of the terminal transitions.
const (
	DocumentStatusProcessing = "processing"
	DocumentStatusIndexed    = "indexed"
	DocumentStatusFailed     = "failed"
)

func IsTerminalStatus(status string) bool {
	return status == DocumentStatusIndexed || status == DocumentStatusFailed
}

// Document is the registry record for one ingested file, scoped to a
// (tenant, school) pair. Rows are hard-deleted by administrative actions
// only; the ingestion pipeline itself never deletes.
type Document struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index:idx_document_scope;uniqueIndex:ux_document_scope_fingerprint" json:"tenant_id"`
	SchoolID uuid.UUID `gorm:"type:uuid;not null;index:idx_document_scope;uniqueIndex:ux_document_scope_fingerprint" json:"school_id"`

	FileName     string `gorm:"column:file_name;not null" json:"file_name"`
	OriginalName string `gorm:"column:original_name;not null" json:"original_name"`
	MimeType     string `gorm:"column:mime_type" json:"mime_type"`
	SizeBytes    int64  `gorm:"column:size_bytes" json:"size_bytes"`

	StorageKey string `gorm:"column:storage_key;not null" json:"storage_key"`
	FileURL    string `gorm:"column:file_url" json:"file_url"`

	// RemoteID is assigned by the indexing service; nil until registration
	// succeeds.
	RemoteID *string `gorm:"column:remote_id;index" json:"remote_id,omitempty"`

	Status    string         `gorm:"column:status;not null;default:'processing';index" json:"status"`
	VectorIDs datatypes.JSON `gorm:"column:vector_ids;type:jsonb" json:"vector_ids"`

	Fingerprint string `gorm:"column:fingerprint;not null;uniqueIndex:ux_document_scope_fingerprint" json:"fingerprint"`

	Category string         `gorm:"column:category;index" json:"category,omitempty"`
	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`

	UploadedBy uuid.UUID `gorm:"type:uuid;column:uploaded_by" json:"uploaded_by"`

	FailureReason string `gorm:"column:failure_reason" json:"failure_reason,omitempty"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Document) TableName() string { return "document" }
