package db

import (
	"testing"

	"github.com/google/uuid"

	"github.com/schoolhub/schoolhub-backend/internal/domain"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
)

// The sqlite driver rejects function-call column defaults, so the schema has
// to migrate cleanly without them on both drivers.
func TestSqliteMigrateAndRoundTrip(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", t.TempDir()+"/schoolhub.db")

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}

	svc, err := New(log)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := svc.AutoMigrateAll(); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	tenant := uuid.New()
	school := uuid.New()
	doc := &domain.Document{
		ID:           uuid.New(),
		TenantID:     tenant,
		SchoolID:     school,
		FileName:     "syllabus.pdf",
		OriginalName: "Syllabus.pdf",
		SizeBytes:    1024,
		StorageKey:   "documents/x",
		Status:       domain.DocumentStatusProcessing,
		Fingerprint:  domain.ComputeFingerprint(tenant, school, "Syllabus.pdf", 1024),
	}
	if err := svc.DB().Create(doc).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	var got domain.Document
	if err := svc.DB().First(&got, "id = ?", doc.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.DocumentStatusProcessing {
		t.Fatalf("status = %s, want processing", got.Status)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("timestamps should be populated without database defaults")
	}
}
