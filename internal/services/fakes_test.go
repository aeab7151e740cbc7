package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/schoolhub/schoolhub-backend/internal/clients/ragserver"
	"github.com/schoolhub/schoolhub-backend/internal/data/repos/documents"
	"github.com/schoolhub/schoolhub-backend/internal/domain"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/dbctx"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
)

func testLogger(tb interface{ Fatalf(string, ...any) }) *logger.Logger {
	log, err := logger.New("test")
	if err != nil {
		tb.Fatalf("init logger: %v", err)
	}
	return log
}

// fakeDocumentRepo mirrors the registry semantics in memory: fingerprint
// uniqueness, retry overwrite guard, idempotent terminal transition.
type fakeDocumentRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*domain.Document
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{docs: map[uuid.UUID]*domain.Document{}}
}

func copyDoc(d *domain.Document) *domain.Document {
	cp := *d
	return &cp
}

func (f *fakeDocumentRepo) Create(_ dbctx.Context, doc *domain.Document) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.TenantID == doc.TenantID && d.SchoolID == doc.SchoolID && d.Fingerprint == doc.Fingerprint {
			return nil, gorm.ErrDuplicatedKey
		}
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if len(doc.VectorIDs) == 0 {
		doc.VectorIDs = datatypes.JSON([]byte("[]"))
	}
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = time.Now()
	f.docs[doc.ID] = copyDoc(doc)
	return copyDoc(doc), nil
}

func (f *fakeDocumentRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return copyDoc(d), nil
}

func (f *fakeDocumentRepo) GetByRemoteID(_ dbctx.Context, remoteID string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.RemoteID != nil && *d.RemoteID == remoteID {
			return copyDoc(d), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeDocumentRepo) FindByFingerprint(_ dbctx.Context, tenantID, schoolID uuid.UUID, fingerprint string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.TenantID == tenantID && d.SchoolID == schoolID && d.Fingerprint == fingerprint {
			return copyDoc(d), nil
		}
	}
	return nil, nil
}

func (f *fakeDocumentRepo) OverwriteForRetry(_ dbctx.Context, doc *domain.Document) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[doc.ID]
	if !ok || d.Status != domain.DocumentStatusFailed {
		return nil, documents.ErrNotRetryable
	}
	d.FileName = doc.FileName
	d.OriginalName = doc.OriginalName
	d.MimeType = doc.MimeType
	d.SizeBytes = doc.SizeBytes
	d.StorageKey = doc.StorageKey
	d.FileURL = doc.FileURL
	d.Category = doc.Category
	d.Metadata = doc.Metadata
	d.UploadedBy = doc.UploadedBy
	d.Status = domain.DocumentStatusProcessing
	d.RemoteID = nil
	d.VectorIDs = datatypes.JSON([]byte("[]"))
	d.FailureReason = ""
	d.UpdatedAt = time.Now()
	return copyDoc(d), nil
}

func (f *fakeDocumentRepo) SetRemoteID(_ dbctx.Context, id uuid.UUID, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	d.RemoteID = &remoteID
	d.UpdatedAt = time.Now()
	return nil
}

func (f *fakeDocumentRepo) Transition(_ dbctx.Context, id uuid.UUID, newStatus string, vectorIDs []string, failureReason string) (*domain.Document, bool, error) {
	if !domain.IsTerminalStatus(newStatus) {
		return nil, false, gorm.ErrInvalidValue
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, false, gorm.ErrRecordNotFound
	}
	if d.Status != domain.DocumentStatusProcessing {
		return copyDoc(d), false, nil
	}
	if vectorIDs == nil {
		vectorIDs = []string{}
	}
	raw, err := json.Marshal(vectorIDs)
	if err != nil {
		return nil, false, err
	}
	d.Status = newStatus
	d.VectorIDs = datatypes.JSON(raw)
	d.FailureReason = failureReason
	d.UpdatedAt = time.Now()
	return copyDoc(d), true, nil
}

func (f *fakeDocumentRepo) ListByScope(_ dbctx.Context, tenantID, schoolID uuid.UUID, filter documents.ListFilter) ([]*domain.Document, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Document
	for _, d := range f.docs {
		if d.TenantID != tenantID || d.SchoolID != schoolID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.Category != "" && d.Category != filter.Category {
			continue
		}
		out = append(out, copyDoc(d))
	}
	return out, int64(len(out)), nil
}

func (f *fakeDocumentRepo) ListProcessingBefore(_ dbctx.Context, cutoff time.Time) ([]*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Document
	for _, d := range f.docs {
		if d.Status == domain.DocumentStatusProcessing && d.RemoteID != nil && !d.UpdatedAt.After(cutoff) {
			out = append(out, copyDoc(d))
		}
	}
	return out, nil
}

// backdate makes a stored document old enough for the sweep to pick up.
func (f *fakeDocumentRepo) backdate(id uuid.UUID, age time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.docs[id]; ok {
		d.UpdatedAt = time.Now().Add(-age)
	}
}

type fakeBucket struct {
	mu      sync.Mutex
	uploads []string
	err     error
}

func (f *fakeBucket) UploadFile(_ context.Context, key string, _ io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.uploads = append(f.uploads, key)
	return nil
}

func (f *fakeBucket) DeleteFile(context.Context, string) error { return nil }

func (f *fakeBucket) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}

func (f *fakeBucket) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

type fakeRAG struct {
	mu        sync.Mutex
	submits   int
	submitErr error
	nextID    string
	statuses  map[string]*ragserver.StatusResponse
	statusErr map[string]error
}

func newFakeRAG() *fakeRAG {
	return &fakeRAG{
		nextID:    "rag-abc",
		statuses:  map[string]*ragserver.StatusResponse{},
		statusErr: map[string]error{},
	}
}

func (f *fakeRAG) Submit(_ context.Context, req ragserver.SubmitRequest) (*ragserver.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &ragserver.SubmitResponse{DocumentID: f.nextID, Status: "processing"}, nil
}

func (f *fakeRAG) GetStatus(_ context.Context, remoteID string) (*ragserver.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.statusErr[remoteID]; ok {
		return nil, err
	}
	if st, ok := f.statuses[remoteID]; ok {
		return st, nil
	}
	return nil, fmt.Errorf("no status configured for %s", remoteID)
}

func (f *fakeRAG) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type fakeCache struct {
	mu            sync.Mutex
	invalidations []string
}

func (f *fakeCache) GetListPage(context.Context, uuid.UUID, uuid.UUID, string, any) bool { return false }

func (f *fakeCache) SetListPage(context.Context, uuid.UUID, uuid.UUID, string, any) {}

func (f *fakeCache) Invalidate(_ context.Context, tenantID, schoolID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidations = append(f.invalidations, tenantID.String()+"/"+schoolID.String())
}

func (f *fakeCache) invalidationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invalidations)
}

var errUpstreamDown = errors.New("connection refused")

func dbcBg() dbctx.Context {
	return dbctx.Context{Ctx: context.Background()}
}
