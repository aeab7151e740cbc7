package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/schoolhub/schoolhub-backend/internal/data/repos/documents"
	"github.com/schoolhub/schoolhub-backend/internal/domain"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/apierr"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/dbctx"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
	"github.com/schoolhub/schoolhub-backend/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubIngestion struct {
	result *services.UploadResult
	err    error
	calls  int
	lastIn services.UploadInput
}

func (s *stubIngestion) Upload(_ context.Context, in services.UploadInput) (*services.UploadResult, error) {
	s.calls++
	s.lastIn = in
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubReconciler struct {
	doc     *domain.Document
	changed bool
	err     error
	report  services.SweepReport
}

func (s *stubReconciler) ApplyRemoteStatus(context.Context, string, string, []string, string) (*domain.Document, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	return s.doc, s.changed, nil
}

func (s *stubReconciler) SweepOnce(context.Context) (services.SweepReport, error) {
	return s.report, s.err
}

// stubDocs serves GetByID only; the other registry methods are unused by the
// handlers under test here.
type stubDocs struct {
	doc *domain.Document
	err error
}

func (s *stubDocs) Create(dbctx.Context, *domain.Document) (*domain.Document, error) {
	return nil, nil
}

func (s *stubDocs) GetByID(dbctx.Context, uuid.UUID) (*domain.Document, error) {
	return s.doc, s.err
}

func (s *stubDocs) GetByRemoteID(dbctx.Context, string) (*domain.Document, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubDocs) FindByFingerprint(dbctx.Context, uuid.UUID, uuid.UUID, string) (*domain.Document, error) {
	return nil, nil
}

func (s *stubDocs) OverwriteForRetry(dbctx.Context, *domain.Document) (*domain.Document, error) {
	return nil, documents.ErrNotRetryable
}

func (s *stubDocs) SetRemoteID(dbctx.Context, uuid.UUID, string) error { return nil }

func (s *stubDocs) Transition(dbctx.Context, uuid.UUID, string, []string, string) (*domain.Document, bool, error) {
	return nil, false, nil
}

func (s *stubDocs) ListByScope(dbctx.Context, uuid.UUID, uuid.UUID, documents.ListFilter) ([]*domain.Document, int64, error) {
	return nil, 0, nil
}

func (s *stubDocs) ListProcessingBefore(dbctx.Context, time.Time) ([]*domain.Document, error) {
	return nil, nil
}

type noopCache struct{}

func (noopCache) GetListPage(context.Context, uuid.UUID, uuid.UUID, string, any) bool { return false }
func (noopCache) SetListPage(context.Context, uuid.UUID, uuid.UUID, string, any)      {}
func (noopCache) Invalidate(context.Context, uuid.UUID, uuid.UUID)                    {}

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func newHandler(t *testing.T, ing services.IngestionService, rec services.ReconcilerService) *DocumentHandler {
	t.Helper()
	return NewDocumentHandler(testLog(t), ing, rec, nil, noopCache{}, 0)
}

func multipartUpload(t *testing.T, fields map[string]string, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if fileName != "" {
		fw, err := w.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, w.FormDataContentType()
}

func TestUploadHandlerAccepted(t *testing.T) {
	doc := &domain.Document{ID: uuid.New(), Status: domain.DocumentStatusProcessing}
	ing := &stubIngestion{result: &services.UploadResult{Document: doc}}
	h := newHandler(t, ing, &stubReconciler{})

	tenant := uuid.New()
	school := uuid.New()
	body, contentType := multipartUpload(t, map[string]string{"category": "syllabus"}, "syllabus.pdf", []byte("%PDF-1.4 test"))

	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Tenant-Id", tenant.String())
	req.Header.Set("X-School-Id", school.String())

	rr := httptest.NewRecorder()
	r := gin.New()
	r.POST("/api/documents", h.Upload)
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	if ing.calls != 1 {
		t.Fatalf("ingestion calls = %d, want 1", ing.calls)
	}
	if ing.lastIn.TenantID != tenant || ing.lastIn.SchoolID != school {
		t.Fatal("scope not forwarded to the ingestion service")
	}
	if ing.lastIn.FileName != "syllabus.pdf" || ing.lastIn.Category != "syllabus" {
		t.Fatalf("input = %+v", ing.lastIn)
	}
}

func TestUploadHandlerDuplicateReturns200(t *testing.T) {
	doc := &domain.Document{ID: uuid.New(), Status: domain.DocumentStatusProcessing}
	ing := &stubIngestion{result: &services.UploadResult{Document: doc, Duplicate: true}}
	h := newHandler(t, ing, &stubReconciler{})

	body, contentType := multipartUpload(t, nil, "a.pdf", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Tenant-Id", uuid.New().String())
	req.Header.Set("X-School-Id", uuid.New().String())

	rr := httptest.NewRecorder()
	r := gin.New()
	r.POST("/api/documents", h.Upload)
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for duplicates", rr.Code)
	}
	var resp struct {
		Duplicate bool `json:"duplicate"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Duplicate {
		t.Fatal("duplicate flag missing from response")
	}
}

func TestUploadHandlerRejectsBadScope(t *testing.T) {
	ing := &stubIngestion{}
	h := newHandler(t, ing, &stubReconciler{})

	body, contentType := multipartUpload(t, nil, "a.pdf", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Tenant-Id", "not-a-uuid")

	rr := httptest.NewRecorder()
	r := gin.New()
	r.POST("/api/documents", h.Upload)
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if ing.calls != 0 {
		t.Fatal("ingestion must not run with an invalid scope")
	}
}

func TestUploadHandlerMapsUpstreamError(t *testing.T) {
	ing := &stubIngestion{err: apierr.Upstream("indexing_submit_failed", nil)}
	h := newHandler(t, ing, &stubReconciler{})

	body, contentType := multipartUpload(t, nil, "a.pdf", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Tenant-Id", uuid.New().String())
	req.Header.Set("X-School-Id", uuid.New().String())

	rr := httptest.NewRecorder()
	r := gin.New()
	r.POST("/api/documents", h.Upload)
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Code != "indexing_submit_failed" {
		t.Fatalf("code = %q", env.Error.Code)
	}
}

func TestWebhookHandler(t *testing.T) {
	doc := &domain.Document{ID: uuid.New(), Status: domain.DocumentStatusIndexed}
	rec := &stubReconciler{doc: doc, changed: true}
	h := newHandler(t, &stubIngestion{}, rec)

	payload := `{"document_id":"rag-1","status":"completed","vector_ids":["v1"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/documents/webhook", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	r := gin.New()
	r.POST("/api/documents/webhook", h.Webhook)
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Status  string `json:"status"`
		Changed bool   `json:"changed"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != domain.DocumentStatusIndexed || !resp.Changed {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestWebhookHandlerUnknownDocument(t *testing.T) {
	rec := &stubReconciler{err: apierr.NotFound("unknown_remote_document", nil)}
	h := newHandler(t, &stubIngestion{}, rec)

	payload := `{"document_id":"rag-x","status":"completed"}`
	req := httptest.NewRequest(http.MethodPost, "/api/documents/webhook", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	r := gin.New()
	r.POST("/api/documents/webhook", h.Webhook)
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestGetHandlerStatusMapping(t *testing.T) {
	tenant := uuid.New()
	school := uuid.New()
	doc := &domain.Document{ID: uuid.New(), TenantID: tenant, SchoolID: school}

	cases := []struct {
		name   string
		docs   *stubDocs
		tenant uuid.UUID
		want   int
	}{
		{"found", &stubDocs{doc: doc}, tenant, http.StatusOK},
		{"missing row", &stubDocs{err: gorm.ErrRecordNotFound}, tenant, http.StatusNotFound},
		{"database failure", &stubDocs{err: errors.New("connection reset")}, tenant, http.StatusInternalServerError},
		{"wrong scope", &stubDocs{doc: doc}, uuid.New(), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewDocumentHandler(testLog(t), &stubIngestion{}, &stubReconciler{}, tc.docs, noopCache{}, 0)

			req := httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID.String(), nil)
			req.Header.Set("X-Tenant-Id", tc.tenant.String())
			req.Header.Set("X-School-Id", school.String())

			rr := httptest.NewRecorder()
			r := gin.New()
			r.GET("/api/documents/:id", h.Get)
			r.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestSyncHandlerReturnsReport(t *testing.T) {
	rec := &stubReconciler{report: services.SweepReport{Checked: 3, Indexed: 2, Skipped: 1}}
	h := newHandler(t, &stubIngestion{}, rec)

	req := httptest.NewRequest(http.MethodPost, "/api/documents/sync", nil)
	rr := httptest.NewRecorder()
	r := gin.New()
	r.POST("/api/documents/sync", h.Sync)
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var report services.SweepReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Checked != 3 || report.Indexed != 2 || report.Skipped != 1 {
		t.Fatalf("report = %+v", report)
	}
}
