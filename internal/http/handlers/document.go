package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/schoolhub/schoolhub-backend/internal/data/repos"
	"github.com/schoolhub/schoolhub-backend/internal/domain"
	"github.com/schoolhub/schoolhub-backend/internal/http/response"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/dbctx"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
	"github.com/schoolhub/schoolhub-backend/internal/services"
)

type DocumentHandler struct {
	log        *logger.Logger
	ingestion  services.IngestionService
	reconciler services.ReconcilerService
	docs       repos.DocumentRepo
	cache      services.CacheService
	maxBytes   int64
}

func NewDocumentHandler(
	log *logger.Logger,
	ingestion services.IngestionService,
	reconciler services.ReconcilerService,
	docs repos.DocumentRepo,
	cache services.CacheService,
	maxBytes int64,
) *DocumentHandler {
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	return &DocumentHandler{
		log:        log.With("handler", "DocumentHandler"),
		ingestion:  ingestion,
		reconciler: reconciler,
		docs:       docs,
		cache:      cache,
		maxBytes:   maxBytes,
	}
}

// scopeFromRequest pulls the tenant/school pair from headers, falling back to
// form or query values. Both are required on every document route.
func scopeFromRequest(c *gin.Context) (uuid.UUID, uuid.UUID, error) {
	rawTenant := strings.TrimSpace(c.GetHeader("X-Tenant-Id"))
	if rawTenant == "" {
		rawTenant = strings.TrimSpace(c.PostForm("tenant_id"))
	}
	if rawTenant == "" {
		rawTenant = strings.TrimSpace(c.Query("tenant_id"))
	}
	rawSchool := strings.TrimSpace(c.GetHeader("X-School-Id"))
	if rawSchool == "" {
		rawSchool = strings.TrimSpace(c.PostForm("school_id"))
	}
	if rawSchool == "" {
		rawSchool = strings.TrimSpace(c.Query("school_id"))
	}
	tenantID, err := uuid.Parse(rawTenant)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid tenant_id %q", rawTenant)
	}
	schoolID, err := uuid.Parse(rawSchool)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid school_id %q", rawSchool)
	}
	return tenantID, schoolID, nil
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	tenantID, schoolID, err := scopeFromRequest(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_scope", err)
		return
	}
	if err := c.Request.ParseMultipartForm(h.maxBytes); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_multipart_form", err)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.log.Error("cannot open uploaded file", "file_name", fh.Filename, "error", err)
		response.RespondError(c, http.StatusBadRequest, "could_not_read_file", err)
		return
	}
	defer f.Close()

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" {
		buf := make([]byte, 512)
		n, _ := f.Read(buf)
		mimeType = http.DetectContentType(buf[:n])
		if _, err := f.Seek(0, 0); err != nil {
			response.RespondError(c, http.StatusBadRequest, "could_not_read_file", err)
			return
		}
	}

	var uploadedBy uuid.UUID
	if raw := strings.TrimSpace(c.PostForm("uploaded_by")); raw != "" {
		uploadedBy, _ = uuid.Parse(raw)
	}

	var metadata map[string]any
	if raw := strings.TrimSpace(c.PostForm("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_metadata", err)
			return
		}
	}

	res, err := h.ingestion.Upload(c.Request.Context(), services.UploadInput{
		TenantID:   tenantID,
		SchoolID:   schoolID,
		UploadedBy: uploadedBy,
		FileName:   fh.Filename,
		MimeType:   mimeType,
		SizeBytes:  fh.Size,
		Category:   strings.TrimSpace(c.PostForm("category")),
		Metadata:   metadata,
		File:       f,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}

	payload := gin.H{
		"document":  res.Document,
		"duplicate": res.Duplicate,
	}
	if res.Duplicate {
		response.RespondOK(c, payload)
		return
	}
	response.RespondAccepted(c, payload)
}

func (h *DocumentHandler) List(c *gin.Context) {
	tenantID, schoolID, err := scopeFromRequest(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_scope", err)
		return
	}

	filter := repos.DocumentListFilter{
		Status:   strings.TrimSpace(c.Query("status")),
		Category: strings.TrimSpace(c.Query("category")),
	}
	if v := c.Query("page"); v != "" {
		filter.Page, _ = strconv.Atoi(v)
	}
	if v := c.Query("page_size"); v != "" {
		filter.PageSize, _ = strconv.Atoi(v)
	}

	type listPage struct {
		Documents []*domain.Document `json:"documents"`
		Total     int64              `json:"total"`
		Page      int                `json:"page"`
		PageSize  int                `json:"page_size"`
	}

	cacheKey := fmt.Sprintf("list:%s:%s:%d:%d", filter.Status, filter.Category, filter.Page, filter.PageSize)
	var page listPage
	if h.cache.GetListPage(c.Request.Context(), tenantID, schoolID, cacheKey, &page) {
		response.RespondOK(c, page)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	docs, total, err := h.docs.ListByScope(dbc, tenantID, schoolID, filter)
	if err != nil {
		h.log.Error("list documents failed", "tenant_id", tenantID, "school_id", schoolID, "error", err)
		response.RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	if docs == nil {
		docs = []*domain.Document{}
	}

	page = listPage{Documents: docs, Total: total, Page: filter.Page, PageSize: filter.PageSize}
	h.cache.SetListPage(c.Request.Context(), tenantID, schoolID, cacheKey, page)
	response.RespondOK(c, page)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	tenantID, schoolID, err := scopeFromRequest(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_scope", err)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	doc, err := h.docs.GetByID(dbc, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		response.RespondError(c, http.StatusNotFound, "document_not_found", nil)
		return
	}
	if err != nil {
		h.log.Error("get document failed", "document_id", id, "error", err)
		response.RespondError(c, http.StatusInternalServerError, "get_failed", err)
		return
	}
	if doc.TenantID != tenantID || doc.SchoolID != schoolID {
		// A record in another scope is invisible, not an error.
		response.RespondError(c, http.StatusNotFound, "document_not_found", nil)
		return
	}
	response.RespondOK(c, doc)
}

type webhookPayload struct {
	DocumentID    string   `json:"document_id"`
	Status        string   `json:"status"`
	VectorIDs     []string `json:"vector_ids"`
	FailureReason string   `json:"error"`
}

// Webhook receives completion callbacks from the indexing service. Replays
// and out-of-order deliveries are expected; the transition underneath is
// idempotent so every delivery gets a 2xx once the document is known.
func (h *DocumentHandler) Webhook(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_payload", err)
		return
	}

	doc, changed, err := h.reconciler.ApplyRemoteStatus(
		c.Request.Context(),
		payload.DocumentID,
		payload.Status,
		payload.VectorIDs,
		payload.FailureReason,
	)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"document_id": doc.ID,
		"status":      doc.Status,
		"changed":     changed,
	})
}

// Sync triggers one reconciliation sweep on demand, the same pass the
// background poller runs on its interval.
func (h *DocumentHandler) Sync(c *gin.Context) {
	report, err := h.reconciler.SweepOnce(c.Request.Context())
	if err != nil {
		h.log.Error("manual sweep failed", "error", err)
		response.RespondError(c, http.StatusInternalServerError, "sweep_failed", err)
		return
	}
	response.RespondOK(c, report)
}
