package ragserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
)

// Client talks to the external knowledge-retrieval service that performs
// vector indexing. Submission is asynchronous: the service answers with a
// document id and later reports completion through a callback or through
// GetStatus.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
	GetStatus(ctx context.Context, remoteID string) (*StatusResponse, error)
}

type Config struct {
	BaseURL     string
	APIKey      string
	CallbackURL string
	Timeout     time.Duration
}

type client struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("missing RAG base URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &client{
		log:  log.With("client", "RagServerClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type SubmitRequest struct {
	TenantID    string         `json:"tenant_id"`
	SchoolID    string         `json:"school_id"`
	FileName    string         `json:"file_name"`
	FileURL     string         `json:"file_url"`
	StorageKey  string         `json:"storage_key"`
	MimeType    string         `json:"mime_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
}

type SubmitResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

type StatusResponse struct {
	DocumentID string   `json:"document_id"`
	Status     string   `json:"status"`
	VectorIDs  []string `json:"vector_ids,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func (c *client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if req.CallbackURL == "" {
		req.CallbackURL = c.cfg.CallbackURL
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/documents"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rag submit: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rag submit http %d: %s", resp.StatusCode, string(raw))
	}

	var out SubmitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("rag submit decode: %w", err)
	}
	if strings.TrimSpace(out.DocumentID) == "" {
		return nil, fmt.Errorf("rag submit returned empty document_id")
	}
	return &out, nil
}

func (c *client) GetStatus(ctx context.Context, remoteID string) (*StatusResponse, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return nil, fmt.Errorf("remoteID required")
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/documents/" + remoteID + "/status"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rag status: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rag status http %d: %s", resp.StatusCode, string(raw))
	}

	var out StatusResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("rag status decode: %w", err)
	}
	return &out, nil
}

func (c *client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}
