package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/schoolhub/schoolhub-backend/internal/clients/ragserver"
	"github.com/schoolhub/schoolhub-backend/internal/data/repos"
	"github.com/schoolhub/schoolhub-backend/internal/domain"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/apierr"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/dbctx"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
)

type SweepReport struct {
	Checked int `json:"checked"`
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// ReconcilerService drives processing documents to a terminal state. The
// webhook handler and the poll sweep both funnel into the same transition,
// so either path may fire first, or both, in any order.
type ReconcilerService interface {
	ApplyRemoteStatus(ctx context.Context, remoteID, remoteStatus string, vectorIDs []string, failureReason string) (*domain.Document, bool, error)
	SweepOnce(ctx context.Context) (SweepReport, error)
}

type ReconcilerConfig struct {
	// MinAge keeps the sweep from polling submissions that have not had
	// time to complete.
	MinAge      time.Duration
	Concurrency int
	PerRecord   time.Duration
}

type reconcilerService struct {
	log   *logger.Logger
	docs  repos.DocumentRepo
	rag   ragserver.Client
	cache CacheService
	cfg   ReconcilerConfig
}

func NewReconcilerService(
	baseLog *logger.Logger,
	docs repos.DocumentRepo,
	rag ragserver.Client,
	cache CacheService,
	cfg ReconcilerConfig,
) ReconcilerService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if cfg.PerRecord <= 0 {
		cfg.PerRecord = 15 * time.Second
	}
	return &reconcilerService{
		log:   baseLog.With("service", "ReconcilerService"),
		docs:  docs,
		rag:   rag,
		cache: cache,
		cfg:   cfg,
	}
}

// MapRemoteStatus translates an indexing-service status into a local
// terminal state. The second return is false for non-terminal statuses.
func MapRemoteStatus(remoteStatus string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(remoteStatus)) {
	case "completed", "complete", "succeeded", "success", "indexed", "done":
		return domain.DocumentStatusIndexed, true
	case "failed", "error":
		return domain.DocumentStatusFailed, true
	default:
		return "", false
	}
}

func (s *reconcilerService) ApplyRemoteStatus(ctx context.Context, remoteID, remoteStatus string, vectorIDs []string, failureReason string) (*domain.Document, bool, error) {
	if strings.TrimSpace(remoteID) == "" {
		return nil, false, apierr.Validation("missing_document_id", nil)
	}
	if strings.TrimSpace(remoteStatus) == "" {
		return nil, false, apierr.Validation("missing_status", nil)
	}

	dbc := dbctx.Context{Ctx: ctx}
	doc, err := s.docs.GetByRemoteID(dbc, remoteID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Possibly cross-environment noise or a record this instance never
		// created; benign for the remote caller.
		return nil, false, apierr.NotFound("unknown_remote_document", err)
	}
	if err != nil {
		return nil, false, err
	}

	terminal, ok := MapRemoteStatus(remoteStatus)
	if !ok {
		s.log.Debug("ignoring non-terminal remote status",
			"document_id", doc.ID,
			"remote_id", remoteID,
			"remote_status", remoteStatus,
		)
		return doc, false, nil
	}

	changed, doc, err := s.apply(dbc, doc, terminal, vectorIDs, failureReason)
	if err != nil {
		return nil, false, err
	}
	return doc, changed, nil
}

// apply is the single transition point shared by the webhook and poll paths.
func (s *reconcilerService) apply(dbc dbctx.Context, doc *domain.Document, terminal string, vectorIDs []string, failureReason string) (bool, *domain.Document, error) {
	updated, changed, err := s.docs.Transition(dbc, doc.ID, terminal, vectorIDs, failureReason)
	if err != nil {
		return false, nil, err
	}
	if changed {
		s.log.Info("document reconciled",
			"document_id", updated.ID,
			"status", updated.Status,
			"vector_count", len(vectorIDs),
		)
		s.cache.Invalidate(dbc.Ctx, updated.TenantID, updated.SchoolID)
	} else {
		s.log.Debug("transition was a no-op, document already terminal",
			"document_id", updated.ID,
			"status", updated.Status,
		)
	}
	return changed, updated, nil
}

// SweepOnce polls the indexing service for every processing document old
// enough to be worth checking. One record's failure never stops the rest.
func (s *reconcilerService) SweepOnce(ctx context.Context) (SweepReport, error) {
	dbc := dbctx.Context{Ctx: ctx}
	cutoff := time.Now().Add(-s.cfg.MinAge)

	pending, err := s.docs.ListProcessingBefore(dbc, cutoff)
	if err != nil {
		return SweepReport{}, err
	}
	if len(pending) == 0 {
		return SweepReport{}, nil
	}

	var (
		mu     sync.Mutex
		report = SweepReport{Checked: len(pending)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, doc := range pending {
		doc := doc
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, s.cfg.PerRecord)
			defer cancel()

			status, err := s.rag.GetStatus(rctx, *doc.RemoteID)
			if err != nil {
				s.log.Warn("status lookup failed, leaving document in processing",
					"document_id", doc.ID,
					"remote_id", *doc.RemoteID,
					"error", err,
				)
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				return nil
			}

			terminal, ok := MapRemoteStatus(status.Status)
			if !ok {
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				return nil
			}

			changed, _, err := s.apply(dbctx.Context{Ctx: gctx}, doc, terminal, status.VectorIDs, status.Error)
			if err != nil {
				s.log.Warn("transition failed during sweep",
					"document_id", doc.ID,
					"error", err,
				)
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			if !changed {
				report.Skipped++
			} else if terminal == domain.DocumentStatusIndexed {
				report.Indexed++
			} else {
				report.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("reconciliation sweep finished",
		"checked", report.Checked,
		"indexed", report.Indexed,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report, nil
}
