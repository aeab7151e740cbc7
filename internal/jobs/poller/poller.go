package poller

import (
	"context"
	"time"

	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
	"github.com/schoolhub/schoolhub-backend/internal/services"
)

// Poller runs the reconciliation sweep on a fixed interval. It is the backup
// completion path: webhooks usually land first, and the sweep catches
// whatever they missed.
type Poller struct {
	log        *logger.Logger
	reconciler services.ReconcilerService
	interval   time.Duration
}

func NewPoller(baseLog *logger.Logger, reconciler services.ReconcilerService, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		log:        baseLog.With("component", "DocumentPoller"),
		reconciler: reconciler,
		interval:   interval,
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.log.Info("Starting document status poller", "interval", p.interval.String())
	go p.runLoop(ctx)
}

func (p *Poller) runLoop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Poller loop stopped")
			return
		case <-ticker.C:
			report, err := p.reconciler.SweepOnce(ctx)
			if err != nil {
				p.log.Warn("Reconciliation sweep failed", "error", err)
				continue
			}
			if report.Checked > 0 {
				p.log.Info("Reconciliation sweep completed",
					"checked", report.Checked,
					"indexed", report.Indexed,
					"failed", report.Failed,
					"skipped", report.Skipped,
				)
			}
		}
	}
}
