package app

import (
	"github.com/schoolhub/schoolhub-backend/internal/jobs/poller"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
	"github.com/schoolhub/schoolhub-backend/internal/services"
)

type Services struct {
	Cache      services.CacheService
	Ingestion  services.IngestionService
	Reconciler services.ReconcilerService
	Poller     *poller.Poller
}

func wireServices(log *logger.Logger, cfg Config, reposet Repos, clients Clients) Services {
	log.Info("Wiring services...")

	cache := services.NewCacheService(log, clients.DocCache, cfg.CacheTTL)

	ingestion := services.NewIngestionService(
		log,
		reposet.Document,
		clients.GcpBucket,
		clients.RagServer,
		cache,
		cfg.MaxUploadBytes,
		cfg.SubmitTimeout,
	)

	reconciler := services.NewReconcilerService(
		log,
		reposet.Document,
		clients.RagServer,
		cache,
		services.ReconcilerConfig{
			MinAge:      cfg.SyncMinAge,
			Concurrency: cfg.SyncConcurrency,
		},
	)

	return Services{
		Cache:      cache,
		Ingestion:  ingestion,
		Reconciler: reconciler,
		Poller:     poller.NewPoller(log, reconciler, cfg.SyncInterval),
	}
}
