package app

import (
	"github.com/schoolhub/schoolhub-backend/internal/http/handlers"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
)

type Handlers struct {
	Health   *handlers.HealthHandler
	Document *handlers.DocumentHandler
}

func wireHandlers(log *logger.Logger, cfg Config, reposet Repos, serviceset Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health: handlers.NewHealthHandler(),
		Document: handlers.NewDocumentHandler(
			log,
			serviceset.Ingestion,
			serviceset.Reconciler,
			reposet.Document,
			serviceset.Cache,
			cfg.MaxUploadBytes,
		),
	}
}
