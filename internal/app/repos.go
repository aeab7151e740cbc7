package app

import (
	"gorm.io/gorm"

	"github.com/schoolhub/schoolhub-backend/internal/data/repos"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
)

type Repos struct {
	Document repos.DocumentRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Document: repos.NewDocumentRepo(db, log),
	}
}
