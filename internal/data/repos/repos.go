package repos

import (
	"gorm.io/gorm"

	"github.com/schoolhub/schoolhub-backend/internal/data/repos/documents"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
)

type DocumentRepo = documents.DocumentRepo
type DocumentListFilter = documents.ListFilter

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return documents.NewDocumentRepo(db, baseLog)
}
