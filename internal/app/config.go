package app

import (
	"time"

	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
	"github.com/schoolhub/schoolhub-backend/internal/utils"
)

type Config struct {
	Port string

	MaxUploadBytes int64
	SubmitTimeout  time.Duration

	SyncInterval    time.Duration
	SyncMinAge      time.Duration
	SyncConcurrency int

	CacheTTL time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	port := utils.GetEnv("PORT", "8080", log)
	maxUploadMB := utils.GetEnvAsInt64("DOC_MAX_UPLOAD_MB", 25, log)
	submitTimeoutSeconds := utils.GetEnvAsInt("RAG_TIMEOUT_SECONDS", 30, log)
	syncIntervalSeconds := utils.GetEnvAsInt("DOC_SYNC_INTERVAL_SECONDS", 60, log)
	syncMinAgeSeconds := utils.GetEnvAsInt("DOC_SYNC_MIN_AGE_SECONDS", 120, log)
	syncConcurrency := utils.GetEnvAsInt("DOC_SYNC_CONCURRENCY", 4, log)
	cacheTTLSeconds := utils.GetEnvAsInt("DOC_CACHE_TTL_SECONDS", 30, log)

	return Config{
		Port:            port,
		MaxUploadBytes:  maxUploadMB << 20,
		SubmitTimeout:   time.Duration(submitTimeoutSeconds) * time.Second,
		SyncInterval:    time.Duration(syncIntervalSeconds) * time.Second,
		SyncMinAge:      time.Duration(syncMinAgeSeconds) * time.Second,
		SyncConcurrency: syncConcurrency,
		CacheTTL:        time.Duration(cacheTTLSeconds) * time.Second,
	}
}
