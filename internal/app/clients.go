package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/schoolhub/schoolhub-backend/internal/clients/gcp"
	"github.com/schoolhub/schoolhub-backend/internal/clients/ragserver"
	"github.com/schoolhub/schoolhub-backend/internal/clients/redis"
	"github.com/schoolhub/schoolhub-backend/internal/pkg/logger"
	"github.com/schoolhub/schoolhub-backend/internal/utils"
)

type Clients struct {
	GcpBucket gcp.BucketService
	RagServer ragserver.Client
	DocCache  redis.DocumentCache
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	// Redis is optional; without it the cache layer degrades to no-ops.
	var cache redis.DocumentCache
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		c, err := redis.NewDocumentCache(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis document cache: %w", err)
		}
		cache = c
	}

	bucket, err := gcp.NewBucketService(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init bucket client: %w", err)
	}

	rag, err := ragserver.New(log, ragserver.Config{
		BaseURL:     utils.GetEnv("RAG_BASE_URL", "", log),
		APIKey:      utils.GetEnv("RAG_API_KEY", "", log),
		CallbackURL: utils.GetEnv("RAG_CALLBACK_URL", "", log),
		Timeout:     cfg.SubmitTimeout,
	})
	if err != nil {
		return Clients{}, fmt.Errorf("init rag client: %w", err)
	}

	return Clients{
		GcpBucket: bucket,
		RagServer: rag,
		DocCache:  cache,
	}, nil
}

func (c Clients) Close() {
	if c.DocCache != nil {
		_ = c.DocCache.Close()
	}
}
