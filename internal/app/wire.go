package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/jesushzv/cars-trends-tool/internal/analytics"
	"github.com/jesushzv/cars-trends-tool/internal/collector"
	"github.com/jesushzv/cars-trends-tool/internal/config"
	"github.com/jesushzv/cars-trends-tool/internal/database"
	"github.com/jesushzv/cars-trends-tool/internal/ingest"
	"github.com/jesushzv/cars-trends-tool/internal/listing"
	"github.com/jesushzv/cars-trends-tool/internal/lock"
	"github.com/jesushzv/cars-trends-tool/internal/metrics"
	"github.com/jesushzv/cars-trends-tool/internal/repository"
	"github.com/jesushzv/cars-trends-tool/internal/security"
	"github.com/jesushzv/cars-trends-tool/internal/snapshot"
	"github.com/jesushzv/cars-trends-tool/internal/trend"
	"github.com/jesushzv/cars-trends-tool/internal/worker/cleanup"
	"github.com/jesushzv/cars-trends-tool/internal/worker/cycle"
)

// components はサブコマンドが利用する依存関係をまとめたもの。
// closeで保持している接続をすべて閉じる。
type components struct {
	db       *sql.DB
	redis    *redis.Client
	registry *prometheus.Registry

	upserts      *listing.UpsertService
	generator    *snapshot.Generator
	cleanup      *cleanup.CleanupJob
	trends       *trend.Service
	analytics    *analytics.Service
	orchestrator *cycle.Orchestrator
}

// openComponents はDB接続を開き、全依存関係をワイヤリングする。
// REDIS_URLが設定されている場合はスナップショット生成の排他制御にRedisを使用する。
func openComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultOptions())
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("database connection established")

	c := &components{db: db}

	// 2. メトリクス
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(c.registry)

	// 3. リポジトリとエンジン
	listingRepo := repository.NewPostgresListingRepo(db)
	snapshotRepo := repository.NewPostgresSnapshotRepo(db)

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		c.close()
		return nil, err
	}

	c.upserts = listing.NewUpsertService(listingRepo, logger, listing.WithMetrics(recorder))
	c.generator = snapshot.NewGenerator(listingRepo, snapshotRepo, logger, snapshot.Config{
		Platforms: sources.Platforms,
		Location:  cfg.Location,
		Metrics:   recorder,
	})
	c.cleanup = cleanup.NewCleanupJob(listingRepo, snapshotRepo, cfg.Location, logger)
	c.cleanup.ListingRetentionDays = cfg.ListingRetentionDays
	c.cleanup.SnapshotRetentionDays = cfg.SnapshotRetentionDays
	c.cleanup.SetMetrics(recorder)
	c.trends = trend.NewService(snapshotRepo, cfg.Location, logger)
	c.analytics = analytics.NewService(listingRepo, logger)

	// 4. 排他制御
	var locker lock.Locker = lock.NopLocker{}
	if cfg.RedisURL != "" {
		client, err := lock.Connect(ctx, cfg.RedisURL, redisPingTimeout)
		if err != nil {
			c.close()
			return nil, err
		}
		c.redis = client
		locker = lock.NewRedisLocker(client)
		logger.Info("redis lock enabled")
	}

	// 5. コレクターとオーケストレーター
	guard := security.NewFeedGuard()
	feeds := buildCollectors(sources.Feeds, guard, cfg, logger)
	ingestor := ingest.NewIngestor(c.upserts, security.NewTextSanitizer(), logger, ingest.Options{
		Rate:  cfg.IngestRate,
		Burst: cfg.IngestBurst,
	})
	c.orchestrator = cycle.NewOrchestrator(ingestor, feeds, c.generator, c.cleanup, logger, cycle.Config{
		Interval:      cfg.CycleInterval,
		MaxConcurrent: cfg.CollectorMaxConcurrent,
		Locker:        locker,
		LockTTL:       cfg.LockTTL,
		Metrics:       recorder,
	})

	return c, nil
}

// buildCollectors は掲載元定義からフィードコレクターを生成する。
// 内部ネットワークを指すURLは警告を出してスキップする。
func buildCollectors(feeds []config.FeedSource, guard security.FeedGuard, cfg *config.Config, logger *slog.Logger) []ingest.Collector {
	client := guard.SafeClient(cfg.FetchTimeout)

	result := make([]ingest.Collector, 0, len(feeds))
	for _, f := range feeds {
		if err := guard.ValidateURL(f.URL); err != nil {
			logger.Warn("掲載元のURLを拒否しました", "source", f.Name, "url", f.URL, "error", err)
			continue
		}
		result = append(result, collector.NewFeedCollector(collector.FeedSource{
			Name:     f.Name,
			Platform: f.Platform,
			URL:      f.URL,
		}, client, cfg.FetchMaxSize, logger))
	}
	return result
}

// metricsHandler は/metricsで公開するハンドラーを返す。
func (c *components) metricsHandler() http.Handler {
	return metrics.Handler(c.registry)
}

func (c *components) close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	if err := c.db.Close(); err != nil {
		slog.Warn("failed to close database", slog.String("error", err.Error()))
	}
}
