// Package snapshot は掲載ストアから日次スナップショットを生成する。
package snapshot

import (
	"context"
	"log/slog"
	"time"

	"github.com/jesushzv/cars-trends-tool/internal/metrics"
	"github.com/jesushzv/cars-trends-tool/internal/model"
	"github.com/jesushzv/cars-trends-tool/internal/repository"
)

// Generator は(date, make, model)ごとの日次スナップショットを生成する。
// 同じ日付で何度実行しても行は重複せず、掲載が変化していなければ同じ値になる。
type Generator struct {
	listings  repository.ListingRepository
	snapshots repository.SnapshotRepository
	platforms []string
	loc       *time.Location
	logger    *slog.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// Config はGeneratorの設定。
type Config struct {
	Platforms []string       // プラットフォーム別件数の対象
	Location  *time.Location // 「今日」を決めるタイムゾーン。nilの場合はUTC
	Metrics   metrics.Recorder
	Now       func() time.Time
}

// NewGenerator はGeneratorを生成する。
func NewGenerator(
	listings repository.ListingRepository,
	snapshots repository.SnapshotRepository,
	logger *slog.Logger,
	cfg Config,
) *Generator {
	g := &Generator{
		listings:  listings,
		snapshots: snapshots,
		platforms: cfg.Platforms,
		loc:       cfg.Location,
		logger:    logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	if g.loc == nil {
		g.loc = time.UTC
	}
	if g.metrics == nil {
		g.metrics = metrics.Nop{}
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Today は設定されたタイムゾーンにおける今日の日付を返す。
func (g *Generator) Today() time.Time {
	return model.DateOf(g.now(), g.loc)
}

// Generate は指定日のスナップショットを生成する。dateがゼロ値の場合は今日を対象にする。
// dateはそれ自身のタイムゾーンにおける暦日として扱う。
// 全グループを1トランザクションで保存するため、失敗時はどのグループも保存されない。
// 他の日付のスナップショットは変更しない。
func (g *Generator) Generate(ctx context.Context, date time.Time) (model.SnapshotResult, error) {
	start := g.now()
	if date.IsZero() {
		date = g.Today()
	} else {
		date = model.DateOf(date, date.Location())
	}

	rows, err := g.listings.ListForAggregation(ctx)
	if err != nil {
		g.logger.Error("スナップショット集計対象の取得に失敗しました",
			"date", model.FormatDate(date),
			"error", err,
		)
		return model.SnapshotResult{}, model.NewPersistenceError("スナップショット集計対象の取得", err)
	}

	stats := Aggregate(rows, g.platforms)

	created, updated, err := g.snapshots.SaveDay(ctx, date, stats, g.now().UTC())
	if err != nil {
		g.logger.Error("スナップショットの保存に失敗しました",
			"date", model.FormatDate(date),
			"groups", len(stats),
			"error", err,
		)
		return model.SnapshotResult{}, model.NewPersistenceError("スナップショットの保存", err)
	}

	g.metrics.RecordSnapshot(created, updated)

	result := model.SnapshotResult{
		Date:        date,
		Created:     created,
		Updated:     updated,
		TotalGroups: len(stats),
	}

	g.logger.Info("スナップショット生成完了",
		"date", model.FormatDate(date),
		"created", created,
		"updated", updated,
		"total_groups", result.TotalGroups,
		"duration_ms", g.now().Sub(start).Milliseconds(),
	)

	return result, nil
}
