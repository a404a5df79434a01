// Package cleanup は保持期間を超過した掲載とスナップショットの削除ジョブを提供する。
// 掲載はlast_seenが、スナップショットはdateが保持期間より古いものを物理削除する。
// 2つのストアの削除は互いに独立しており、どちらもトランザクション単位で全件成功か全件失敗になる。
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/jesushzv/cars-trends-tool/internal/metrics"
	"github.com/jesushzv/cars-trends-tool/internal/model"
	"github.com/jesushzv/cars-trends-tool/internal/repository"
)

// 既定の保持日数
const (
	DefaultListingRetentionDays  = 90
	DefaultSnapshotRetentionDays = 180
)

// メトリクスのストアラベル
const (
	storeListings  = "listings"
	storeSnapshots = "snapshots"
)

// CleanupJob は保持期間を超過したデータの削除ジョブ。
// 何度実行しても同じ結果になり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	listings  repository.ListingRepository
	snapshots repository.SnapshotRepository
	logger    *slog.Logger
	metrics   metrics.Recorder
	loc       *time.Location
	now       func() time.Time

	ListingRetentionDays  int // 掲載の保持日数（デフォルト: 90）
	SnapshotRetentionDays int // スナップショットの保持日数（デフォルト: 180）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// locはスナップショットの基準日（今日）を決めるタイムゾーンで、nilの場合はUTC。
func NewCleanupJob(
	listings repository.ListingRepository,
	snapshots repository.SnapshotRepository,
	loc *time.Location,
	logger *slog.Logger,
) *CleanupJob {
	if loc == nil {
		loc = time.UTC
	}
	return &CleanupJob{
		listings:              listings,
		snapshots:             snapshots,
		logger:                logger,
		metrics:               metrics.Nop{},
		loc:                   loc,
		now:                   time.Now,
		ListingRetentionDays:  DefaultListingRetentionDays,
		SnapshotRetentionDays: DefaultSnapshotRetentionDays,
	}
}

// SetMetrics はメトリクスの記録先を設定する。
func (j *CleanupJob) SetMetrics(m metrics.Recorder) {
	j.metrics = m
}

// SetClock は現在時刻の取得関数を差し替える。
func (j *CleanupJob) SetClock(now func() time.Time) {
	j.now = now
}

// CleanupListings はlast_seenが現在時刻 - retentionDays日より古い掲載を削除する。
// 境界ちょうどの掲載は削除しない。
func (j *CleanupJob) CleanupListings(ctx context.Context, retentionDays int) (model.CleanupResult, error) {
	if retentionDays < 1 {
		retentionDays = DefaultListingRetentionDays
	}
	start := time.Now()
	cutoff := j.now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	deleted, remaining, err := j.listings.DeleteSeenBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("掲載クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", retentionDays),
		)
		return model.CleanupResult{}, model.NewPersistenceError("掲載クリーンアップ", err)
	}

	j.metrics.RecordCleanup(storeListings, deleted)
	j.logger.Info("掲載クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int64("remaining_count", remaining),
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff", cutoff),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return model.CleanupResult{
		Deleted:       deleted,
		Remaining:     remaining,
		RetentionDays: retentionDays,
		Cutoff:        cutoff,
	}, nil
}

// CleanupSnapshots はdateが今日 - retentionDays日より前のスナップショットを削除する。
func (j *CleanupJob) CleanupSnapshots(ctx context.Context, retentionDays int) (model.CleanupResult, error) {
	if retentionDays < 1 {
		retentionDays = DefaultSnapshotRetentionDays
	}
	start := time.Now()
	cutoff := model.DateOf(j.now(), j.loc).AddDate(0, 0, -retentionDays)

	deleted, remaining, err := j.snapshots.DeleteBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("スナップショットクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", retentionDays),
		)
		return model.CleanupResult{}, model.NewPersistenceError("スナップショットクリーンアップ", err)
	}

	j.metrics.RecordCleanup(storeSnapshots, deleted)
	j.logger.Info("スナップショットクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int64("remaining_count", remaining),
		slog.Int("retention_days", retentionDays),
		slog.String("cutoff", model.FormatDate(cutoff)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return model.CleanupResult{
		Deleted:       deleted,
		Remaining:     remaining,
		RetentionDays: retentionDays,
		Cutoff:        cutoff,
	}, nil
}

// CleanupAll は設定された保持日数で掲載とスナップショットの両方を削除する。
// 掲載の削除に失敗した場合はスナップショットの削除を行わずにエラーを返す。
func (j *CleanupJob) CleanupAll(ctx context.Context) (model.CleanupAllResult, error) {
	listings, err := j.CleanupListings(ctx, j.ListingRetentionDays)
	if err != nil {
		return model.CleanupAllResult{}, err
	}
	snapshots, err := j.CleanupSnapshots(ctx, j.SnapshotRetentionDays)
	if err != nil {
		return model.CleanupAllResult{Listings: listings, TotalDeleted: listings.Deleted}, err
	}

	return model.CleanupAllResult{
		Listings:     listings,
		Snapshots:    snapshots,
		TotalDeleted: listings.Deleted + snapshots.Deleted,
	}, nil
}

// Stats は残っているデータの年齢と保持ポリシーを返す。
func (j *CleanupJob) Stats(ctx context.Context) (model.CleanupStats, error) {
	now := j.now().UTC()
	listingAges, err := j.listings.AgeStats(ctx, now)
	if err != nil {
		return model.CleanupStats{}, model.NewPersistenceError("掲載の年齢統計の取得", err)
	}
	snapshotAges, err := j.snapshots.DateRange(ctx)
	if err != nil {
		return model.CleanupStats{}, model.NewPersistenceError("スナップショットの日付範囲の取得", err)
	}

	today := model.DateOf(now, j.loc)
	data := model.DataAgeStats{
		TotalListings:  listingAges.Count,
		OldestLastSeen: listingAges.Oldest,
		NewestLastSeen: listingAges.Newest,
		TotalSnapshots: snapshotAges.Count,
		OldestSnapshot: snapshotAges.Oldest,
		NewestSnapshot: snapshotAges.Newest,

		ListingAgeBuckets: listingAges.Buckets,
	}
	if listingAges.Oldest != nil {
		days := int(now.Sub(*listingAges.Oldest).Hours() / 24)
		data.OldestListingAge = &days
	}
	if snapshotAges.Oldest != nil {
		days := int(today.Sub(*snapshotAges.Oldest).Hours() / 24)
		data.OldestSnapshotAge = &days
	}

	return model.CleanupStats{
		Data: data,
		Policy: model.RetentionPolicy{
			ListingRetentionDays:  j.ListingRetentionDays,
			SnapshotRetentionDays: j.SnapshotRetentionDays,
		},
	}, nil
}
