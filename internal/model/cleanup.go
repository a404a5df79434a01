package model

import "time"

// CleanupResult は1ストア分のクリーンアップ結果を表す。
type CleanupResult struct {
	Deleted       int64     `json:"deleted_count"`
	Remaining     int64     `json:"remaining_count"`
	RetentionDays int       `json:"retention_days"`
	Cutoff        time.Time `json:"cutoff_date"`
}

// CleanupAllResult は掲載とスナップショットの両方のクリーンアップ結果を表す。
type CleanupAllResult struct {
	Listings     CleanupResult `json:"listings"`
	Snapshots    CleanupResult `json:"snapshots"`
	TotalDeleted int64         `json:"total_deleted"`
}

// DataAgeStats はストアに残っているデータの年齢を表す。
// 行が存在しない場合、各日時はnilになる。
type DataAgeStats struct {
	TotalListings     int64      `json:"total_listings"`
	OldestLastSeen    *time.Time `json:"oldest_last_seen"`
	NewestLastSeen    *time.Time `json:"newest_last_seen"`
	OldestListingAge  *int       `json:"oldest_listing_age_days"`
	TotalSnapshots    int64      `json:"total_snapshots"`
	OldestSnapshot    *time.Time `json:"oldest_snapshot"`
	NewestSnapshot    *time.Time `json:"newest_snapshot"`
	OldestSnapshotAge *int       `json:"oldest_snapshot_age_days"`

	ListingAgeBuckets ListingAgeBuckets `json:"listing_age_buckets"`
}

// ListingAgeBuckets はlast_seenの経過日数ごとの掲載数を表す。
// 7日・30日・90日の各区分は累積で数える。
type ListingAgeBuckets struct {
	Last7Days       int64 `json:"last_7_days"`
	Last30Days      int64 `json:"last_30_days"`
	Last90Days      int64 `json:"last_90_days"`
	OlderThan90Days int64 `json:"older_than_90_days"`
}

// RetentionPolicy は保持期間の設定を表す。
type RetentionPolicy struct {
	ListingRetentionDays  int `json:"listing_retention_days"`
	SnapshotRetentionDays int `json:"snapshot_retention_days"`
}

// CleanupStats はデータ年齢と保持ポリシーをまとめたもの。
type CleanupStats struct {
	Data   DataAgeStats    `json:"data"`
	Policy RetentionPolicy `json:"retention_policy"`
}

// AgeRange は行数と、基準となる日時の最古・最新を表す。
// 行が存在しない場合、OldestとNewestはnilになる。
type AgeRange struct {
	Count  int64
	Oldest *time.Time
	Newest *time.Time
}

// ListingAges は掲載のlast_seenの範囲と経過日数の区分を表す。
type ListingAges struct {
	AgeRange
	Buckets ListingAgeBuckets
}
