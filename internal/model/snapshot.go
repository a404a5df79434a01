package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailySnapshot は(date, make, model)ごとの日次集計を表す。
type DailySnapshot struct {
	ID             string
	Date           time.Time // UTCの0時で表した暦日
	Make           string
	Model          string
	ListingCount   int
	AvgPrice       decimal.NullDecimal
	MinPrice       decimal.NullDecimal
	MaxPrice       decimal.NullDecimal
	PlatformCounts map[string]int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SnapshotStats は1グループ(make, model)分の集計値。
// 価格のない掲載はListingCountに含まれるが価格統計からは除外される。
type SnapshotStats struct {
	Make           string
	Model          string
	ListingCount   int
	AvgPrice       decimal.NullDecimal
	MinPrice       decimal.NullDecimal
	MaxPrice       decimal.NullDecimal
	PlatformCounts map[string]int
}

// SnapshotResult はスナップショット生成の結果を表す。
type SnapshotResult struct {
	Date        time.Time `json:"date"`
	Created     int       `json:"created"`
	Updated     int       `json:"updated"`
	TotalGroups int       `json:"total_groups"`
}

// DateOf はlocにおけるtの暦日を、UTCの0時のtime.Timeとして返す。
// locがnilの場合はUTCを使用する。
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate は暦日をYYYY-MM-DD形式で返す。
func FormatDate(d time.Time) string {
	return d.Format(time.DateOnly)
}
