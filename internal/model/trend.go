package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 価格変動の方向
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// TrendPoint は価格推移の1日分を表す。
type TrendPoint struct {
	Date           time.Time           `json:"date"`
	ListingCount   int                 `json:"listing_count"`
	AvgPrice       decimal.NullDecimal `json:"avg_price"`
	MinPrice       decimal.NullDecimal `json:"min_price"`
	MaxPrice       decimal.NullDecimal `json:"max_price"`
	PlatformCounts map[string]int      `json:"platform_counts"`
}

// TrendingCar は指定期間で平均価格が変動した(make, model)を表す。
type TrendingCar struct {
	Make         string          `json:"make"`
	Model        string          `json:"model"`
	OldPrice     decimal.Decimal `json:"old_price"`
	NewPrice     decimal.Decimal `json:"new_price"`
	Change       decimal.Decimal `json:"change"`
	ChangePct    decimal.Decimal `json:"change_pct"`
	Direction    string          `json:"direction"`
	ListingCount int             `json:"listing_count"`
}

// MostListedCar は期間中の1日あたり平均掲載数が多い(make, model)を表す。
type MostListedCar struct {
	Make        string          `json:"make"`
	Model       string          `json:"model"`
	AvgListings decimal.Decimal `json:"avg_listings"`
	DaysPresent int             `json:"days_present"`
}

// DateRange は期間の開始日と終了日を表す。
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MarketOverview は市場全体のサマリーを表す。
type MarketOverview struct {
	TotalUniqueCars int                 `json:"total_unique_cars"`
	AvgMarketPrice  decimal.NullDecimal `json:"avg_market_price"`
	TotalSnapshots  int                 `json:"total_snapshots"`
	DateRange       DateRange           `json:"date_range"`
	MostListed      []MostListedCar     `json:"most_listed"`
}
