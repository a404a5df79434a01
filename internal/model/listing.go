package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Listing は掲載元URLごとに1行で管理される車両掲載を表す。
// 文字列フィールドの空文字は未設定（NULL）として扱う。
type Listing struct {
	ID       string
	URL      string // 一意。重複判定の唯一のキー
	Platform string
	Title    string
	Price    decimal.NullDecimal
	Make     string
	Model    string
	Year     *int
	Mileage  *int
	Location string

	// エンゲージメント指標。nilは「不明」であり0ではない
	Views    *int
	Likes    *int
	Comments *int

	FirstSeen time.Time // 作成時に1回だけ設定される
	LastSeen  time.Time
	ScrapedAt time.Time // LastSeenと同じ値。互換性のために保持
}

// RawListing はコレクターから受け取る未保存の掲載データを表す。
// URL以外のフィールドは任意で、未指定と明示的なnullを区別する。
type RawListing struct {
	URL      string
	Platform Optional[string]
	Title    Optional[string]
	Price    Optional[decimal.Decimal]
	Make     Optional[string]
	Model    Optional[string]
	Year     Optional[int]
	Mileage  Optional[int]
	Location Optional[string]
	Views    Optional[int]
	Likes    Optional[int]
	Comments Optional[int]
}

// ListingPatch は既存掲載の再観測時に適用する部分更新を表す。
// 未指定のフィールドは変更しない。
type ListingPatch struct {
	Title    Optional[string]
	Price    Optional[decimal.Decimal]
	Views    Optional[int]
	Likes    Optional[int]
	Comments Optional[int]
	SeenAt   time.Time
}

// PatchFromRaw は再観測で上書き対象となるフィールドだけをRawListingから取り出す。
// 価格・タイトル・エンゲージメント指標以外の記述フィールドは再観測では更新しない。
func PatchFromRaw(raw RawListing, seenAt time.Time) ListingPatch {
	return ListingPatch{
		Title:    raw.Title,
		Price:    raw.Price,
		Views:    raw.Views,
		Likes:    raw.Likes,
		Comments: raw.Comments,
		SeenAt:   seenAt,
	}
}

// ListingPriceRow はスナップショット集計に必要な掲載の列だけを保持する。
type ListingPriceRow struct {
	Make     string
	Model    string
	Platform string
	Price    decimal.NullDecimal
}

// LifecycleStats は掲載のライフサイクル統計を表す。
type LifecycleStats struct {
	TotalListings     int64   `json:"total_listings"`
	ActiveListings    int64   `json:"active_listings"`
	InactiveListings  int64   `json:"inactive_listings"`
	AverageDaysActive float64 `json:"average_days_active"`
	ActiveWindowDays  int     `json:"active_window_days"`
}
