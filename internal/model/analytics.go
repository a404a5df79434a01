package model

import "github.com/shopspring/decimal"

// ListingFacts は掲載統計に必要な掲載の列だけを保持する。
type ListingFacts struct {
	Make     string
	Model    string
	Platform string
	Price    decimal.NullDecimal
	Year     *int
	Mileage  *int
}

// TopCar は掲載数の多い(make, model)と価格の範囲を表す。
type TopCar struct {
	Make     string              `json:"make"`
	Model    string              `json:"model"`
	Count    int                 `json:"count"`
	AvgPrice decimal.NullDecimal `json:"avg_price"`
	MinPrice decimal.NullDecimal `json:"min_price"`
	MaxPrice decimal.NullDecimal `json:"max_price"`
}

// TopMake は掲載数の多いメーカーを表す。
type TopMake struct {
	Make        string              `json:"make"`
	Count       int                 `json:"count"`
	ModelsCount int                 `json:"models_count"`
	AvgPrice    decimal.NullDecimal `json:"avg_price"`
}

// MarketSummary は現在の掲載全体の統計を表す。
// 平均年式と平均走行距離は小数点以下を切り捨てる。
type MarketSummary struct {
	TotalListings int                 `json:"total_listings"`
	UniqueMakes   int                 `json:"unique_makes"`
	UniqueModels  int                 `json:"unique_models"`
	AvgPrice      decimal.NullDecimal `json:"avg_price"`
	AvgYear       *int                `json:"avg_year"`
	AvgMileage    *int                `json:"avg_mileage"`
}

// PriceRange は価格帯1つ分の掲載数を表す。Maxがnullの場合は上限なし。
type PriceRange struct {
	Label string              `json:"range"`
	Min   decimal.Decimal     `json:"min"`
	Max   decimal.NullDecimal `json:"max"`
	Count int                 `json:"count"`
}

// PriceDistribution は価格帯ごとの掲載数を表す。
type PriceDistribution struct {
	Ranges            []PriceRange `json:"ranges"`
	TotalWithPrice    int          `json:"total_with_price"`
	TotalWithoutPrice int          `json:"total_without_price"`
}

// YearPrice は年式ごとの平均価格を表す。
type YearPrice struct {
	Year     int             `json:"year"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	Count    int             `json:"count"`
}

// PlatformStats は1プラットフォーム分の掲載統計を表す。
type PlatformStats struct {
	Platform string              `json:"platform"`
	Count    int                 `json:"count"`
	AvgPrice decimal.NullDecimal `json:"avg_price"`
	AvgYear  *int                `json:"avg_year"`
}

// PlatformComparison は2つのプラットフォームの平均価格を比較した結果を表す。
// Differenceはother - baseで、どちらかの平均価格がnullの場合はnullになる。
type PlatformComparison struct {
	Base          PlatformStats       `json:"base"`
	Other         PlatformStats       `json:"other"`
	Difference    decimal.NullDecimal `json:"difference"`
	DifferencePct decimal.NullDecimal `json:"difference_pct"`
}
