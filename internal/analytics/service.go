// Package analytics は現在の掲載ストアから市場統計を算出する。
// スナップショットではなく掲載そのものを集計する点でtrendパッケージと異なる。
package analytics

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/jesushzv/cars-trends-tool/internal/model"
	"github.com/jesushzv/cars-trends-tool/internal/repository"
)

// 引数を省略した場合の既定値。呼び出し側（CLIのフラグ）が使用する。
const (
	DefaultTopCarsLimit  = 20
	DefaultTopMakesLimit = 10

	DefaultBasePlatform  = "craigslist"
	DefaultOtherPlatform = "mercadolibre"
)

// PricePlaces は平均価格と価格差の小数点以下の桁数。
const PricePlaces = 2

var hundred = decimal.NewFromInt(100)

// priceBands は価格分布の区分。下限を含み上限を含まない。
var priceBands = []struct {
	label    string
	min, max int64 // max == 0は上限なし
}{
	{"0-100k", 0, 100000},
	{"100k-200k", 100000, 200000},
	{"200k-300k", 200000, 300000},
	{"300k-500k", 300000, 500000},
	{"500k-700k", 500000, 700000},
	{"700k-1M", 700000, 1000000},
	{"1M+", 1000000, 0},
}

// Service は掲載ストアに対する読み取り専用の統計クエリを提供する。
// 各クエリのplatformが空の場合は全プラットフォームを対象にする。
type Service struct {
	listings repository.ListingRepository
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(listings repository.ListingRepository, logger *slog.Logger) *Service {
	return &Service{listings: listings, logger: logger}
}

func (s *Service) facts(ctx context.Context, platform string) ([]model.ListingFacts, error) {
	rows, err := s.listings.ListFacts(ctx, platform)
	if err != nil {
		s.logger.Error("統計対象の掲載の取得に失敗しました", "platform", platform, "error", err)
		return nil, model.NewPersistenceError("統計対象の掲載の取得", err)
	}
	return rows, nil
}

// TopCars はmakeとmodelが両方設定された掲載を(make, model)ごとに数え、
// 掲載数の多い順にlimit件返す。同数の場合はmake、modelの昇順。
// limitが0の場合は空のスライス、負の場合は*model.ValidationErrorを返す。
func (s *Service) TopCars(ctx context.Context, limit int, platform string) ([]model.TopCar, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []model.TopCar{}, nil
	}
	rows, err := s.facts(ctx, platform)
	if err != nil {
		return nil, err
	}

	type key struct{ make, model string }
	groups := make(map[key]*priceAcc)
	for _, r := range rows {
		if r.Make == "" || r.Model == "" {
			continue
		}
		k := key{r.Make, r.Model}
		acc, ok := groups[k]
		if !ok {
			acc = &priceAcc{}
			groups[k] = acc
		}
		acc.add(r.Price)
	}

	cars := make([]model.TopCar, 0, len(groups))
	for k, acc := range groups {
		cars = append(cars, model.TopCar{
			Make:     k.make,
			Model:    k.model,
			Count:    acc.count,
			AvgPrice: acc.avg(),
			MinPrice: acc.min,
			MaxPrice: acc.max,
		})
	}
	sort.Slice(cars, func(i, j int) bool {
		if cars[i].Count != cars[j].Count {
			return cars[i].Count > cars[j].Count
		}
		if cars[i].Make != cars[j].Make {
			return cars[i].Make < cars[j].Make
		}
		return cars[i].Model < cars[j].Model
	})
	if len(cars) > limit {
		cars = cars[:limit]
	}
	return cars, nil
}

// TopMakes はmakeが設定された掲載をメーカーごとに数え、掲載数の多い順にlimit件返す。
// limitの扱いはTopCarsと同じ。
func (s *Service) TopMakes(ctx context.Context, limit int, platform string) ([]model.TopMake, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []model.TopMake{}, nil
	}
	rows, err := s.facts(ctx, platform)
	if err != nil {
		return nil, err
	}

	type makeAcc struct {
		prices priceAcc
		models map[string]struct{}
	}
	groups := make(map[string]*makeAcc)
	for _, r := range rows {
		if r.Make == "" {
			continue
		}
		acc, ok := groups[r.Make]
		if !ok {
			acc = &makeAcc{models: make(map[string]struct{})}
			groups[r.Make] = acc
		}
		acc.prices.add(r.Price)
		if r.Model != "" {
			acc.models[r.Model] = struct{}{}
		}
	}

	makes := make([]model.TopMake, 0, len(groups))
	for name, acc := range groups {
		makes = append(makes, model.TopMake{
			Make:        name,
			Count:       acc.prices.count,
			ModelsCount: len(acc.models),
			AvgPrice:    acc.prices.avg(),
		})
	}
	sort.Slice(makes, func(i, j int) bool {
		if makes[i].Count != makes[j].Count {
			return makes[i].Count > makes[j].Count
		}
		return makes[i].Make < makes[j].Make
	})
	if len(makes) > limit {
		makes = makes[:limit]
	}
	return makes, nil
}

// MarketSummary は掲載全体の件数、ユニークなメーカー・車種数、平均価格・年式・走行距離を返す。
// 平均はそれぞれ値が設定された掲載だけで計算する。
func (s *Service) MarketSummary(ctx context.Context, platform string) (model.MarketSummary, error) {
	rows, err := s.facts(ctx, platform)
	if err != nil {
		return model.MarketSummary{}, err
	}

	makes := make(map[string]struct{})
	models := make(map[string]struct{})
	var prices priceAcc
	var years, mileages intAvg
	for _, r := range rows {
		if r.Make != "" {
			makes[r.Make] = struct{}{}
		}
		if r.Model != "" {
			models[r.Model] = struct{}{}
		}
		prices.add(r.Price)
		years.add(r.Year)
		mileages.add(r.Mileage)
	}

	return model.MarketSummary{
		TotalListings: len(rows),
		UniqueMakes:   len(makes),
		UniqueModels:  len(models),
		AvgPrice:      prices.avg(),
		AvgYear:       years.floor(),
		AvgMileage:    mileages.floor(),
	}, nil
}

// PriceDistribution は価格帯ごとの掲載数と、価格の有無ごとの件数を返す。
func (s *Service) PriceDistribution(ctx context.Context, platform string) (model.PriceDistribution, error) {
	rows, err := s.facts(ctx, platform)
	if err != nil {
		return model.PriceDistribution{}, err
	}

	dist := model.PriceDistribution{Ranges: make([]model.PriceRange, len(priceBands))}
	for i, b := range priceBands {
		dist.Ranges[i] = model.PriceRange{Label: b.label, Min: decimal.NewFromInt(b.min)}
		if b.max != 0 {
			dist.Ranges[i].Max = decimal.NewNullDecimal(decimal.NewFromInt(b.max))
		}
	}

	for _, r := range rows {
		if !r.Price.Valid {
			dist.TotalWithoutPrice++
			continue
		}
		dist.TotalWithPrice++
		for i := range dist.Ranges {
			rg := &dist.Ranges[i]
			if r.Price.Decimal.LessThan(rg.Min) {
				continue
			}
			if rg.Max.Valid && !r.Price.Decimal.LessThan(rg.Max.Decimal) {
				continue
			}
			rg.Count++
			break
		}
	}
	return dist, nil
}

// PriceByYear は年式と価格が両方設定された掲載の年式ごとの平均価格を、年式の降順で返す。
func (s *Service) PriceByYear(ctx context.Context, platform string) ([]model.YearPrice, error) {
	rows, err := s.facts(ctx, platform)
	if err != nil {
		return nil, err
	}

	groups := make(map[int]*priceAcc)
	for _, r := range rows {
		if r.Year == nil || !r.Price.Valid {
			continue
		}
		acc, ok := groups[*r.Year]
		if !ok {
			acc = &priceAcc{}
			groups[*r.Year] = acc
		}
		acc.add(r.Price)
	}

	result := make([]model.YearPrice, 0, len(groups))
	for year, acc := range groups {
		result = append(result, model.YearPrice{
			Year:     year,
			AvgPrice: acc.avg().Decimal,
			Count:    acc.count,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Year > result[j].Year })
	return result, nil
}

// ComparePlatforms はbaseとotherの掲載数・平均価格・平均年式を比較する。
// 差額はother - base、差額率はbaseの平均価格に対する百分率。
func (s *Service) ComparePlatforms(ctx context.Context, base, other string) (model.PlatformComparison, error) {
	if base == "" {
		return model.PlatformComparison{}, &model.ValidationError{Field: "base", Message: "必須です"}
	}
	if other == "" {
		return model.PlatformComparison{}, &model.ValidationError{Field: "other", Message: "必須です"}
	}

	baseStats, err := s.platformStats(ctx, base)
	if err != nil {
		return model.PlatformComparison{}, err
	}
	otherStats, err := s.platformStats(ctx, other)
	if err != nil {
		return model.PlatformComparison{}, err
	}

	cmp := model.PlatformComparison{Base: baseStats, Other: otherStats}
	if baseStats.AvgPrice.Valid && otherStats.AvgPrice.Valid {
		diff := otherStats.AvgPrice.Decimal.Sub(baseStats.AvgPrice.Decimal)
		cmp.Difference = decimal.NewNullDecimal(diff.Round(PricePlaces))
		if !baseStats.AvgPrice.Decimal.IsZero() {
			pct := diff.Div(baseStats.AvgPrice.Decimal).Mul(hundred)
			cmp.DifferencePct = decimal.NewNullDecimal(pct.Round(2))
		}
	}
	return cmp, nil
}

func (s *Service) platformStats(ctx context.Context, platform string) (model.PlatformStats, error) {
	rows, err := s.facts(ctx, platform)
	if err != nil {
		return model.PlatformStats{}, err
	}

	var prices priceAcc
	var years intAvg
	for _, r := range rows {
		prices.add(r.Price)
		years.add(r.Year)
	}
	return model.PlatformStats{
		Platform: platform,
		Count:    len(rows),
		AvgPrice: prices.avg(),
		AvgYear:  years.floor(),
	}, nil
}

func validateLimit(limit int) error {
	if limit < 0 {
		return &model.ValidationError{Field: "limit", Message: "0以上を指定してください"}
	}
	return nil
}

// priceAcc は掲載数と、価格が設定された掲載の合計・最小・最大を集計する。
type priceAcc struct {
	count    int
	priced   int64
	sum      decimal.Decimal
	min, max decimal.NullDecimal
}

func (a *priceAcc) add(p decimal.NullDecimal) {
	a.count++
	if !p.Valid {
		return
	}
	a.priced++
	a.sum = a.sum.Add(p.Decimal)
	if !a.min.Valid || p.Decimal.LessThan(a.min.Decimal) {
		a.min = p
	}
	if !a.max.Valid || p.Decimal.GreaterThan(a.max.Decimal) {
		a.max = p
	}
}

func (a *priceAcc) avg() decimal.NullDecimal {
	if a.priced == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(a.sum.DivRound(decimal.NewFromInt(a.priced), PricePlaces))
}

// intAvg はnilを除いた整数の平均を集計する。
type intAvg struct {
	n, sum int64
}

func (a *intAvg) add(v *int) {
	if v == nil {
		return
	}
	a.n++
	a.sum += int64(*v)
}

// floor は平均を切り捨てた値を返す。値が1つもない場合はnil。
func (a *intAvg) floor() *int {
	if a.n == 0 {
		return nil
	}
	v := int(a.sum / a.n)
	return &v
}
