package snapshot

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/jesushzv/cars-trends-tool/internal/model"
)

// AvgPricePlaces は平均価格の小数点以下の桁数。
// 再生成しても同じ値になるよう、保存前に丸める。
const AvgPricePlaces = 2

type groupKey struct {
	make  string
	model string
}

type accumulator struct {
	count      int
	priced     int64
	sum        decimal.Decimal
	min        decimal.Decimal
	max        decimal.Decimal
	byPlatform map[string]int
}

// Aggregate は掲載を(make, model)ごとに集計する。
// makeまたはmodelが未設定の掲載は除外する。価格のない掲載は件数には含めるが価格統計からは除外し、
// グループ内に価格が1件もない場合は価格統計をnullのままにする。
// platformsに含まれるプラットフォームは件数0でも必ず出力する。
// 結果は(make, model)の昇順で返す。
func Aggregate(rows []model.ListingPriceRow, platforms []string) []model.SnapshotStats {
	groups := make(map[groupKey]*accumulator)
	known := make(map[string]struct{}, len(platforms))
	for _, p := range platforms {
		known[p] = struct{}{}
	}

	for _, r := range rows {
		if r.Make == "" || r.Model == "" {
			continue
		}
		key := groupKey{make: r.Make, model: r.Model}
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{byPlatform: make(map[string]int, len(platforms))}
			for _, p := range platforms {
				acc.byPlatform[p] = 0
			}
			groups[key] = acc
		}

		acc.count++
		if _, ok := known[r.Platform]; ok {
			acc.byPlatform[r.Platform]++
		}

		if !r.Price.Valid {
			continue
		}
		price := r.Price.Decimal
		if acc.priced == 0 {
			acc.min = price
			acc.max = price
		} else {
			if price.LessThan(acc.min) {
				acc.min = price
			}
			if price.GreaterThan(acc.max) {
				acc.max = price
			}
		}
		acc.sum = acc.sum.Add(price)
		acc.priced++
	}

	result := make([]model.SnapshotStats, 0, len(groups))
	for key, acc := range groups {
		s := model.SnapshotStats{
			Make:           key.make,
			Model:          key.model,
			ListingCount:   acc.count,
			PlatformCounts: acc.byPlatform,
		}
		if acc.priced > 0 {
			avg := acc.sum.DivRound(decimal.NewFromInt(acc.priced), AvgPricePlaces)
			s.AvgPrice = decimal.NewNullDecimal(avg)
			s.MinPrice = decimal.NewNullDecimal(acc.min)
			s.MaxPrice = decimal.NewNullDecimal(acc.max)
		}
		result = append(result, s)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Make != result[j].Make {
			return result[i].Make < result[j].Make
		}
		return result[i].Model < result[j].Model
	})
	return result
}
