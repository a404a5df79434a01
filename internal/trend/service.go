// Package trend は日次スナップショットから価格推移と市場サマリーを算出する。
// 掲載ストアには一切アクセスしない。
package trend

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jesushzv/cars-trends-tool/internal/model"
	"github.com/jesushzv/cars-trends-tool/internal/repository"
)

// 各クエリの引数を省略した場合の既定値。呼び出し側（CLIのフラグ）が使用する。
const (
	DefaultPriceTrendDays = 30
	DefaultTrendingDays   = 7
	DefaultTrendingLimit  = 10
	DefaultOverviewDays   = 30

	// MostListedLimit は市場サマリーに含める掲載数上位の件数。
	MostListedLimit = 10
)

var hundred = decimal.NewFromInt(100)

// Service はスナップショットに対する読み取り専用のクエリを提供する。
type Service struct {
	snapshots repository.SnapshotRepository
	loc       *time.Location
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。locは「今日」を決めるタイムゾーンで、nilの場合はUTC。
func NewService(snapshots repository.SnapshotRepository, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		snapshots: snapshots,
		loc:       loc,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock は現在時刻の取得関数を差し替えたServiceを返す。
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

func (s *Service) today() time.Time {
	return model.DateOf(s.now(), s.loc)
}

// PriceTrend は指定(make, model)のdate >= 今日 - days日のスナップショットを日付昇順で返す。
// daysが0の場合は今日のみ。負の場合は*model.ValidationErrorを返す。
// スナップショットがない場合は空のスライスを返す。
func (s *Service) PriceTrend(ctx context.Context, carMake, carModel string, days int) ([]model.TrendPoint, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}
	since := s.today().AddDate(0, 0, -days)

	rows, err := s.snapshots.ListForMakeModelSince(ctx, carMake, carModel, since)
	if err != nil {
		s.logger.Error("価格推移の取得に失敗しました", "make", carMake, "model", carModel, "error", err)
		return nil, model.NewPersistenceError("価格推移の取得", err)
	}

	points := make([]model.TrendPoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, model.TrendPoint{
			Date:           r.Date,
			ListingCount:   r.ListingCount,
			AvgPrice:       r.AvgPrice,
			MinPrice:       r.MinPrice,
			MaxPrice:       r.MaxPrice,
			PlatformCounts: r.PlatformCounts,
		})
	}
	return points, nil
}

// TrendingCars は今日と、ちょうどdays日前の平均価格を比較し、変動幅の大きい順にlimit件返す。
// ちょうどdays日前のスナップショットがない組み合わせ、またはどちらかの平均価格がnullの組み合わせは除外する。
// 変動が0の場合の方向は"down"とする。limitが0の場合は空のスライスを返し、
// daysまたはlimitが負の場合は*model.ValidationErrorを返す。
func (s *Service) TrendingCars(ctx context.Context, days, limit int) ([]model.TrendingCar, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, &model.ValidationError{Field: "limit", Message: "0以上を指定してください"}
	}
	if limit == 0 {
		return []model.TrendingCar{}, nil
	}
	today := s.today()
	past := today.AddDate(0, 0, -days)

	current, err := s.snapshots.ListByDate(ctx, today)
	if err != nil {
		s.logger.Error("当日のスナップショットの取得に失敗しました", "date", model.FormatDate(today), "error", err)
		return nil, model.NewPersistenceError("当日のスナップショットの取得", err)
	}
	previous, err := s.snapshots.ListByDate(ctx, past)
	if err != nil {
		s.logger.Error("比較日のスナップショットの取得に失敗しました", "date", model.FormatDate(past), "error", err)
		return nil, model.NewPersistenceError("比較日のスナップショットの取得", err)
	}

	pastByKey := make(map[pairKey]model.DailySnapshot, len(previous))
	for _, p := range previous {
		pastByKey[pairKey{p.Make, p.Model}] = p
	}

	cars := make([]model.TrendingCar, 0, len(current))
	for _, c := range current {
		p, ok := pastByKey[pairKey{c.Make, c.Model}]
		if !ok || !c.AvgPrice.Valid || !p.AvgPrice.Valid || p.AvgPrice.Decimal.IsZero() {
			continue
		}

		oldPrice := p.AvgPrice.Decimal
		newPrice := c.AvgPrice.Decimal
		change := newPrice.Sub(oldPrice)
		pct := change.Div(oldPrice).Mul(hundred)

		direction := model.DirectionDown
		if change.IsPositive() {
			direction = model.DirectionUp
		}

		cars = append(cars, model.TrendingCar{
			Make:         c.Make,
			Model:        c.Model,
			OldPrice:     oldPrice,
			NewPrice:     newPrice,
			Change:       change.Round(2),
			ChangePct:    pct.Round(2),
			Direction:    direction,
			ListingCount: c.ListingCount,
		})
	}

	sort.SliceStable(cars, func(i, j int) bool {
		ai, aj := cars[i].Change.Abs(), cars[j].Change.Abs()
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
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

// MarketOverview は[今日 - days日, 今日]のスナップショットから市場全体のサマリーを算出する。
// MostListedは1日あたりの平均掲載数（掲載数の合計 / 出現した日数）の上位を返す。
// daysが0の場合は今日のみを集計する。
func (s *Service) MarketOverview(ctx context.Context, days int) (model.MarketOverview, error) {
	if err := validateDays(days); err != nil {
		return model.MarketOverview{}, err
	}
	to := s.today()
	from := to.AddDate(0, 0, -days)

	rows, err := s.snapshots.ListBetween(ctx, from, to)
	if err != nil {
		s.logger.Error("市場サマリーの取得に失敗しました", "days", days, "error", err)
		return model.MarketOverview{}, model.NewPersistenceError("市場サマリーの取得", err)
	}

	type pairTotals struct {
		listings int64
		dates    map[time.Time]struct{}
	}
	pairs := make(map[pairKey]*pairTotals)
	priceSum := decimal.Zero
	priced := int64(0)

	for _, r := range rows {
		key := pairKey{r.Make, r.Model}
		pt, ok := pairs[key]
		if !ok {
			pt = &pairTotals{dates: make(map[time.Time]struct{})}
			pairs[key] = pt
		}
		pt.listings += int64(r.ListingCount)
		pt.dates[r.Date] = struct{}{}

		if r.AvgPrice.Valid {
			priceSum = priceSum.Add(r.AvgPrice.Decimal)
			priced++
		}
	}

	overview := model.MarketOverview{
		TotalUniqueCars: len(pairs),
		TotalSnapshots:  len(rows),
		DateRange:       model.DateRange{Start: from, End: to},
		MostListed:      make([]model.MostListedCar, 0, len(pairs)),
	}
	if priced > 0 {
		overview.AvgMarketPrice = decimal.NewNullDecimal(priceSum.DivRound(decimal.NewFromInt(priced), 2))
	}

	for key, pt := range pairs {
		daysPresent := len(pt.dates)
		overview.MostListed = append(overview.MostListed, model.MostListedCar{
			Make:        key.make,
			Model:       key.model,
			AvgListings: decimal.NewFromInt(pt.listings).DivRound(decimal.NewFromInt(int64(daysPresent)), 1),
			DaysPresent: daysPresent,
		})
	}
	sort.Slice(overview.MostListed, func(i, j int) bool {
		a, b := overview.MostListed[i], overview.MostListed[j]
		if !a.AvgListings.Equal(b.AvgListings) {
			return a.AvgListings.GreaterThan(b.AvgListings)
		}
		if a.Make != b.Make {
			return a.Make < b.Make
		}
		return a.Model < b.Model
	})
	if len(overview.MostListed) > MostListedLimit {
		overview.MostListed = overview.MostListed[:MostListedLimit]
	}

	return overview, nil
}

func validateDays(days int) error {
	if days < 0 {
		return &model.ValidationError{Field: "days", Message: "0以上を指定してください"}
	}
	return nil
}

type pairKey struct {
	make  string
	model string
}
