package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/jesushzv/cars-trends-tool/internal/config"
	"github.com/jesushzv/cars-trends-tool/internal/model"
	"github.com/jesushzv/cars-trends-tool/internal/trend"
)

// trendQuerier はtrendsサブコマンドが利用するクエリ。
type trendQuerier interface {
	PriceTrend(ctx context.Context, carMake, carModel string, days int) ([]model.TrendPoint, error)
	TrendingCars(ctx context.Context, days, limit int) ([]model.TrendingCar, error)
	MarketOverview(ctx context.Context, days int) (model.MarketOverview, error)
}

// トレンドクエリ名
const (
	queryPriceTrend = "price-trend"
	queryTrending   = "trending"
	queryOverview   = "overview"
)

var errTrendsUsage = errors.New("usage: trends price-trend -make MAKE -model MODEL [-days N] | trending [-days N] [-limit N] | overview [-days N]")

func runTrendsCommand(cfg *config.Config, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := openComponents(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.close()

	return runTrends(ctx, c.trends, args, stdout)
}

// runTrends はargsで指定されたトレンドクエリを実行し、結果をJSONでwに書き出す。
func runTrends(ctx context.Context, q trendQuerier, args []string, w io.Writer) error {
	if len(args) == 0 {
		return errTrendsUsage
	}

	fs := flag.NewFlagSet("trends "+args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	switch args[0] {
	case queryPriceTrend:
		carMake := fs.String("make", "", "車両メーカー")
		carModel := fs.String("model", "", "車種")
		days := fs.Int("days", trend.DefaultPriceTrendDays, "遡る日数")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", errTrendsUsage, err)
		}
		if *carMake == "" || *carModel == "" {
			return fmt.Errorf("%w: -make and -model are required", errTrendsUsage)
		}
		points, err := q.PriceTrend(ctx, *carMake, *carModel, *days)
		if err != nil {
			return err
		}
		return writeJSON(w, points)

	case queryTrending:
		days := fs.Int("days", trend.DefaultTrendingDays, "比較する日数")
		limit := fs.Int("limit", trend.DefaultTrendingLimit, "最大件数")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", errTrendsUsage, err)
		}
		cars, err := q.TrendingCars(ctx, *days, *limit)
		if err != nil {
			return err
		}
		return writeJSON(w, cars)

	case queryOverview:
		days := fs.Int("days", trend.DefaultOverviewDays, "集計する日数")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", errTrendsUsage, err)
		}
		overview, err := q.MarketOverview(ctx, *days)
		if err != nil {
			return err
		}
		return writeJSON(w, overview)

	default:
		return fmt.Errorf("%w: unknown query %q", errTrendsUsage, args[0])
	}
}

var _ trendQuerier = (*trend.Service)(nil)
