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

	"github.com/jesushzv/cars-trends-tool/internal/analytics"
	"github.com/jesushzv/cars-trends-tool/internal/config"
	"github.com/jesushzv/cars-trends-tool/internal/model"
)

// analyticsQuerier はanalyticsサブコマンドが利用するクエリ。
type analyticsQuerier interface {
	TopCars(ctx context.Context, limit int, platform string) ([]model.TopCar, error)
	TopMakes(ctx context.Context, limit int, platform string) ([]model.TopMake, error)
	MarketSummary(ctx context.Context, platform string) (model.MarketSummary, error)
	PriceDistribution(ctx context.Context, platform string) (model.PriceDistribution, error)
	PriceByYear(ctx context.Context, platform string) ([]model.YearPrice, error)
	ComparePlatforms(ctx context.Context, base, other string) (model.PlatformComparison, error)
}

// 市場統計クエリ名
const (
	queryTopCars           = "top-cars"
	queryTopMakes          = "top-makes"
	querySummary           = "summary"
	queryPriceDistribution = "price-distribution"
	queryPriceByYear       = "price-by-year"
	queryPlatforms         = "platforms"
)

var errAnalyticsUsage = errors.New("usage: analytics top-cars|top-makes [-limit N] [-platform P] | summary|price-distribution|price-by-year [-platform P] | platforms [-base P] [-other P]")

func runAnalyticsCommand(cfg *config.Config, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := openComponents(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.close()

	return runAnalytics(ctx, c.analytics, args, stdout)
}

// runAnalytics はargsで指定された市場統計クエリを実行し、結果をJSONでwに書き出す。
func runAnalytics(ctx context.Context, q analyticsQuerier, args []string, w io.Writer) error {
	if len(args) == 0 {
		return errAnalyticsUsage
	}

	fs := flag.NewFlagSet("analytics "+args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	parse := func() error {
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", errAnalyticsUsage, err)
		}
		return nil
	}

	var (
		result any
		err    error
	)
	switch args[0] {
	case queryTopCars:
		limit := fs.Int("limit", analytics.DefaultTopCarsLimit, "最大件数")
		platform := fs.String("platform", "", "プラットフォームで絞り込む")
		if err := parse(); err != nil {
			return err
		}
		result, err = q.TopCars(ctx, *limit, *platform)

	case queryTopMakes:
		limit := fs.Int("limit", analytics.DefaultTopMakesLimit, "最大件数")
		platform := fs.String("platform", "", "プラットフォームで絞り込む")
		if err := parse(); err != nil {
			return err
		}
		result, err = q.TopMakes(ctx, *limit, *platform)

	case querySummary, queryPriceDistribution, queryPriceByYear:
		platform := fs.String("platform", "", "プラットフォームで絞り込む")
		if err := parse(); err != nil {
			return err
		}
		switch args[0] {
		case querySummary:
			result, err = q.MarketSummary(ctx, *platform)
		case queryPriceDistribution:
			result, err = q.PriceDistribution(ctx, *platform)
		default:
			result, err = q.PriceByYear(ctx, *platform)
		}

	case queryPlatforms:
		base := fs.String("base", analytics.DefaultBasePlatform, "比較の基準となるプラットフォーム")
		other := fs.String("other", analytics.DefaultOtherPlatform, "比較対象のプラットフォーム")
		if err := parse(); err != nil {
			return err
		}
		result, err = q.ComparePlatforms(ctx, *base, *other)

	default:
		return fmt.Errorf("%w: unknown query %q", errAnalyticsUsage, args[0])
	}

	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

var _ analyticsQuerier = (*analytics.Service)(nil)
