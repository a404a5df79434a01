// Package ingest はコレクターが取得した掲載データをUPSERTエンジンへ流し込む。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/jesushzv/cars-trends-tool/internal/model"
	"github.com/jesushzv/cars-trends-tool/internal/security"
)

// Collector は1つの掲載元から掲載データを取得する。
type Collector interface {
	// Name はログとメトリクスに使うコレクター名を返す。
	Name() string
	// Platform はPlatformが未指定のレコードに付与するプラットフォーム名を返す。
	Platform() string
	Collect(ctx context.Context) ([]model.RawListing, error)
}

// Upserter は1件の掲載観測をストアへ反映する。
type Upserter interface {
	Upsert(ctx context.Context, raw model.RawListing) (*model.Listing, error)
}

// Options はIngestorの書き込み速度を設定する。
type Options struct {
	Rate  float64 // 1秒あたりのUPSERT数。0以下は無制限
	Burst int
}

// IngestResult は1回のコレクター実行の結果を保持する。
type IngestResult struct {
	Collector string
	Received  int // コレクターが返したレコード数
	Upserted  int
	Invalid   int // 検証エラーでスキップしたレコード数
	Duration  time.Duration
}

// Ingestor はコレクターの出力を整形してUPSERTする。
type Ingestor struct {
	upserter  Upserter
	sanitizer security.TextSanitizer
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewIngestor はIngestorを生成する。
func NewIngestor(upserter Upserter, sanitizer security.TextSanitizer, logger *slog.Logger, opts Options) *Ingestor {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return &Ingestor{
		upserter:  upserter,
		sanitizer: sanitizer,
		limiter:   limiter,
		logger:    logger,
	}
}

// Ingest はコレクターを1回実行し、得られたレコードを順にUPSERTする。
// 検証エラーのレコードは数えてスキップし、永続化エラーが起きた時点でそのコレクターの処理を中断する。
func (i *Ingestor) Ingest(ctx context.Context, c Collector) (IngestResult, error) {
	start := time.Now()
	result := IngestResult{Collector: c.Name()}

	records, err := c.Collect(ctx)
	if err != nil {
		i.logger.Error("掲載の収集に失敗しました", "collector", c.Name(), "error", err)
		return result, fmt.Errorf("collector %s: %w", c.Name(), err)
	}
	result.Received = len(records)

	for _, raw := range records {
		raw = i.prepare(raw, c.Platform())

		if err := i.limiter.Wait(ctx); err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("collector %s: %w", c.Name(), err)
		}

		if _, err := i.upserter.Upsert(ctx, raw); err != nil {
			var verr *model.ValidationError
			if errors.As(err, &verr) {
				result.Invalid++
				i.logger.Warn("不正な掲載をスキップしました", "collector", c.Name(), "field", verr.Field, "error", err)
				continue
			}
			result.Duration = time.Since(start)
			return result, fmt.Errorf("collector %s: %w", c.Name(), err)
		}
		result.Upserted++
	}

	result.Duration = time.Since(start)
	i.logger.Info("掲載の取り込み完了",
		"collector", c.Name(),
		"received", result.Received,
		"upserted", result.Upserted,
		"invalid", result.Invalid,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// prepare はプラットフォームを補い、タイトルと所在地からマークアップを除去する。
// 除去後に空になったテキストはnullとして扱う。
func (i *Ingestor) prepare(raw model.RawListing, platform string) model.RawListing {
	if !raw.Platform.Present() && platform != "" {
		raw.Platform = model.Set(platform)
	}
	raw.Title = i.clean(raw.Title)
	raw.Location = i.clean(raw.Location)
	return raw
}

func (i *Ingestor) clean(field model.Optional[string]) model.Optional[string] {
	v, ok := field.Get()
	if !ok {
		return field
	}
	cleaned := i.sanitizer.Clean(v)
	if cleaned == "" {
		return model.Null[string]()
	}
	return model.Set(cleaned)
}
