// Package listing は掲載の同一性判定とUPSERT処理を提供する。
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jesushzv/cars-trends-tool/internal/metrics"
	"github.com/jesushzv/cars-trends-tool/internal/model"
	"github.com/jesushzv/cars-trends-tool/internal/repository"
)

// DefaultActiveWindowDays はアクティブとみなす既定の日数。
const DefaultActiveWindowDays = 7

// UpsertService は掲載URLをキーとした同一性判定とUPSERT処理を提供する。
// URLの一意性はストアの一意制約で保証され、同時挿入で負けた側は更新として1回だけ再試行する。
type UpsertService struct {
	repo    repository.ListingRepository
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// Option はUpsertServiceの設定を変更する。
type Option func(*UpsertService)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *UpsertService) { s.now = now }
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.Recorder) Option {
	return func(s *UpsertService) { s.metrics = m }
}

// NewUpsertService はUpsertServiceの新しいインスタンスを生成する。
func NewUpsertService(repo repository.ListingRepository, logger *slog.Logger, opts ...Option) *UpsertService {
	s := &UpsertService{
		repo:    repo,
		logger:  logger,
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert は1件の観測をストアに反映し、反映後の掲載を返す。
//   - URLが未登録: first_seen = last_seen = scraped_at = 現在時刻で作成する
//   - URLが登録済み: last_seen/scraped_atを更新し、価格・タイトル・指定されたエンゲージメント指標を上書きする
//
// URLが空の場合は*model.ValidationError、ストアの失敗は*model.PersistenceErrorを返す。
func (s *UpsertService) Upsert(ctx context.Context, raw model.RawListing) (*model.Listing, error) {
	raw.URL = strings.TrimSpace(raw.URL)
	if raw.URL == "" {
		s.metrics.RecordUpsert(metrics.UpsertInvalid)
		return nil, model.NewMissingURLError()
	}

	now := s.now().UTC()

	existing, err := s.repo.FindByURL(ctx, raw.URL)
	if err != nil {
		return nil, s.fail("掲載の検索", raw.URL, err)
	}

	if existing != nil {
		updated, err := s.repo.ApplyObservation(ctx, raw.URL, model.PatchFromRaw(raw, now))
		if err != nil {
			return nil, s.fail("掲載の更新", raw.URL, err)
		}
		if updated != nil {
			s.metrics.RecordUpsert(metrics.UpsertUpdated)
			s.logger.Debug("掲載を更新しました", "url", raw.URL, "id", updated.ID)
			return updated, nil
		}
		// 検索から更新までの間に保持期間切れで削除された場合は新規として扱う
	}

	listing := newListing(raw, now)
	outcome, err := s.repo.TryInsert(ctx, listing)
	if err != nil {
		return nil, s.fail("掲載の作成", raw.URL, err)
	}

	switch outcome {
	case repository.InsertOutcomeCreated:
		s.metrics.RecordUpsert(metrics.UpsertCreated)
		s.logger.Info("掲載を作成しました", "url", raw.URL, "id", listing.ID, "platform", listing.Platform)
		return listing, nil

	case repository.InsertOutcomeConflict:
		// 他のコレクターが先に同じURLを作成した。更新として1回だけ再試行する
		updated, err := s.repo.ApplyObservation(ctx, raw.URL, model.PatchFromRaw(raw, now))
		if err != nil {
			return nil, s.fail("競合後の掲載の更新", raw.URL, err)
		}
		if updated == nil {
			return nil, s.fail("競合後の掲載の更新", raw.URL, errors.New("競合した掲載が見つかりません"))
		}
		s.metrics.RecordUpsert(metrics.UpsertRaceRecovered)
		s.logger.Warn("同時挿入の競合を更新として処理しました", "url", raw.URL, "id", updated.ID)
		return updated, nil

	default:
		return nil, s.fail("掲載の作成", raw.URL, fmt.Errorf("不明な挿入結果です: %v", outcome))
	}
}

// Stats は掲載のライフサイクル統計を返す。
// 直近activeWindowDays日以内に観測された掲載をアクティブとして数える。
func (s *UpsertService) Stats(ctx context.Context, activeWindowDays int) (model.LifecycleStats, error) {
	if activeWindowDays < 1 {
		activeWindowDays = DefaultActiveWindowDays
	}
	since := s.now().UTC().Add(-time.Duration(activeWindowDays) * 24 * time.Hour)

	stats, err := s.repo.LifecycleStats(ctx, since)
	if err != nil {
		return model.LifecycleStats{}, model.NewPersistenceError("ライフサイクル統計の取得", err)
	}
	stats.ActiveWindowDays = activeWindowDays
	stats.AverageDaysActive = math.Round(stats.AverageDaysActive*10) / 10
	return stats, nil
}

func (s *UpsertService) fail(op, url string, err error) error {
	s.metrics.RecordUpsert(metrics.UpsertFailed)
	s.logger.Error(op+"に失敗しました", "url", url, "error", err)
	return model.NewPersistenceError(op, err)
}

// newListing は未登録URLの観測から新規掲載を組み立てる。
// 指定されたフィールドのみをそのままコピーし、未指定とnullは未設定のままにする。
func newListing(raw model.RawListing, now time.Time) *model.Listing {
	l := &model.Listing{
		ID:        uuid.New().String(),
		URL:       raw.URL,
		Year:      raw.Year.Ptr(),
		Mileage:   raw.Mileage.Ptr(),
		Views:     raw.Views.Ptr(),
		Likes:     raw.Likes.Ptr(),
		Comments:  raw.Comments.Ptr(),
		FirstSeen: now,
		LastSeen:  now,
		ScrapedAt: now,
	}
	l.Platform, _ = raw.Platform.Get()
	l.Title, _ = raw.Title.Get()
	l.Make, _ = raw.Make.Get()
	l.Model, _ = raw.Model.Get()
	l.Location, _ = raw.Location.Get()
	if price, ok := raw.Price.Get(); ok {
		l.Price.Decimal = price
		l.Price.Valid = true
	}
	return l
}
