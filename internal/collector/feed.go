// Package collector はRSS/Atomの掲載フィードから掲載データを取得するコレクターを提供する。
package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/jesushzv/cars-trends-tool/internal/model"
)

const userAgent = "CarsTrends/1.0 (+listing feed collector)"

// FeedSource は1つの掲載フィードの設定。
type FeedSource struct {
	Name     string
	Platform string
	URL      string
}

// FeedCollector は掲載フィードを取得し、各記事をRawListingに変換する。
// ingest.Collectorインターフェースを実装する。
type FeedCollector struct {
	source      FeedSource
	client      *http.Client
	maxBodySize int64
	retry       RetryPolicy
	logger      *slog.Logger
	now         func() time.Time
}

// NewFeedCollector はFeedCollectorを生成する。
// clientには通常security.FeedGuard.SafeClientで生成したクライアントを渡す。
func NewFeedCollector(source FeedSource, client *http.Client, maxBodySize int64, logger *slog.Logger) *FeedCollector {
	return &FeedCollector{
		source:      source,
		client:      client,
		maxBodySize: maxBodySize,
		retry:       DefaultRetryPolicy(),
		logger:      logger,
		now:         time.Now,
	}
}

func (c *FeedCollector) Name() string     { return c.source.Name }
func (c *FeedCollector) Platform() string { return c.source.Platform }

// SetRetryPolicy は一時的な失敗に対する再試行の設定を変更する。
func (c *FeedCollector) SetRetryPolicy(p RetryPolicy) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	c.retry = p
}

// Collect はフィードを取得する。リンクを持たない記事は除外する。
// 通信エラーと429/5xxは指数バックオフで再試行し、それ以外のステータスとパース失敗は再試行しない。
func (c *FeedCollector) Collect(ctx context.Context) ([]model.RawListing, error) {
	start := time.Now()

	var body []byte
	var err error
	for attempt := 1; ; attempt++ {
		body, err = c.fetch(ctx)
		if err == nil {
			break
		}
		if attempt >= c.retry.Attempts || !retryable(err) {
			return nil, err
		}

		delay := c.retry.backoff(attempt)
		c.logger.Warn("フィードの取得を再試行します",
			slog.String("collector", c.source.Name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	listings := c.convertItems(feed.Items)
	c.logger.Info("フィードの取得が完了しました",
		slog.String("collector", c.source.Name),
		slog.String("feed_url", c.source.URL),
		slog.Int("items_total", len(feed.Items)),
		slog.Int("listings", len(listings)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return listings, nil
}

// fetch はフィードを1回取得し、レスポンスボディを返す。
func (c *FeedCollector) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	return body, nil
}

func (c *FeedCollector) convertItems(items []*gofeed.Item) []model.RawListing {
	maxYear := c.now().Year() + 1
	listings := make([]model.RawListing, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}

		raw := model.RawListing{URL: link}
		if c.source.Platform != "" {
			raw.Platform = model.Set(c.source.Platform)
		}

		title := strings.TrimSpace(item.Title)
		if title != "" {
			raw.Title = model.Set(title)
		}
		desc := htmlText(item.Description)

		if price, ok := parsePrice(title); ok {
			raw.Price = model.Set(price)
		} else if price, ok := parsePrice(desc); ok {
			raw.Price = model.Set(price)
		}
		if year, ok := parseYear(title, maxYear); ok {
			raw.Year = model.Set(year)
		}
		if carMake, carModel := parseMakeModel(title); carMake != "" {
			raw.Make = model.Set(carMake)
			if carModel != "" {
				raw.Model = model.Set(carModel)
			}
		}
		if mileage, ok := parseMileage(desc); ok {
			raw.Mileage = model.Set(mileage)
		}

		listings = append(listings, raw)
	}
	return listings
}
