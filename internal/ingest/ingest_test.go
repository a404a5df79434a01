package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jesushzv/cars-trends-tool/internal/model"
	"github.com/jesushzv/cars-trends-tool/internal/security"
)

type stubCollector struct {
	name     string
	platform string
	records  []model.RawListing
	err      error
}

func (c *stubCollector) Name() string     { return c.name }
func (c *stubCollector) Platform() string { return c.platform }
func (c *stubCollector) Collect(context.Context) ([]model.RawListing, error) {
	return c.records, c.err
}

// mockUpserter は受け取ったレコードを記録し、URLごとに指定されたエラーを返す。
type mockUpserter struct {
	mu       sync.Mutex
	received []model.RawListing
	errs     map[string]error
}

func (m *mockUpserter) Upsert(_ context.Context, raw model.RawListing) (*model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, raw)
	if err, ok := m.errs[raw.URL]; ok {
		return nil, err
	}
	if strings.TrimSpace(raw.URL) == "" {
		return nil, model.NewMissingURLError()
	}
	return &model.Listing{URL: raw.URL}, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestIngestor(u Upserter, buf *bytes.Buffer) *Ingestor {
	return NewIngestor(u, security.NewTextSanitizer(), newTestLogger(buf), Options{})
}

func TestIngest_UpsertsAllRecords(t *testing.T) {
	var buf bytes.Buffer
	up := &mockUpserter{}
	c := &stubCollector{name: "craigslist-tijuana", platform: "craigslist", records: []model.RawListing{
		{URL: "https://example.com/a", Price: model.Set(decimal.NewFromInt(15000))},
		{URL: "https://example.com/b"},
	}}

	result, err := newTestIngestor(up, &buf).Ingest(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Collector != "craigslist-tijuana" || result.Received != 2 || result.Upserted != 2 || result.Invalid != 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	var entry map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var e map[string]any
		if json.Unmarshal(line, &e) == nil && e["msg"] == "掲載の取り込み完了" {
			entry = e
		}
	}
	if entry == nil {
		t.Fatalf("completion log not found: %s", buf.String())
	}
	if entry["upserted"] != float64(2) {
		t.Errorf("expected upserted=2 in log, got %v", entry["upserted"])
	}
}

func TestIngest_StampsPlatformWhenAbsent(t *testing.T) {
	var buf bytes.Buffer
	up := &mockUpserter{}
	c := &stubCollector{name: "feed", platform: "craigslist", records: []model.RawListing{
		{URL: "https://example.com/a"},
		{URL: "https://example.com/b", Platform: model.Set("facebook")},
	}}

	if _, err := newTestIngestor(up, &buf).Ingest(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p, _ := up.received[0].Platform.Get(); p != "craigslist" {
		t.Errorf("expected stamped platform craigslist, got %q", p)
	}
	if p, _ := up.received[1].Platform.Get(); p != "facebook" {
		t.Errorf("expected explicit platform to be kept, got %q", p)
	}
}

func TestIngest_StripsMarkup(t *testing.T) {
	var buf bytes.Buffer
	up := &mockUpserter{}
	c := &stubCollector{name: "feed", records: []model.RawListing{
		{
			URL:      "https://example.com/a",
			Title:    model.Set("<b>2018 Honda Civic</b> &amp; more"),
			Location: model.Set("<script>x()</script>"),
		},
		{URL: "https://example.com/b"},
	}}

	if _, err := newTestIngestor(up, &buf).Ingest(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if title, _ := up.received[0].Title.Get(); title != "2018 Honda Civic & more" {
		t.Errorf("unexpected title %q", title)
	}
	if !up.received[0].Location.IsNull() {
		t.Error("expected location emptied by sanitizing to become null")
	}
	if up.received[1].Title.Present() {
		t.Error("absent title must stay absent")
	}
}

func TestIngest_SkipsValidationErrors(t *testing.T) {
	var buf bytes.Buffer
	up := &mockUpserter{}
	c := &stubCollector{name: "feed", records: []model.RawListing{
		{URL: ""},
		{URL: "https://example.com/a"},
	}}

	result, err := newTestIngestor(up, &buf).Ingest(context.Background(), c)
	if err != nil {
		t.Fatalf("validation errors must not abort the run: %v", err)
	}
	if result.Invalid != 1 || result.Upserted != 1 {
		t.Errorf("expected 1 invalid and 1 upserted, got %+v", result)
	}
	if !strings.Contains(buf.String(), "不正な掲載をスキップしました") {
		t.Error("expected skip warning in log")
	}
}

func TestIngest_AbortsOnPersistenceError(t *testing.T) {
	var buf bytes.Buffer
	storeErr := model.NewPersistenceError("掲載の作成", errors.New("connection refused"))
	up := &mockUpserter{errs: map[string]error{"https://example.com/b": storeErr}}
	c := &stubCollector{name: "feed", records: []model.RawListing{
		{URL: "https://example.com/a"},
		{URL: "https://example.com/b"},
		{URL: "https://example.com/c"},
	}}

	result, err := newTestIngestor(up, &buf).Ingest(context.Background(), c)
	if err == nil {
		t.Fatal("expected error")
	}
	var perr *model.PersistenceError
	if !errors.As(err, &perr) {
		t.Errorf("expected PersistenceError in chain, got %T", err)
	}
	if result.Upserted != 1 {
		t.Errorf("expected 1 upserted before abort, got %d", result.Upserted)
	}
	if len(up.received) != 2 {
		t.Errorf("expected processing to stop after failure, got %d calls", len(up.received))
	}
}

func TestIngest_CollectFailure(t *testing.T) {
	var buf bytes.Buffer
	up := &mockUpserter{}
	c := &stubCollector{name: "feed", err: errors.New("timeout")}

	if _, err := newTestIngestor(up, &buf).Ingest(context.Background(), c); err == nil {
		t.Fatal("expected error")
	}
	if len(up.received) != 0 {
		t.Error("no upserts expected when collection fails")
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Error("expected ERROR log")
	}
}

func TestIngest_RateLimited(t *testing.T) {
	var buf bytes.Buffer
	up := &mockUpserter{}
	records := make([]model.RawListing, 3)
	for i := range records {
		records[i] = model.RawListing{URL: "https://example.com/" + string(rune('a'+i))}
	}
	c := &stubCollector{name: "feed", records: records}

	ing := NewIngestor(up, security.NewTextSanitizer(), newTestLogger(&buf), Options{Rate: 20, Burst: 1})
	start := time.Now()
	if _, err := ing.Ingest(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// バースト1、20件/秒なので3件目までに少なくとも約100ms待つ
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("expected rate limiting delay, took %v", elapsed)
	}
}

func TestIngest_CancelledContext(t *testing.T) {
	var buf bytes.Buffer
	up := &mockUpserter{}
	c := &stubCollector{name: "feed", records: []model.RawListing{{URL: "https://example.com/a"}, {URL: "https://example.com/b"}}}

	ing := NewIngestor(up, security.NewTextSanitizer(), newTestLogger(&buf), Options{Rate: 0.001, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ing.Ingest(ctx, c); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
