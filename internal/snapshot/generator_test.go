package snapshot

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jesushzv/cars-trends-tool/internal/model"
	"github.com/jesushzv/cars-trends-tool/internal/repository"
)

// --- テスト用モック ---

// fakeListingRepo は集計対象の行だけを返すListingRepository。
type fakeListingRepo struct {
	repository.ListingRepository
	rows []model.ListingPriceRow
	err  error
}

func (f *fakeListingRepo) ListForAggregation(context.Context) ([]model.ListingPriceRow, error) {
	return f.rows, f.err
}

// fakeSnapshotRepo は(date, make, model)をキーにスナップショットを保持する。
type fakeSnapshotRepo struct {
	repository.SnapshotRepository
	rows    map[string]model.SnapshotStats
	saveErr error
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{rows: make(map[string]model.SnapshotStats)}
}

func (f *fakeSnapshotRepo) SaveDay(_ context.Context, date time.Time, stats []model.SnapshotStats, _ time.Time) (int, int, error) {
	if f.saveErr != nil {
		return 0, 0, f.saveErr
	}
	created, updated := 0, 0
	for _, s := range stats {
		key := model.FormatDate(date) + "|" + s.Make + "|" + s.Model
		if _, ok := f.rows[key]; ok {
			updated++
		} else {
			created++
		}
		f.rows[key] = s
	}
	return created, updated, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func civicRows() []model.ListingPriceRow {
	return []model.ListingPriceRow{
		{Make: "Honda", Model: "Civic", Platform: "craigslist", Price: price(18000)},
		{Make: "Honda", Model: "Civic", Platform: "craigslist", Price: price(16000)},
		{Make: "Honda", Model: "Civic", Platform: "facebook", Price: price(20000)},
	}
}

// 3件のHonda Civic(18000/16000/20000)から1行のスナップショットが生成される。
func TestGenerate_EndToEndCivic(t *testing.T) {
	listings := &fakeListingRepo{rows: civicRows()}
	snapshots := newFakeSnapshotRepo()
	var buf bytes.Buffer
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	g := NewGenerator(listings, snapshots, newTestLogger(&buf), Config{
		Platforms: testPlatforms,
		Now:       func() time.Time { return now },
	})

	result, err := g.Generate(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if result.Created != 1 || result.Updated != 0 || result.TotalGroups != 1 {
		t.Errorf("result = %+v, want created=1 updated=0 total=1", result)
	}
	if want := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC); !result.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", result.Date, want)
	}

	s := snapshots.rows["2024-06-01|Honda|Civic"]
	if s.ListingCount != 3 {
		t.Errorf("ListingCount = %d, want 3", s.ListingCount)
	}
	if !s.AvgPrice.Decimal.Equal(decimal.NewFromInt(18000)) ||
		!s.MinPrice.Decimal.Equal(decimal.NewFromInt(16000)) ||
		!s.MaxPrice.Decimal.Equal(decimal.NewFromInt(20000)) {
		t.Errorf("prices = %v/%v/%v, want 18000/16000/20000", s.AvgPrice, s.MinPrice, s.MaxPrice)
	}

	if !strings.Contains(buf.String(), "スナップショット生成完了") {
		t.Errorf("expected completion log, got: %s", buf.String())
	}
}

// 同じ日付で2回実行すると2回目はcreated=0で、値は変わらない。
func TestGenerate_Idempotent(t *testing.T) {
	listings := &fakeListingRepo{rows: civicRows()}
	snapshots := newFakeSnapshotRepo()
	var buf bytes.Buffer
	g := NewGenerator(listings, snapshots, newTestLogger(&buf), Config{Platforms: testPlatforms})
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	if _, err := g.Generate(context.Background(), day); err != nil {
		t.Fatalf("first Generate returned error: %v", err)
	}
	before := snapshots.rows["2024-06-01|Honda|Civic"]

	result, err := g.Generate(context.Background(), day)
	if err != nil {
		t.Fatalf("second Generate returned error: %v", err)
	}
	if result.Created != 0 || result.Updated != 1 {
		t.Errorf("second result = %+v, want created=0 updated=1", result)
	}

	after := snapshots.rows["2024-06-01|Honda|Civic"]
	if after.ListingCount != before.ListingCount ||
		after.AvgPrice.Decimal.String() != before.AvgPrice.Decimal.String() ||
		after.MinPrice.Decimal.String() != before.MinPrice.Decimal.String() ||
		after.MaxPrice.Decimal.String() != before.MaxPrice.Decimal.String() {
		t.Errorf("aggregate changed between runs: %+v -> %+v", before, after)
	}
	if len(snapshots.rows) != 1 {
		t.Errorf("rows = %d, want 1", len(snapshots.rows))
	}
}

// 別の日付の実行は過去のスナップショットに影響しない。
func TestGenerate_OtherDateUntouched(t *testing.T) {
	listings := &fakeListingRepo{rows: civicRows()}
	snapshots := newFakeSnapshotRepo()
	var buf bytes.Buffer
	g := NewGenerator(listings, snapshots, newTestLogger(&buf), Config{Platforms: testPlatforms})

	if _, err := g.Generate(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	listings.rows = nil
	result, err := g.Generate(context.Background(), time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if result.TotalGroups != 0 {
		t.Errorf("TotalGroups = %d, want 0", result.TotalGroups)
	}
	if _, ok := snapshots.rows["2024-06-01|Honda|Civic"]; !ok {
		t.Error("snapshot for the earlier date should remain")
	}
}

func TestGenerate_TodayUsesConfiguredLocation(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	// UTCでは6月2日だが、UTC-8では6月1日
	now := time.Date(2024, 6, 2, 3, 0, 0, 0, time.UTC)
	g := NewGenerator(&fakeListingRepo{}, newFakeSnapshotRepo(), newTestLogger(&bytes.Buffer{}), Config{
		Location: loc,
		Now:      func() time.Time { return now },
	})

	if want := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC); !g.Today().Equal(want) {
		t.Errorf("Today() = %v, want %v", g.Today(), want)
	}
}

func TestGenerate_DateKeepsItsOwnCalendarDay(t *testing.T) {
	snapshots := newFakeSnapshotRepo()
	g := NewGenerator(&fakeListingRepo{rows: civicRows()}, snapshots, newTestLogger(&bytes.Buffer{}), Config{Platforms: testPlatforms})

	// UTC+9の6月1日0時はUTCでは5月31日15時
	jst := time.FixedZone("JST", 9*3600)
	result, err := g.Generate(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, jst))
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if want := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC); !result.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", result.Date, want)
	}
	if _, ok := snapshots.rows["2024-06-01|Honda|Civic"]; !ok {
		t.Errorf("expected snapshot saved under 2024-06-01, got keys %v", snapshots.rows)
	}
}

func TestGenerate_FailuresArePersistenceErrors(t *testing.T) {
	tests := []struct {
		name      string
		listings  *fakeListingRepo
		snapshots *fakeSnapshotRepo
		wantLog   string
	}{
		{
			name:      "list failure",
			listings:  &fakeListingRepo{err: errors.New("timeout")},
			snapshots: newFakeSnapshotRepo(),
			wantLog:   "スナップショット集計対象の取得に失敗しました",
		},
		{
			name:      "save failure",
			listings:  &fakeListingRepo{rows: civicRows()},
			snapshots: &fakeSnapshotRepo{rows: map[string]model.SnapshotStats{}, saveErr: errors.New("deadlock")},
			wantLog:   "スナップショットの保存に失敗しました",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			g := NewGenerator(tt.listings, tt.snapshots, newTestLogger(&buf), Config{Platforms: testPlatforms})

			_, err := g.Generate(context.Background(), time.Time{})

			var pErr *model.PersistenceError
			if !errors.As(err, &pErr) {
				t.Fatalf("error = %v, want PersistenceError", err)
			}
			if !strings.Contains(buf.String(), tt.wantLog) {
				t.Errorf("expected log %q, got: %s", tt.wantLog, buf.String())
			}
			if len(tt.snapshots.rows) != 0 {
				t.Errorf("no snapshot should be stored on failure, got %d", len(tt.snapshots.rows))
			}
		})
	}
}
