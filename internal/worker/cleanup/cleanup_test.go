package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jesushzv/cars-trends-tool/internal/model"
	"github.com/jesushzv/cars-trends-tool/internal/repository"
)

// fakeListingRepo はlast_seenのリストで掲載ストアを表すモック。
type fakeListingRepo struct {
	repository.ListingRepository
	lastSeen   []time.Time
	cutoff     time.Time
	deleteErr  error
	ages       model.ListingAges
	agesNow    time.Time
	deleteCall int
}

func (f *fakeListingRepo) DeleteSeenBefore(_ context.Context, cutoff time.Time) (int64, int64, error) {
	f.deleteCall++
	f.cutoff = cutoff
	if f.deleteErr != nil {
		return 0, 0, f.deleteErr
	}
	var kept []time.Time
	var deleted int64
	for _, ts := range f.lastSeen {
		if ts.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ts)
	}
	f.lastSeen = kept
	return deleted, int64(len(kept)), nil
}

func (f *fakeListingRepo) AgeStats(_ context.Context, now time.Time) (model.ListingAges, error) {
	f.agesNow = now
	return f.ages, nil
}

// fakeSnapshotRepo は日付のリストでスナップショットストアを表すモック。
type fakeSnapshotRepo struct {
	repository.SnapshotRepository
	dates      []time.Time
	before     time.Time
	deleteErr  error
	dateRange  model.AgeRange
	deleteCall int
}

func (f *fakeSnapshotRepo) DeleteBefore(_ context.Context, before time.Time) (int64, int64, error) {
	f.deleteCall++
	f.before = before
	if f.deleteErr != nil {
		return 0, 0, f.deleteErr
	}
	var kept []time.Time
	var deleted int64
	for _, d := range f.dates {
		if d.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	f.dates = kept
	return deleted, int64(len(kept)), nil
}

func (f *fakeSnapshotRepo) DateRange(context.Context) (model.AgeRange, error) {
	return f.dateRange, nil
}

// fakeRecorder は記録されたクリーンアップ件数を保持する。
type fakeRecorder struct {
	deleted map[string]int64
}

func (r *fakeRecorder) RecordUpsert(string)               {}
func (r *fakeRecorder) RecordSnapshot(int, int)           {}
func (r *fakeRecorder) RecordCollectorRun(string, bool)   {}
func (r *fakeRecorder) RecordCycleDuration(time.Duration) {}
func (r *fakeRecorder) RecordCleanup(store string, n int64) {
	if r.deleted == nil {
		r.deleted = map[string]int64{}
	}
	r.deleted[store] += n
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

var fixedNow = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

func newTestJob(listings *fakeListingRepo, snapshots *fakeSnapshotRepo, buf *bytes.Buffer) *CleanupJob {
	job := NewCleanupJob(listings, snapshots, time.UTC, newTestLogger(buf))
	job.SetClock(func() time.Time { return fixedNow })
	return job
}

func TestNewCleanupJob_Defaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&fakeListingRepo{}, &fakeSnapshotRepo{}, nil, newTestLogger(&buf))

	if job.ListingRetentionDays != 90 {
		t.Errorf("ListingRetentionDays = %d, want 90", job.ListingRetentionDays)
	}
	if job.SnapshotRetentionDays != 180 {
		t.Errorf("SnapshotRetentionDays = %d, want 180", job.SnapshotRetentionDays)
	}
}

// last_seen = now - 90日 - 1秒は削除され、now - 90日 + 1秒は残る。
func TestCleanupListings_RetentionBoundary(t *testing.T) {
	horizon := fixedNow.Add(-90 * 24 * time.Hour)
	listings := &fakeListingRepo{lastSeen: []time.Time{
		horizon.Add(-time.Second),
		horizon.Add(time.Second),
		fixedNow,
	}}
	var buf bytes.Buffer
	job := newTestJob(listings, &fakeSnapshotRepo{}, &buf)

	result, err := job.CleanupListings(context.Background(), 90)
	if err != nil {
		t.Fatalf("CleanupListings returned error: %v", err)
	}
	if result.Deleted != 1 || result.Remaining != 2 {
		t.Errorf("deleted/remaining = %d/%d, want 1/2", result.Deleted, result.Remaining)
	}
	if !result.Cutoff.Equal(horizon) {
		t.Errorf("Cutoff = %v, want %v", result.Cutoff, horizon)
	}
	if result.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", result.RetentionDays)
	}
	for _, ts := range listings.lastSeen {
		if ts.Before(horizon) {
			t.Errorf("listing with last_seen %v should have been deleted", ts)
		}
	}
}

func TestCleanupListings_LogsResult(t *testing.T) {
	listings := &fakeListingRepo{lastSeen: []time.Time{fixedNow.AddDate(0, 0, -200)}}
	var buf bytes.Buffer
	job := newTestJob(listings, &fakeSnapshotRepo{}, &buf)

	if _, err := job.CleanupListings(context.Background(), 90); err != nil {
		t.Fatalf("CleanupListings returned error: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("failed to parse log: %v", err)
	}
	if entry["msg"] != "掲載クリーンアップジョブが完了しました" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["deleted_count"] != float64(1) {
		t.Errorf("deleted_count = %v, want 1", entry["deleted_count"])
	}
	if entry["retention_days"] != float64(90) {
		t.Errorf("retention_days = %v, want 90", entry["retention_days"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("duration_ms should be logged")
	}
}

func TestCleanupListings_NonPositiveUsesDefault(t *testing.T) {
	listings := &fakeListingRepo{}
	var buf bytes.Buffer
	job := newTestJob(listings, &fakeSnapshotRepo{}, &buf)

	result, err := job.CleanupListings(context.Background(), 0)
	if err != nil {
		t.Fatalf("CleanupListings returned error: %v", err)
	}
	if result.RetentionDays != DefaultListingRetentionDays {
		t.Errorf("RetentionDays = %d, want %d", result.RetentionDays, DefaultListingRetentionDays)
	}
}

// スナップショットは今日 - 日数より前の日付だけが削除される。
func TestCleanupSnapshots_DateCutoff(t *testing.T) {
	today := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	snapshots := &fakeSnapshotRepo{dates: []time.Time{
		today.AddDate(0, 0, -181),
		today.AddDate(0, 0, -180),
		today,
	}}
	var buf bytes.Buffer
	job := newTestJob(&fakeListingRepo{}, snapshots, &buf)

	result, err := job.CleanupSnapshots(context.Background(), 180)
	if err != nil {
		t.Fatalf("CleanupSnapshots returned error: %v", err)
	}
	if !snapshots.before.Equal(today.AddDate(0, 0, -180)) {
		t.Errorf("cutoff = %v, want %v", snapshots.before, today.AddDate(0, 0, -180))
	}
	if result.Deleted != 1 || result.Remaining != 2 {
		t.Errorf("deleted/remaining = %d/%d, want 1/2", result.Deleted, result.Remaining)
	}
}

func TestCleanupSnapshots_UsesConfiguredLocation(t *testing.T) {
	snapshots := &fakeSnapshotRepo{}
	var buf bytes.Buffer
	// UTCでは6月15日10:30だが、UTC+14では6月16日
	job := NewCleanupJob(&fakeListingRepo{}, snapshots, time.FixedZone("LINT", 14*3600), newTestLogger(&buf))
	job.SetClock(func() time.Time { return fixedNow })

	if _, err := job.CleanupSnapshots(context.Background(), 10); err != nil {
		t.Fatalf("CleanupSnapshots returned error: %v", err)
	}
	if want := time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC); !snapshots.before.Equal(want) {
		t.Errorf("cutoff = %v, want %v", snapshots.before, want)
	}
}

func TestCleanupAll_CombinesResults(t *testing.T) {
	listings := &fakeListingRepo{lastSeen: []time.Time{fixedNow.AddDate(0, 0, -100), fixedNow.AddDate(0, 0, -95), fixedNow}}
	snapshots := &fakeSnapshotRepo{dates: []time.Time{fixedNow.AddDate(0, 0, -365)}}
	rec := &fakeRecorder{}
	var buf bytes.Buffer
	job := newTestJob(listings, snapshots, &buf)
	job.SetMetrics(rec)

	result, err := job.CleanupAll(context.Background())
	if err != nil {
		t.Fatalf("CleanupAll returned error: %v", err)
	}
	if result.Listings.Deleted != 2 || result.Snapshots.Deleted != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.TotalDeleted != 3 {
		t.Errorf("TotalDeleted = %d, want 3", result.TotalDeleted)
	}
	if result.Listings.RetentionDays != 90 || result.Snapshots.RetentionDays != 180 {
		t.Errorf("retention days = %d/%d, want 90/180", result.Listings.RetentionDays, result.Snapshots.RetentionDays)
	}
	if rec.deleted["listings"] != 2 || rec.deleted["snapshots"] != 1 {
		t.Errorf("recorded = %v", rec.deleted)
	}
}

func TestCleanupAll_ListingFailureStops(t *testing.T) {
	listings := &fakeListingRepo{deleteErr: errors.New("serialization failure")}
	snapshots := &fakeSnapshotRepo{}
	var buf bytes.Buffer
	job := newTestJob(listings, snapshots, &buf)

	_, err := job.CleanupAll(context.Background())

	var pErr *model.PersistenceError
	if !errors.As(err, &pErr) {
		t.Fatalf("error = %v, want PersistenceError", err)
	}
	if snapshots.deleteCall != 0 {
		t.Error("snapshot cleanup should not run after listing cleanup failed")
	}
	if !strings.Contains(buf.String(), "掲載クリーンアップジョブの実行に失敗しました") {
		t.Errorf("expected error log, got: %s", buf.String())
	}
}

func TestStats_ReportsAgesAndPolicy(t *testing.T) {
	oldest := fixedNow.AddDate(0, 0, -45)
	newest := fixedNow
	oldestSnap := time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC)
	listings := &fakeListingRepo{ages: model.ListingAges{AgeRange: model.AgeRange{Count: 12, Oldest: &oldest, Newest: &newest}}}
	snapshots := &fakeSnapshotRepo{dateRange: model.AgeRange{Count: 30, Oldest: &oldestSnap}}
	var buf bytes.Buffer
	job := newTestJob(listings, snapshots, &buf)
	job.ListingRetentionDays = 60

	stats, err := job.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Data.TotalListings != 12 || stats.Data.TotalSnapshots != 30 {
		t.Errorf("totals = %d/%d", stats.Data.TotalListings, stats.Data.TotalSnapshots)
	}
	if stats.Data.OldestListingAge == nil || *stats.Data.OldestListingAge != 45 {
		t.Errorf("OldestListingAge = %v, want 45", stats.Data.OldestListingAge)
	}
	if stats.Data.OldestSnapshotAge == nil || *stats.Data.OldestSnapshotAge != 30 {
		t.Errorf("OldestSnapshotAge = %v, want 30", stats.Data.OldestSnapshotAge)
	}
	if stats.Policy.ListingRetentionDays != 60 || stats.Policy.SnapshotRetentionDays != 180 {
		t.Errorf("policy = %+v", stats.Policy)
	}
}

func TestStats_ReportsListingAgeBuckets(t *testing.T) {
	buckets := model.ListingAgeBuckets{Last7Days: 3, Last30Days: 5, Last90Days: 9, OlderThan90Days: 2}
	listings := &fakeListingRepo{ages: model.ListingAges{AgeRange: model.AgeRange{Count: 11}, Buckets: buckets}}
	var buf bytes.Buffer
	job := newTestJob(listings, &fakeSnapshotRepo{}, &buf)

	stats, err := job.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Data.ListingAgeBuckets != buckets {
		t.Errorf("ListingAgeBuckets = %+v, want %+v", stats.Data.ListingAgeBuckets, buckets)
	}
	if !listings.agesNow.Equal(fixedNow) {
		t.Errorf("AgeStats now = %v, want %v", listings.agesNow, fixedNow)
	}
}

func TestStats_EmptyStores(t *testing.T) {
	var buf bytes.Buffer
	job := newTestJob(&fakeListingRepo{}, &fakeSnapshotRepo{}, &buf)

	stats, err := job.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Data.OldestListingAge != nil || stats.Data.OldestSnapshotAge != nil {
		t.Errorf("ages should be nil for empty stores: %+v", stats.Data)
	}
}
