// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UPSERTの結果ラベル
const (
	UpsertCreated       = "created"
	UpsertUpdated       = "updated"
	UpsertRaceRecovered = "race_recovered"
	UpsertInvalid       = "invalid"
	UpsertFailed        = "failed"
)

// Recorder はメトリクス記録のインターフェース。
// 各エンジンとワーカーから利用する。
type Recorder interface {
	RecordUpsert(outcome string)
	RecordSnapshot(created, updated int)
	RecordCleanup(store string, deleted int64)
	RecordCollectorRun(collector string, ok bool)
	RecordCycleDuration(d time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	upserts        *prometheus.CounterVec
	snapshotGroups *prometheus.CounterVec
	cleanupDeleted *prometheus.CounterVec
	collectorRuns  *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carstrends_upserts_total",
			Help: "結果別の掲載UPSERT数",
		}, []string{"outcome"}),
		snapshotGroups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carstrends_snapshot_groups_total",
			Help: "作成・更新されたスナップショットのグループ数",
		}, []string{"result"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carstrends_cleanup_deleted_total",
			Help: "保持期間切れで削除された行数",
		}, []string{"store"}),
		collectorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carstrends_collector_runs_total",
			Help: "コレクター別・結果別の実行回数",
		}, []string{"collector", "status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "carstrends_cycle_duration_seconds",
			Help:    "収集・スナップショット・クリーンアップの1サイクルの所要時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}

	reg.MustRegister(
		c.upserts,
		c.snapshotGroups,
		c.cleanupDeleted,
		c.collectorRuns,
		c.cycleDuration,
	)

	return c
}

// RecordUpsert はUPSERTの結果を記録する。
func (c *Collector) RecordUpsert(outcome string) {
	c.upserts.WithLabelValues(outcome).Inc()
}

// RecordSnapshot はスナップショット生成で作成・更新されたグループ数を記録する。
func (c *Collector) RecordSnapshot(created, updated int) {
	c.snapshotGroups.WithLabelValues("created").Add(float64(created))
	c.snapshotGroups.WithLabelValues("updated").Add(float64(updated))
}

// RecordCleanup はストア別の削除件数を記録する。
func (c *Collector) RecordCleanup(store string, deleted int64) {
	c.cleanupDeleted.WithLabelValues(store).Add(float64(deleted))
}

// RecordCollectorRun はコレクターの実行結果を記録する。
func (c *Collector) RecordCollectorRun(collector string, ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	c.collectorRuns.WithLabelValues(collector, status).Inc()
}

// RecordCycleDuration はサイクルの所要時間を記録する。
func (c *Collector) RecordCycleDuration(d time.Duration) {
	c.cycleDuration.Observe(d.Seconds())
}

// Nop は何も記録しないRecorder。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordUpsert(string)               {}
func (Nop) RecordSnapshot(int, int)           {}
func (Nop) RecordCleanup(string, int64)       {}
func (Nop) RecordCollectorRun(string, bool)   {}
func (Nop) RecordCycleDuration(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
