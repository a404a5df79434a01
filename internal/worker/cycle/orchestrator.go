// Package cycle は収集・スナップショット生成・保持期間クリーンアップを
// 決まった順序で定期実行するジョブオーケストレーターを提供する。
package cycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jesushzv/cars-trends-tool/internal/ingest"
	"github.com/jesushzv/cars-trends-tool/internal/lock"
	"github.com/jesushzv/cars-trends-tool/internal/metrics"
	"github.com/jesushzv/cars-trends-tool/internal/model"
)

// ErrAlreadyRunning はStartを二重に呼び出した場合に返される。
var ErrAlreadyRunning = errors.New("orchestrator is already running")

// 1サイクル内のステップ名。実行順に並ぶ。
const (
	StepCollect  = "collect"
	StepSnapshot = "snapshot"
	StepCleanup  = "cleanup"
)

// Steps はサイクルのステップを実行順で返す。
func Steps() []string {
	return []string{StepCollect, StepSnapshot, StepCleanup}
}

// ステップの実行結果
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Ingester はコレクター1つ分の取り込みを実行する。
type Ingester interface {
	Ingest(ctx context.Context, c ingest.Collector) (ingest.IngestResult, error)
}

// SnapshotGenerator は日次スナップショットを生成する。
type SnapshotGenerator interface {
	Today() time.Time
	Generate(ctx context.Context, date time.Time) (model.SnapshotResult, error)
}

// Cleaner は設定された保持期間で古いデータを削除する。
type Cleaner interface {
	CleanupAll(ctx context.Context) (model.CleanupAllResult, error)
}

// Config はOrchestratorの設定。
type Config struct {
	Interval      time.Duration // サイクルの実行間隔
	MaxConcurrent int           // 同時に実行するコレクター数の上限
	Locker        lock.Locker   // スナップショット生成の排他制御。nilの場合はNopLocker
	LockTTL       time.Duration
	Metrics       metrics.Recorder
}

// CollectorRun は1つのコレクターの実行結果。
type CollectorRun struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Received int    `json:"received"`
	Upserted int    `json:"upserted"`
	Invalid  int    `json:"invalid"`
	Error    string `json:"error,omitempty"`
}

// StepResult はスナップショットとクリーンアップの実行結果。
type StepResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CycleResult は1サイクルの実行結果。
type CycleResult struct {
	ID          string                  `json:"id"`
	StartedAt   time.Time               `json:"started_at"`
	FinishedAt  time.Time               `json:"finished_at"`
	Collectors  []CollectorRun          `json:"collectors"`
	Snapshot    StepResult              `json:"snapshot"`
	SnapshotRun *model.SnapshotResult   `json:"snapshot_result,omitempty"`
	Cleanup     StepResult              `json:"cleanup"`
	CleanupRun  *model.CleanupAllResult `json:"cleanup_result,omitempty"`
}

// Status はオーケストレーターの状態。
type Status struct {
	Running   bool         `json:"running"`
	Interval  string       `json:"interval"`
	Steps     []string     `json:"steps"`
	NextRun   *time.Time   `json:"next_run,omitempty"`
	LastCycle *CycleResult `json:"last_cycle,omitempty"`
}

// Orchestrator はサイクルを定期実行する。
// プロセス内で同時に実行されるサイクルは常に1つで、ステップは
// 収集 → スナップショット生成 → クリーンアップの順に実行する。
// あるステップの失敗は記録し、後続のステップは実行する。
type Orchestrator struct {
	ingester   Ingester
	collectors []ingest.Collector
	snapshots  SnapshotGenerator
	cleaner    Cleaner
	logger     *slog.Logger
	cfg        Config

	cycleMu sync.Mutex // RunOnceの直列化

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	nextRun time.Time
	last    *CycleResult
}

// NewOrchestrator はOrchestratorを生成する。
// MaxConcurrentが0以下の場合は3、Intervalが0以下の場合は24時間を使用する。
func NewOrchestrator(
	ingester Ingester,
	collectors []ingest.Collector,
	snapshots SnapshotGenerator,
	cleaner Cleaner,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Locker == nil {
		cfg.Locker = lock.NopLocker{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	return &Orchestrator{
		ingester:   ingester,
		collectors: collectors,
		snapshots:  snapshots,
		cleaner:    cleaner,
		logger:     logger,
		cfg:        cfg,
	}
}

// Start はバックグラウンドでサイクルの定期実行を開始する。起動直後に1回実行する。
// すでに実行中の場合はErrAlreadyRunningを返す。
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancel = cancel
	o.done = make(chan struct{})
	o.nextRun = time.Now()

	o.logger.Info("ジョブオーケストレーターを開始しました",
		slog.Duration("interval", o.cfg.Interval),
		slog.Int("collectors", len(o.collectors)),
		slog.Int("max_concurrent", o.cfg.MaxConcurrent),
	)

	go o.loop(ctx, o.done)
	return nil
}

// Stop は定期実行を停止し、実行中のサイクルの終了を待つ。
// 実行中でない場合（Startに渡したコンテキストの終了で停止済みの場合を含む）は何もしない。
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	cancel()
	<-done
	o.logger.Info("ジョブオーケストレーターを停止しました")
}

// Status は現在の状態を返す。
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Status{
		Running:  o.running,
		Interval: o.cfg.Interval.String(),
		Steps:    Steps(),
	}
	if o.running && !o.nextRun.IsZero() {
		next := o.nextRun
		s.NextRun = &next
	}
	if o.last != nil {
		last := *o.last
		s.LastCycle = &last
	}
	return s
}

// loop はctxが終了するまでサイクルを実行する。
// 終了時に実行状態を解除するため、親コンテキストのキャンセル後も再びStartできる。
func (o *Orchestrator) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		o.mu.Lock()
		if o.done == done {
			o.cancel()
			o.running = false
			o.nextRun = time.Time{}
			o.cancel = nil
		}
		o.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	o.RunOnce(ctx)
	for {
		o.mu.Lock()
		o.nextRun = time.Now().Add(o.cfg.Interval)
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RunOnce(ctx)
		}
	}
}

// RunOnce はサイクルを1回実行し、結果を返す。
func (o *Orchestrator) RunOnce(ctx context.Context) CycleResult {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	result := CycleResult{ID: uuid.New().String(), StartedAt: time.Now()}
	log := o.logger.With(slog.String("cycle_id", result.ID))
	log.Info("サイクルを開始します")

	result.Collectors = o.collect(ctx, log)
	result.Snapshot, result.SnapshotRun = o.snapshot(ctx, log)
	result.Cleanup, result.CleanupRun = o.cleanup(ctx, log)

	result.FinishedAt = time.Now()
	duration := result.FinishedAt.Sub(result.StartedAt)
	o.cfg.Metrics.RecordCycleDuration(duration)

	failed := 0
	for _, c := range result.Collectors {
		if c.Status == StatusFailed {
			failed++
		}
	}
	log.Info("サイクルが完了しました",
		slog.Int("collectors", len(result.Collectors)),
		slog.Int("collectors_failed", failed),
		slog.String("snapshot", result.Snapshot.Status),
		slog.String("cleanup", result.Cleanup.Status),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)

	o.mu.Lock()
	o.last = &result
	o.mu.Unlock()
	return result
}

// collect は全コレクターを最大MaxConcurrent並列で実行する。
func (o *Orchestrator) collect(ctx context.Context, log *slog.Logger) []CollectorRun {
	runs := make([]CollectorRun, len(o.collectors))
	sem := make(chan struct{}, o.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for i, c := range o.collectors {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int, c ingest.Collector) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := o.ingester.Ingest(ctx, c)
			run := CollectorRun{
				Name:     c.Name(),
				Status:   StatusOK,
				Received: res.Received,
				Upserted: res.Upserted,
				Invalid:  res.Invalid,
			}
			if err != nil {
				run.Status = StatusFailed
				run.Error = err.Error()
				log.Error("コレクターの実行に失敗しました",
					slog.String("collector", c.Name()),
					slog.String("error", err.Error()),
				)
			}
			o.cfg.Metrics.RecordCollectorRun(c.Name(), err == nil)
			runs[i] = run
		}(i, c)
	}

	wg.Wait()
	return runs
}

// snapshot は今日のスナップショットを生成する。他のプロセスがロックを保持している場合はスキップする。
func (o *Orchestrator) snapshot(ctx context.Context, log *slog.Logger) (StepResult, *model.SnapshotResult) {
	today := o.snapshots.Today()
	key := "snapshot:" + model.FormatDate(today)

	release, ok, err := o.cfg.Locker.Acquire(ctx, key, o.cfg.LockTTL)
	if err != nil {
		log.Error("スナップショットのロック取得に失敗しました", slog.String("error", err.Error()))
		return StepResult{Status: StatusFailed, Error: err.Error()}, nil
	}
	if !ok {
		log.Info("他のプロセスがスナップショットを生成中のためスキップしました", slog.String("lock_key", key))
		return StepResult{Status: StatusSkipped}, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("スナップショットのロック解放に失敗しました", slog.String("error", err.Error()))
		}
	}()

	res, err := o.snapshots.Generate(ctx, today)
	if err != nil {
		return StepResult{Status: StatusFailed, Error: err.Error()}, nil
	}
	return StepResult{Status: StatusOK}, &res
}

func (o *Orchestrator) cleanup(ctx context.Context, log *slog.Logger) (StepResult, *model.CleanupAllResult) {
	res, err := o.cleaner.CleanupAll(ctx)
	if err != nil {
		log.Error("クリーンアップに失敗しました", slog.String("error", err.Error()))
		return StepResult{Status: StatusFailed, Error: err.Error()}, nil
	}
	return StepResult{Status: StatusOK}, &res
}
