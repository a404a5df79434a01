// Package app はサブコマンドの解析と依存関係のワイヤリングを行い、各モードを起動する。
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jesushzv/cars-trends-tool/internal/config"
	"github.com/jesushzv/cars-trends-tool/internal/database"
	"github.com/jesushzv/cars-trends-tool/internal/handler"
	"github.com/jesushzv/cars-trends-tool/internal/logger"
	"github.com/jesushzv/cars-trends-tool/internal/worker/cycle"
)

const (
	dbPingTimeout    = 5 * time.Second
	redisPingTimeout = 3 * time.Second
	shutdownTimeout  = 30 * time.Second
)

// stdout は1回実行のサブコマンドが結果のJSONを書き出す先。
var stdout io.Writer = os.Stdout

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("timezone", cfg.Timezone),
	)

	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}

	switch cmd {
	case CommandSnapshot:
		return runSnapshot(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	case CommandCycle:
		return runCycle(cfg)
	case CommandTrends:
		return runTrendsCommand(cfg, rest)
	case CommandAnalytics:
		return runAnalyticsCommand(cfg, rest)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runWorker(cfg)
	}
}

// runWorker はワーカーモードで起動する。
// オーケストレーターでサイクルを定期実行し、運用エンドポイントをHTTPで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := openComponents(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.close()

	router := handler.NewRouter(&handler.RouterDeps{
		DB:               c.db,
		Cycle:            c.orchestrator,
		Lifecycle:        c.upserts,
		DataAge:          c.cleanup,
		Metrics:          c.metricsHandler(),
		ActiveWindowDays: cfg.ActiveWindowDays,
		Logger:           slog.Default(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("ops server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if err := c.orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	slog.Info("worker starting",
		slog.Duration("cycle_interval", cfg.CycleInterval),
		slog.Int("max_concurrent", cfg.CollectorMaxConcurrent),
	)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down worker...")
	case err := <-serverErr:
		slog.Error("server listen error", slog.String("error", err.Error()))
		runErr = fmt.Errorf("ops server failed: %w", err)
	}

	c.orchestrator.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("server shutdown failed: %w", err)
	}

	if runErr == nil {
		slog.Info("worker stopped gracefully")
	}
	return runErr
}

// runSnapshot は今日のスナップショットを1回生成し、結果をJSONで出力する。
func runSnapshot(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := openComponents(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.close()

	result, err := c.generator.Generate(ctx, time.Time{})
	if err != nil {
		return fmt.Errorf("snapshot generation failed: %w", err)
	}
	return writeJSON(stdout, result)
}

// runCleanup は保持期間クリーンアップを1回実行し、結果をJSONで出力する。
func runCleanup(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := openComponents(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.close()

	result, err := c.cleanup.CleanupAll(ctx)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return writeJSON(stdout, result)
}

// runCycle は1サイクルを実行し、結果をJSONで出力する。
// いずれかのステップが失敗した場合はエラーを返す。
func runCycle(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := openComponents(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.close()

	result := c.orchestrator.RunOnce(ctx)
	if err := writeJSON(stdout, result); err != nil {
		return err
	}
	return cycleError(result)
}

// cycleError はサイクル結果に失敗したステップがあればエラーにまとめる。
func cycleError(result cycle.CycleResult) error {
	var errs []error
	for _, run := range result.Collectors {
		if run.Status == cycle.StatusFailed {
			errs = append(errs, fmt.Errorf("collector %s: %s", run.Name, run.Error))
		}
	}
	if result.Snapshot.Status == cycle.StatusFailed {
		errs = append(errs, fmt.Errorf("snapshot: %s", result.Snapshot.Error))
	}
	if result.Cleanup.Status == cycle.StatusFailed {
		errs = append(errs, fmt.Errorf("cleanup: %s", result.Cleanup.Error))
	}
	return errors.Join(errs...)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("dirty", status.Dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
