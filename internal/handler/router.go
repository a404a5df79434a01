package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jesushzv/cars-trends-tool/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	DB               Pinger
	Cycle            CycleStatusProvider    // nilの場合は/statusに含めない
	Lifecycle        LifecycleStatsProvider // nilの場合は/statusに含めない
	DataAge          DataAgeStatsProvider   // nilの場合は/statusに含めない
	Metrics          http.Handler
	ActiveWindowDays int
	PingTimeout      time.Duration // 0の場合は2秒
	Logger           *slog.Logger
}

// NewRouter は運用エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging
func NewRouter(deps *RouterDeps) http.Handler {
	pingTimeout := deps.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	h := &OpsHandler{
		db:               deps.DB,
		cycle:            deps.Cycle,
		lifecycle:        deps.Lifecycle,
		dataAge:          deps.DataAge,
		activeWindowDays: deps.ActiveWindowDays,
		pingTimeout:      pingTimeout,
		logger:           deps.Logger,
		started:          time.Now(),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	r.Get("/health", h.Health)
	r.Get("/status", h.Status)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	return r
}
