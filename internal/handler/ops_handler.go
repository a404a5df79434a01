// Package handler は運用向けHTTPエンドポイント（ヘルスチェック・メトリクス・状態）を提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jesushzv/cars-trends-tool/internal/middleware"
	"github.com/jesushzv/cars-trends-tool/internal/model"
	"github.com/jesushzv/cars-trends-tool/internal/worker/cycle"
)

// Pinger はデータベースの疎通確認を行う。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CycleStatusProvider はオーケストレーターの状態を返す。
type CycleStatusProvider interface {
	Status() cycle.Status
}

// LifecycleStatsProvider は掲載のライフサイクル統計を返す。
type LifecycleStatsProvider interface {
	Stats(ctx context.Context, activeWindowDays int) (model.LifecycleStats, error)
}

// DataAgeStatsProvider はデータの経過日数と保持ポリシーを返す。
type DataAgeStatsProvider interface {
	Stats(ctx context.Context) (model.CleanupStats, error)
}

// OpsHandler は運用エンドポイントのハンドラー。
type OpsHandler struct {
	db               Pinger
	cycle            CycleStatusProvider
	lifecycle        LifecycleStatsProvider
	dataAge          DataAgeStatsProvider
	activeWindowDays int
	pingTimeout      time.Duration
	logger           *slog.Logger
	started          time.Time
}

type healthResponse struct {
	Status        string  `json:"status"`
	Database      string  `json:"database"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type statusResponse struct {
	Cycle     *cycle.Status         `json:"cycle,omitempty"`
	Listings  *model.LifecycleStats `json:"listings,omitempty"`
	Retention *model.CleanupStats   `json:"retention,omitempty"`
	Errors    []string              `json:"errors,omitempty"`
}

// Health はデータベースへのPingに成功すれば200、失敗すれば503を返す。
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.pingTimeout)
	defer cancel()

	resp := healthResponse{
		Status:        "ok",
		Database:      "ok",
		UptimeSeconds: time.Since(h.started).Seconds(),
	}
	status := http.StatusOK
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Error("ヘルスチェックでデータベースに接続できませんでした", slog.String("error", err.Error()))
		resp.Status = "unavailable"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Status はオーケストレーターの状態、掲載のライフサイクル統計、データの経過日数をまとめて返す。
// 統計の取得に失敗した項目は省略し、errorsに記録する。
func (h *OpsHandler) Status(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse

	if h.cycle != nil {
		st := h.cycle.Status()
		resp.Cycle = &st
	}

	if h.lifecycle != nil {
		stats, err := h.lifecycle.Stats(r.Context(), h.activeWindowDays)
		if err != nil {
			h.logger.Error("ライフサイクル統計の取得に失敗しました", slog.String("error", err.Error()))
			resp.Errors = append(resp.Errors, "listings: "+err.Error())
		} else {
			resp.Listings = &stats
		}
	}

	if h.dataAge != nil {
		stats, err := h.dataAge.Stats(r.Context())
		if err != nil {
			h.logger.Error("データ経過日数の取得に失敗しました", slog.String("error", err.Error()))
			resp.Errors = append(resp.Errors, "retention: "+err.Error())
		} else {
			resp.Retention = &stats
		}
	}

	if resp.Cycle == nil && resp.Listings == nil && resp.Retention == nil && len(resp.Errors) > 0 {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, "STATUS_UNAVAILABLE", "状態を取得できませんでした。")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(resp)
}
