package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jesushzv/cars-trends-tool/internal/model"
)

const snapshotColumns = `id, date, make, model, listing_count, avg_price, min_price, max_price,
		        platform_counts, created_at, updated_at`

// PostgresSnapshotRepo はPostgreSQLを使用した日次スナップショットリポジトリ。
type PostgresSnapshotRepo struct {
	db *sql.DB
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db}
}

// SaveDay は指定日のスナップショットを作成または上書きする。
// (date, make, model)の一意制約でUPSERTし、xmax = 0で新規作成か更新かを判定する。
// 全グループを1トランザクションで保存し、1件でも失敗した場合は何も保存しない。
func (r *PostgresSnapshotRepo) SaveDay(ctx context.Context, date time.Time, stats []model.SnapshotStats, now time.Time) (int, int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO daily_snapshots (id, date, make, model, listing_count, avg_price, min_price, max_price,
		                              platform_counts, created_at, updated_at)
		 VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $10)
		 ON CONFLICT (date, make, model) DO UPDATE SET
		    listing_count   = EXCLUDED.listing_count,
		    avg_price       = EXCLUDED.avg_price,
		    min_price       = EXCLUDED.min_price,
		    max_price       = EXCLUDED.max_price,
		    platform_counts = EXCLUDED.platform_counts,
		    updated_at      = EXCLUDED.updated_at
		 RETURNING (xmax = 0)`,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("スナップショット保存文の準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	day := model.FormatDate(date)
	created, updated := 0, 0
	for _, s := range stats {
		counts, err := encodePlatformCounts(s.PlatformCounts)
		if err != nil {
			return 0, 0, err
		}

		var inserted bool
		err = stmt.QueryRowContext(ctx,
			uuid.New().String(), day, s.Make, s.Model, s.ListingCount,
			s.AvgPrice, s.MinPrice, s.MaxPrice, counts, now,
		).Scan(&inserted)
		if err != nil {
			return 0, 0, fmt.Errorf("スナップショットの保存に失敗しました (%s %s): %w", s.Make, s.Model, err)
		}

		if inserted {
			created++
		} else {
			updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, updated, nil
}

// ListForMakeModelSince は指定(make, model)のdate >= sinceのスナップショットを日付昇順で返す。
func (r *PostgresSnapshotRepo) ListForMakeModelSince(ctx context.Context, carMake, carModel string, since time.Time) ([]model.DailySnapshot, error) {
	return r.list(ctx,
		`SELECT `+snapshotColumns+` FROM daily_snapshots
		 WHERE make = $1 AND model = $2 AND date >= $3::date
		 ORDER BY date ASC`,
		carMake, carModel, model.FormatDate(since),
	)
}

// ListByDate は指定日のスナップショットをmake, model順で返す。
func (r *PostgresSnapshotRepo) ListByDate(ctx context.Context, date time.Time) ([]model.DailySnapshot, error) {
	return r.list(ctx,
		`SELECT `+snapshotColumns+` FROM daily_snapshots
		 WHERE date = $1::date
		 ORDER BY make, model`,
		model.FormatDate(date),
	)
}

// ListBetween はfrom <= date <= toのスナップショットを日付順で返す。
func (r *PostgresSnapshotRepo) ListBetween(ctx context.Context, from, to time.Time) ([]model.DailySnapshot, error) {
	return r.list(ctx,
		`SELECT `+snapshotColumns+` FROM daily_snapshots
		 WHERE date >= $1::date AND date <= $2::date
		 ORDER BY date, make, model`,
		model.FormatDate(from), model.FormatDate(to),
	)
}

// DeleteBefore はdate < beforeのスナップショットを削除する。
// 削除と残件数の取得は同一トランザクションで行う。
func (r *PostgresSnapshotRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM daily_snapshots WHERE date < $1::date`, model.FormatDate(before))
	if err != nil {
		return 0, 0, fmt.Errorf("古いスナップショットの削除に失敗しました: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	var remaining int64
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM daily_snapshots`).Scan(&remaining); err != nil {
		return 0, 0, fmt.Errorf("残件数の取得に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return deleted, remaining, nil
}

// DateRange はスナップショット数と日付の最古・最新を返す。
func (r *PostgresSnapshotRepo) DateRange(ctx context.Context) (model.AgeRange, error) {
	var ar model.AgeRange
	var oldest, newest sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*), MIN(date), MAX(date) FROM daily_snapshots`,
	).Scan(&ar.Count, &oldest, &newest)
	if err != nil {
		return model.AgeRange{}, fmt.Errorf("スナップショットの日付範囲の取得に失敗しました: %w", err)
	}

	if oldest.Valid {
		d := model.DateOf(oldest.Time, time.UTC)
		ar.Oldest = &d
	}
	if newest.Valid {
		d := model.DateOf(newest.Time, time.UTC)
		ar.Newest = &d
	}
	return ar, nil
}

func (r *PostgresSnapshotRepo) list(ctx context.Context, query string, args ...any) ([]model.DailySnapshot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("スナップショットの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []model.DailySnapshot
	for rows.Next() {
		var s model.DailySnapshot
		var counts []byte
		if err := rows.Scan(
			&s.ID, &s.Date, &s.Make, &s.Model, &s.ListingCount,
			&s.AvgPrice, &s.MinPrice, &s.MaxPrice,
			&counts, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("スナップショット行の読み取りに失敗しました: %w", err)
		}

		s.Date = model.DateOf(s.Date, time.UTC)
		s.PlatformCounts, err = decodePlatformCounts(counts)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("スナップショット一覧の走査に失敗しました: %w", err)
	}

	return result, nil
}

// encodePlatformCounts はプラットフォーム別件数をJSONBに保存する形式へ変換する。
// encoding/jsonはマップのキーをソートして出力するため、同じ件数からは常に同じバイト列になる。
func encodePlatformCounts(counts map[string]int) (string, error) {
	if counts == nil {
		return "{}", nil
	}
	b, err := json.Marshal(counts)
	if err != nil {
		return "", fmt.Errorf("プラットフォーム別件数のエンコードに失敗しました: %w", err)
	}
	return string(b), nil
}

// decodePlatformCounts はJSONBのプラットフォーム別件数を読み取る。
func decodePlatformCounts(b []byte) (map[string]int, error) {
	counts := map[string]int{}
	if len(b) == 0 {
		return counts, nil
	}
	if err := json.Unmarshal(b, &counts); err != nil {
		return nil, fmt.Errorf("プラットフォーム別件数のデコードに失敗しました: %w", err)
	}
	return counts, nil
}

var _ SnapshotRepository = (*PostgresSnapshotRepo)(nil)
