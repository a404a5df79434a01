package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/jesushzv/cars-trends-tool/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

const listingColumns = `id, url, platform, title, price, make, model, year, mileage, location,
		        views, likes, comments, first_seen, last_seen, scraped_at`

// PostgresListingRepo はPostgreSQLを使用した掲載リポジトリ。
type PostgresListingRepo struct {
	db *sql.DB
}

// NewPostgresListingRepo はPostgresListingRepoを生成する。
func NewPostgresListingRepo(db *sql.DB) *PostgresListingRepo {
	return &PostgresListingRepo{db: db}
}

// FindByURL はURLで掲載を検索する。見つからない場合はnilを返す。
func (r *PostgresListingRepo) FindByURL(ctx context.Context, url string) (*model.Listing, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE url = $1`,
		url,
	)

	listing, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("掲載の取得に失敗しました: %w", err)
	}
	return listing, nil
}

// TryInsert は掲載を挿入する。
// URLが競合した場合はON CONFLICT DO NOTHINGにより行が挿入されず、InsertOutcomeConflictを返す。
func (r *PostgresListingRepo) TryInsert(ctx context.Context, l *model.Listing) (InsertOutcome, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO listings (id, url, platform, title, price, make, model, year, mileage, location,
		                       views, likes, comments, first_seen, last_seen, scraped_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (url) DO NOTHING`,
		l.ID, l.URL, nullString(l.Platform), nullString(l.Title), l.Price,
		nullString(l.Make), nullString(l.Model), l.Year, l.Mileage, nullString(l.Location),
		l.Views, l.Likes, l.Comments, l.FirstSeen, l.LastSeen, l.ScrapedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return InsertOutcomeConflict, nil
		}
		return InsertOutcomeCreated, fmt.Errorf("掲載の作成に失敗しました: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return InsertOutcomeCreated, fmt.Errorf("作成件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return InsertOutcomeConflict, nil
	}
	return InsertOutcomeCreated, nil
}

// ApplyObservation は既存掲載に再観測の部分更新を適用する。
// 未指定のフィールドは既存の値を維持し、first_seenは変更しない。
// last_seenはfirst_seenより前にならないよう補正する（競合した挿入側の時刻が後の場合）。
func (r *PostgresListingRepo) ApplyObservation(ctx context.Context, url string, p model.ListingPatch) (*model.Listing, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE listings SET
		    last_seen  = GREATEST(first_seen, $2::timestamptz),
		    scraped_at = GREATEST(first_seen, $2::timestamptz),
		    title    = CASE WHEN $3::boolean THEN $4::text ELSE title END,
		    price    = CASE WHEN $5::boolean THEN $6::numeric ELSE price END,
		    views    = CASE WHEN $7::boolean THEN $8::integer ELSE views END,
		    likes    = CASE WHEN $9::boolean THEN $10::integer ELSE likes END,
		    comments = CASE WHEN $11::boolean THEN $12::integer ELSE comments END
		 WHERE url = $1
		 RETURNING `+listingColumns,
		url, p.SeenAt,
		p.Title.Present(), optionalString(p.Title),
		p.Price.Present(), optionalDecimal(p.Price),
		p.Views.Present(), p.Views.Ptr(),
		p.Likes.Present(), p.Likes.Ptr(),
		p.Comments.Present(), p.Comments.Ptr(),
	)

	listing, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("掲載の更新に失敗しました: %w", err)
	}
	return listing, nil
}

// ListForAggregation はmakeとmodelが両方設定された掲載の集計用の列を返す。
func (r *PostgresListingRepo) ListForAggregation(ctx context.Context) ([]model.ListingPriceRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT make, model, platform, price
		 FROM listings
		 WHERE make IS NOT NULL AND model IS NOT NULL
		 ORDER BY make, model`,
	)
	if err != nil {
		return nil, fmt.Errorf("集計対象の掲載の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []model.ListingPriceRow
	for rows.Next() {
		var row model.ListingPriceRow
		var platform sql.NullString
		if err := rows.Scan(&row.Make, &row.Model, &platform, &row.Price); err != nil {
			return nil, fmt.Errorf("掲載行の読み取りに失敗しました: %w", err)
		}
		row.Platform = nullStringValue(platform)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("掲載一覧の走査に失敗しました: %w", err)
	}

	return result, nil
}

// ListFacts は掲載統計用の列を返す。platformが空の場合は全プラットフォームが対象。
func (r *PostgresListingRepo) ListFacts(ctx context.Context, platform string) ([]model.ListingFacts, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT make, model, platform, price, year, mileage
		 FROM listings
		 WHERE $1::text = '' OR platform = $1`,
		platform,
	)
	if err != nil {
		return nil, fmt.Errorf("統計対象の掲載の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []model.ListingFacts
	for rows.Next() {
		var f model.ListingFacts
		var carMake, carModel, plat sql.NullString
		var year, mileage sql.NullInt64
		if err := rows.Scan(&carMake, &carModel, &plat, &f.Price, &year, &mileage); err != nil {
			return nil, fmt.Errorf("掲載行の読み取りに失敗しました: %w", err)
		}
		f.Make = nullStringValue(carMake)
		f.Model = nullStringValue(carModel)
		f.Platform = nullStringValue(plat)
		f.Year = nullIntPtr(year)
		f.Mileage = nullIntPtr(mileage)
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("掲載一覧の走査に失敗しました: %w", err)
	}

	return result, nil
}

// DeleteSeenBefore はlast_seen < cutoffの掲載を削除する。
// 削除と残件数の取得は同一トランザクションで行い、失敗時は何も削除しない。
func (r *PostgresListingRepo) DeleteSeenBefore(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM listings WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("古い掲載の削除に失敗しました: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	var remaining int64
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM listings`).Scan(&remaining); err != nil {
		return 0, 0, fmt.Errorf("残件数の取得に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return deleted, remaining, nil
}

// LifecycleStats は掲載のライフサイクル統計を返す。
// AverageDaysActiveはfirst_seenからlast_seenまでの日数の平均。
func (r *PostgresListingRepo) LifecycleStats(ctx context.Context, activeSince time.Time) (model.LifecycleStats, error) {
	var stats model.LifecycleStats
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE last_seen >= $1),
		        COALESCE(AVG(EXTRACT(EPOCH FROM (last_seen - first_seen)) / 86400.0), 0)
		 FROM listings`,
		activeSince,
	).Scan(&stats.TotalListings, &stats.ActiveListings, &stats.AverageDaysActive)
	if err != nil {
		return model.LifecycleStats{}, fmt.Errorf("ライフサイクル統計の取得に失敗しました: %w", err)
	}

	stats.InactiveListings = stats.TotalListings - stats.ActiveListings
	return stats, nil
}

// AgeStats は掲載数とlast_seenの最古・最新、経過日数の区分を1クエリで返す。
func (r *PostgresListingRepo) AgeStats(ctx context.Context, now time.Time) (model.ListingAges, error) {
	var ages model.ListingAges
	var oldest, newest sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*), MIN(last_seen), MAX(last_seen),
		        count(*) FILTER (WHERE last_seen >= $1),
		        count(*) FILTER (WHERE last_seen >= $2),
		        count(*) FILTER (WHERE last_seen >= $3)
		 FROM listings`,
		now.AddDate(0, 0, -7), now.AddDate(0, 0, -30), now.AddDate(0, 0, -90),
	).Scan(&ages.Count, &oldest, &newest,
		&ages.Buckets.Last7Days, &ages.Buckets.Last30Days, &ages.Buckets.Last90Days)
	if err != nil {
		return model.ListingAges{}, fmt.Errorf("掲載の年齢統計の取得に失敗しました: %w", err)
	}

	ages.Oldest = nullTimePtr(oldest)
	ages.Newest = nullTimePtr(newest)
	ages.Buckets.OlderThan90Days = ages.Count - ages.Buckets.Last90Days
	return ages, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanListing はlistingColumnsの順で1行を読み取る。
func scanListing(s rowScanner) (*model.Listing, error) {
	l := &model.Listing{}
	var platform, title, mk, md, location sql.NullString
	var year, mileage, views, likes, comments sql.NullInt64

	if err := s.Scan(
		&l.ID, &l.URL, &platform, &title, &l.Price, &mk, &md, &year, &mileage, &location,
		&views, &likes, &comments, &l.FirstSeen, &l.LastSeen, &l.ScrapedAt,
	); err != nil {
		return nil, err
	}

	l.Platform = nullStringValue(platform)
	l.Title = nullStringValue(title)
	l.Make = nullStringValue(mk)
	l.Model = nullStringValue(md)
	l.Location = nullStringValue(location)
	l.Year = nullIntPtr(year)
	l.Mileage = nullIntPtr(mileage)
	l.Views = nullIntPtr(views)
	l.Likes = nullIntPtr(likes)
	l.Comments = nullIntPtr(comments)
	return l, nil
}

// isUniqueViolation はerrが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// nullString は空文字列をNULLに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullIntPtr はsql.NullInt64を*intに変換する。
func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// nullTimePtr はsql.NullTimeを*time.Timeに変換する。
func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// optionalString はOptionalの文字列をSQLパラメータに変換する。nullと空文字はNULLになる。
func optionalString(o model.Optional[string]) sql.NullString {
	v, _ := o.Get()
	return nullString(v)
}

// optionalDecimal はOptionalの価格をSQLパラメータに変換する。
func optionalDecimal(o model.Optional[decimal.Decimal]) decimal.NullDecimal {
	v, ok := o.Get()
	return decimal.NullDecimal{Decimal: v, Valid: ok}
}

var _ ListingRepository = (*PostgresListingRepo)(nil)
