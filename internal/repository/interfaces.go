// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/jesushzv/cars-trends-tool/internal/model"
)

// InsertOutcome はTryInsertの結果を表す。
// URLの一意制約違反はエラーではなくInsertOutcomeConflictとして返される。
type InsertOutcome int

const (
	// InsertOutcomeCreated は新規行が作成されたことを表す。
	InsertOutcomeCreated InsertOutcome = iota
	// InsertOutcomeConflict は同じURLの行が既に存在していたことを表す。
	InsertOutcomeConflict
)

// String はログ出力用の名前を返す。
func (o InsertOutcome) String() string {
	switch o {
	case InsertOutcomeCreated:
		return "created"
	case InsertOutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// ListingRepository は掲載データの永続化インターフェース。
type ListingRepository interface {
	// FindByURL はURLで掲載を検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Listing, error)

	// TryInsert は掲載を挿入する。同じURLの行が既に存在する場合は
	// 何も変更せずInsertOutcomeConflictを返す。
	TryInsert(ctx context.Context, listing *model.Listing) (InsertOutcome, error)

	// ApplyObservation は既存掲載に再観測の部分更新を適用し、更新後の行を返す。
	// 行が存在しない場合はnilを返す。
	ApplyObservation(ctx context.Context, url string, patch model.ListingPatch) (*model.Listing, error)

	// ListForAggregation はmakeとmodelが両方設定された掲載の集計用の列を返す。
	ListForAggregation(ctx context.Context) ([]model.ListingPriceRow, error)

	// ListFacts は掲載統計用の列を返す。platformが空でない場合はそのプラットフォームに絞り込む。
	ListFacts(ctx context.Context, platform string) ([]model.ListingFacts, error)

	// DeleteSeenBefore はlast_seen < cutoffの掲載を1トランザクションで削除し、
	// 削除件数と残件数を返す。
	DeleteSeenBefore(ctx context.Context, cutoff time.Time) (deleted, remaining int64, err error)

	// LifecycleStats は掲載のライフサイクル統計を返す。
	// last_seen >= activeSinceの掲載をアクティブとして数える。
	LifecycleStats(ctx context.Context, activeSince time.Time) (model.LifecycleStats, error)

	// AgeStats は掲載数とlast_seenの最古・最新、
	// およびnowを基準にした経過日数の区分を返す。
	AgeStats(ctx context.Context, now time.Time) (model.ListingAges, error)
}

// SnapshotRepository は日次スナップショットの永続化インターフェース。
type SnapshotRepository interface {
	// SaveDay は指定日のスナップショットを1トランザクションで作成または上書きする。
	// 1件でも失敗した場合は全体をロールバックする。
	SaveDay(ctx context.Context, date time.Time, stats []model.SnapshotStats, now time.Time) (created, updated int, err error)

	// ListForMakeModelSince は指定(make, model)のdate >= sinceのスナップショットを日付昇順で返す。
	ListForMakeModelSince(ctx context.Context, carMake, carModel string, since time.Time) ([]model.DailySnapshot, error)

	// ListByDate は指定日のスナップショットをmake, model順で返す。
	ListByDate(ctx context.Context, date time.Time) ([]model.DailySnapshot, error)

	// ListBetween はfrom <= date <= toのスナップショットを日付順で返す。
	ListBetween(ctx context.Context, from, to time.Time) ([]model.DailySnapshot, error)

	// DeleteBefore はdate < beforeのスナップショットを1トランザクションで削除し、
	// 削除件数と残件数を返す。
	DeleteBefore(ctx context.Context, before time.Time) (deleted, remaining int64, err error)

	// DateRange はスナップショット数と日付の最古・最新を返す。
	DateRange(ctx context.Context) (model.AgeRange, error)
}
