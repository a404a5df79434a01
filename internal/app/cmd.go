package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandWorker はオーケストレーターと運用HTTPサーバーを常駐起動することを示す。
	CommandWorker Command = "worker"
	// CommandSnapshot は今日のスナップショットを1回生成して終了することを示す。
	CommandSnapshot Command = "snapshot"
	// CommandCleanup は保持期間クリーンアップを1回実行して終了することを示す。
	CommandCleanup Command = "cleanup"
	// CommandCycle は収集・スナップショット・クリーンアップの1サイクルを実行して終了することを示す。
	CommandCycle Command = "cycle"
	// CommandTrends はスナップショットに対するトレンドクエリを実行して結果を出力することを示す。
	CommandTrends Command = "trends"
	// CommandAnalytics は現在の掲載に対する市場統計を実行して結果を出力することを示す。
	CommandAnalytics Command = "analytics"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandWorkerを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandWorker
	}

	switch cmd := Command(args[0]); cmd {
	case CommandWorker, CommandSnapshot, CommandCleanup, CommandCycle,
		CommandTrends, CommandAnalytics, CommandMigrate, CommandHealthcheck:
		return cmd
	default:
		return CommandWorker
	}
}
