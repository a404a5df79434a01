package model

import "fmt"

// ValidationError は不正な入力を表す。リトライしても成功しないため、呼び出し元へそのまま返す。
type ValidationError struct {
	Field   string // 不正なフィールド名
	Message string // エラーメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%sが不正です: %s", e.Field, e.Message)
}

// NewMissingURLError はURL未指定エラーを生成する。
func NewMissingURLError() *ValidationError {
	return &ValidationError{Field: "url", Message: "URLは必須です"}
}

// PersistenceError はストアへの永続化に失敗したことを表す。
// 呼び出し元（オーケストレーター）がサイクル全体を再実行するかを判断する。
type PersistenceError struct {
	Op  string // 失敗した操作
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *PersistenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%sに失敗しました", e.Op)
	}
	return fmt.Sprintf("%sに失敗しました: %v", e.Op, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError はPersistenceErrorを生成する。
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}
