// Package model はドメインモデルを定義する。
package model

// Optional は部分更新用のフィールドを表す。
// ゼロ値は「未指定」を意味し、明示的なnull（Null）と区別される。
// 未指定のフィールドは更新時に既存の値を維持する。
type Optional[T any] struct {
	present bool
	value   *T
}

// Set は値を持つOptionalを生成する。
func Set[T any](v T) Optional[T] {
	return Optional[T]{present: true, value: &v}
}

// Null は明示的なnullを表すOptionalを生成する。
func Null[T any]() Optional[T] {
	return Optional[T]{present: true}
}

// Present はフィールドが指定されているか（値またはnull）を返す。
func (o Optional[T]) Present() bool {
	return o.present
}

// IsNull はフィールドが明示的なnullとして指定されているかを返す。
func (o Optional[T]) IsNull() bool {
	return o.present && o.value == nil
}

// Get は値と、値が存在するかどうかを返す。未指定・nullの場合はゼロ値とfalseを返す。
func (o Optional[T]) Get() (T, bool) {
	if o.value == nil {
		var zero T
		return zero, false
	}
	return *o.value, true
}

// Ptr は値へのポインタを返す。未指定・nullの場合はnil。
func (o Optional[T]) Ptr() *T {
	if o.value == nil {
		return nil
	}
	v := *o.value
	return &v
}
