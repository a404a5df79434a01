// Package lock はプロセス間で同じジョブが重複実行されないようにする排他ロックを提供する。
package lock

import (
	"context"
	"time"
)

// ReleaseFunc は取得したロックを解放する。
type ReleaseFunc func(ctx context.Context) error

// Locker はTTL付きの排他ロックを取得する。
// 他のプロセスがロックを保持している場合はokがfalseになり、エラーは返さない。
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release ReleaseFunc, ok bool, err error)
}

// NopLocker は常にロックを取得できるLocker。単一プロセスで動かす場合に使う。
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string, time.Duration) (ReleaseFunc, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

var _ Locker = NopLocker{}
