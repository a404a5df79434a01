package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// fetchClass はHTTPステータスコードに基づくフェッチ結果の分類。
type fetchClass int

const (
	// fetchOK はフェッチ成功（200）。
	fetchOK fetchClass = iota
	// fetchPermanent は再試行しても成功しないステータス（404/410/401/403など）。
	fetchPermanent
	// fetchTransient は再試行が必要なステータス（429/5xx）。
	fetchTransient
)

// classifyStatus はHTTPステータスコードをフェッチ結果に分類する。
func classifyStatus(statusCode int) fetchClass {
	switch {
	case statusCode == http.StatusOK:
		return fetchOK
	case statusCode == http.StatusTooManyRequests:
		return fetchTransient
	case statusCode >= 500:
		return fetchTransient
	default:
		return fetchPermanent
	}
}

// RetryPolicy は一時的な失敗に対する再試行の設定。
type RetryPolicy struct {
	Attempts     int           // 初回を含む最大試行回数
	InitialDelay time.Duration // 初回の待機時間。以降2倍ずつ増加する
	MaxDelay     time.Duration
}

// DefaultRetryPolicy は3回まで試行し、2秒から最大30秒の指数バックオフで待機する。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// backoff はfailures回連続で失敗した後の待機時間を返す。
func (p RetryPolicy) backoff(failures int) time.Duration {
	delay := p.InitialDelay
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// StatusError は200以外のHTTPステータスを表す。
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("予期しないHTTPステータス: %d", e.StatusCode)
}

// retryable はerrが再試行で解消する可能性のある失敗かを判定する。
// ステータスエラーは429/5xxのみ、それ以外の通信エラーは常に再試行する。
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.StatusCode) == fetchTransient
	}
	return true
}

// sleepContext はdの間待機する。ctxがキャンセルされた場合はその時点でctx.Err()を返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
