// Package retry はデータストア呼び出しの再試行ポリシーを提供する。
// 再試行するのはmodel.IsRetryableなエラー（ストア到達不能）のみで、
// NotFoundや重複などの判定結果は1回目で確定させる。
package retry

import (
	"context"
	"time"

	"github.com/hitoshi/socialfeed/internal/model"
)

// Policy は指数バックオフによる再試行の設定を表す。
type Policy struct {
	MaxAttempts    int           // 初回を含む最大試行回数
	InitialBackoff time.Duration // 1回目の再試行前の待機時間
	MaxBackoff     time.Duration // 待機時間の上限
}

// DefaultPolicy はデフォルトの再試行設定を返す。
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// CalculateBackoff はattempt回目（0始まり）の再試行前の待機時間を計算する。
// InitialBackoffから2倍ずつ増加し、MaxBackoffで頭打ちになる。
func (p Policy) CalculateBackoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.MaxBackoff > 0 && delay > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return delay
}

// Do はfnを実行し、再試行可能なエラーの場合はバックオフを挟んで再実行する。
// コンテキストがキャンセルされた場合は待機を打ち切り、最後のエラーを返す。
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !model.IsRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(p.CalculateBackoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// Value はDoの戻り値付き版。
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
