// Package cache は集計ビュー（タイムライン、管理者投稿一覧）の派生キャッシュを提供する。
// キャッシュ層のエラーは呼び出し元に伝播させず、ログに記録してキャッシュミスとして扱う。
package cache

import (
	"context"
	"time"
)

// Store はキャッシュの保存先を抽象化するインターフェース。
// Redis実装とインメモリ実装がある。
type Store interface {
	// Get はキーに対応する値を返す。存在しない場合はfound=falseを返す。
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set は値をTTL付きで保存する。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete は指定キーを削除する。存在しないキーはエラーにしない。
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPrefix はいずれかのprefixで始まる全キーを1回の走査で削除し、削除件数を返す。
	DeleteByPrefix(ctx context.Context, prefixes ...string) (int, error)
}
