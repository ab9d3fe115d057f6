package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore はプロセス内のTTLキャッシュ（ttlcache）を使用したStore実装。
// REDIS_URL未設定時とテストで使用する。
// 期限切れエントリは参照時には返さず、バックグラウンドの掃除で破棄する。
type MemoryStore struct {
	items *ttlcache.Cache[string, []byte]
}

// NewMemoryStore はMemoryStoreを生成し、期限切れエントリの掃除を開始する。
// 掃除を止めるにはCloseを呼ぶ。
func NewMemoryStore() *MemoryStore {
	items := ttlcache.New[string, []byte](
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go items.Start()
	return &MemoryStore{items: items}
}

// Get はキーに対応する値を返す。
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item := s.items.Get(key)
	if item == nil {
		return nil, false, nil
	}
	return append([]byte(nil), item.Value()...), true, nil
}

// Set は値をTTL付きで保存する。ttlが0以下の場合は期限なし。
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	s.items.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// Delete は指定キーを削除する。
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.items.Delete(k)
	}
	return nil
}

// DeleteByPrefix はいずれかのprefixで始まる全キーを削除する。
func (s *MemoryStore) DeleteByPrefix(_ context.Context, prefixes ...string) (int, error) {
	n := 0
	for _, k := range s.items.Keys() {
		if hasAnyPrefix(k, prefixes) {
			s.items.Delete(k)
			n++
		}
	}
	return n, nil
}

// Len は期限内のエントリ数を返す。
func (s *MemoryStore) Len() int {
	return s.items.Len()
}

// Close はバックグラウンドの掃除を停止する。
func (s *MemoryStore) Close() error {
	s.items.Stop()
	return nil
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
