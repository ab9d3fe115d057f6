package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

// newTestRedisStore はTEST_REDIS_URLのRedisに接続する。接続できない場合はスキップする。
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	client, err := NewRedisClient(url)
	if err != nil {
		t.Fatalf("NewRedisClient failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(client)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		t.Skipf("テスト用Redisに接続できません（スキップ）: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("FlushDB failed: %v", err)
	}
	return store
}

func TestRedisStore_GetSetDeleteByPrefix(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	if _, found, err := store.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("Get(missing) = %v, %v", found, err)
	}

	for _, k := range []string{"timeline:u1:1:10", "timeline:u1:all", "timeline:u10:1:10"} {
		if err := store.Set(ctx, k, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	n, err := store.DeleteByPrefix(ctx, TimelinePrefix("u1"))
	if err != nil || n != 2 {
		t.Errorf("DeleteByPrefix = %d, %v; want 2", n, err)
	}
	if _, found, _ := store.Get(ctx, "timeline:u10:1:10"); !found {
		t.Error("別ユーザーのキーは残るべき")
	}
}

func TestRedisStore_DeleteByPrefix_MultiplePrefixes(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	for _, k := range []string{"timeline:u1:1:10", "timeline:u2:all", "timeline:u3:1:10", "posts:admin:1:10"} {
		if err := store.Set(ctx, k, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	n, err := store.DeleteByPrefix(ctx, TimelinePrefix("u1"), TimelinePrefix("u2"), AdminPostsPrefix)
	if err != nil || n != 3 {
		t.Errorf("DeleteByPrefix = %d, %v; want 3", n, err)
	}
	if _, found, _ := store.Get(ctx, "timeline:u3:1:10"); !found {
		t.Error("対象外のキーは残るべき")
	}
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	if _, err := NewRedisClient("://bad"); err == nil {
		t.Error("invalid URL should fail")
	}
}
