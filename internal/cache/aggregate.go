package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// invalidateTimeout は無効化処理に与える時間の上限。
// 無効化は呼び出し元のリクエストがキャンセルされても実行する。
const invalidateTimeout = 3 * time.Second

// defaultComputeTimeout は共有計算に与える時間の上限。
// 共有計算は最初の呼び出し元のキャンセルから切り離して実行する。
const defaultComputeTimeout = 10 * time.Second

// キャッシュ参照結果のラベル値。
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// Recorder はキャッシュのメトリクス記録インターフェース。
type Recorder interface {
	RecordCacheRequest(namespace, result string)
	RecordCacheInvalidation(kind string, failed bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordCacheRequest(string, string) {}
func (noopRecorder) RecordCacheInvalidation(string, bool) {}

// Aggregate は集計ビューをキャッシュ経由で提供する。
// 同一キーへの同時ミスはsingleflightで1回の計算にまとめる。
// 計算中に無効化が発生した場合、その結果は返すが保存しない。
type Aggregate struct {
	store    Store
	logger   *slog.Logger
	recorder Recorder
	enabled  bool

	computeTimeout time.Duration

	group singleflight.Group
	// epoch は無効化のたびに進む世代番号。
	epoch atomic.Uint64
}

// Option はAggregateの任意設定。
type Option func(*Aggregate)

// WithRecorder はメトリクス記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(a *Aggregate) {
		if r != nil {
			a.recorder = r
		}
	}
}

// WithDisabled はキャッシュを無効化し、常に計算を実行させる。
func WithDisabled() Option {
	return func(a *Aggregate) {
		a.enabled = false
	}
}

// WithComputeTimeout は同時ミスをまとめた共有計算の時間上限を設定する。
func WithComputeTimeout(d time.Duration) Option {
	return func(a *Aggregate) {
		if d > 0 {
			a.computeTimeout = d
		}
	}
}

// NewAggregate はAggregateを生成する。
func NewAggregate(store Store, logger *slog.Logger, opts ...Option) *Aggregate {
	a := &Aggregate{
		store:          store,
		logger:         logger,
		recorder:       noopRecorder{},
		enabled:        store != nil,
		computeTimeout: defaultComputeTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetOrCompute はkeyのキャッシュを返し、存在しなければcomputeを実行して保存する。
// キャッシュ層のエラー（取得・デコード・保存）はログに記録してミスとして扱い、
// 呼び出し元に返すのはcomputeのエラーのみ。
// 同時ミスの共有計算は呼び出し元のキャンセルから切り離して実行し、
// 各呼び出し元は自身のctxが終わった時点でctx.Err()を返して待機をやめる。
func GetOrCompute[T any](ctx context.Context, a *Aggregate, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	if a == nil || !a.enabled {
		return compute(ctx)
	}

	ns := namespace(key)

	if cached, ok := lookup[T](ctx, a, key, ns); ok {
		return cached, nil
	}
	a.recorder.RecordCacheRequest(ns, ResultMiss)

	epoch := a.epoch.Load()
	ch := a.group.DoChan(key+"@"+strconv.FormatUint(epoch, 10), func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.computeTimeout)
		defer cancel()

		val, err := compute(shared)
		if err != nil {
			return nil, err
		}
		a.saveIfCurrent(shared, key, ttl, val, epoch)
		return val, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// lookup はキャッシュを参照してデコードする。エラーはミスとして扱う。
func lookup[T any](ctx context.Context, a *Aggregate, key, ns string) (T, bool) {
	var zero T

	data, found, err := a.store.Get(ctx, key)
	if err != nil {
		a.logger.Warn("cache get failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		a.recorder.RecordCacheRequest(ns, ResultError)
		return zero, false
	}
	if !found {
		return zero, false
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		a.logger.Warn("cache decode failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		a.recorder.RecordCacheRequest(ns, ResultError)
		return zero, false
	}

	a.recorder.RecordCacheRequest(ns, ResultHit)
	return v, true
}

// saveIfCurrent は計算結果を保存する。計算開始後に無効化があった場合は保存しない。
func (a *Aggregate) saveIfCurrent(ctx context.Context, key string, ttl time.Duration, val any, epoch uint64) {
	if a.epoch.Load() != epoch {
		a.logger.Debug("cache store skipped after invalidation", slog.String("key", key))
		return
	}

	data, err := json.Marshal(val)
	if err != nil {
		a.logger.Warn("cache encode failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := a.store.Set(context.WithoutCancel(ctx), key, data, ttl); err != nil {
		a.logger.Warn("cache set failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}

	// 保存中に無効化が走った場合は保存した値を取り消す
	if a.epoch.Load() != epoch {
		_ = a.store.Delete(context.WithoutCancel(ctx), key)
	}
}

// InvalidateKey は指定キーのキャッシュを削除する。失敗はログに記録するのみ。
func (a *Aggregate) InvalidateKey(ctx context.Context, keys ...string) {
	if a == nil || !a.enabled || len(keys) == 0 {
		return
	}
	a.epoch.Add(1)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	if err := a.store.Delete(ctx, keys...); err != nil {
		a.logger.Warn("cache invalidate failed",
			slog.Any("keys", keys),
			slog.String("error", err.Error()),
		)
		a.recorder.RecordCacheInvalidation("key", true)
		return
	}
	a.recorder.RecordCacheInvalidation("key", false)
}

// InvalidatePrefix はいずれかのprefixで始まる全キャッシュをStoreの1回の走査で削除する。
// 失敗はログに記録するのみ。
func (a *Aggregate) InvalidatePrefix(ctx context.Context, prefixes ...string) {
	if a == nil || !a.enabled || len(prefixes) == 0 {
		return
	}
	a.epoch.Add(1)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	n, err := a.store.DeleteByPrefix(ctx, prefixes...)
	if err != nil {
		a.logger.Warn("cache prefix invalidate failed",
			slog.Any("prefixes", prefixes),
			slog.String("error", err.Error()),
		)
		a.recorder.RecordCacheInvalidation("prefix", true)
		return
	}
	a.logger.Debug("cache prefix invalidated",
		slog.Any("prefixes", prefixes),
		slog.Int("deleted", n),
	)
	a.recorder.RecordCacheInvalidation("prefix", false)
}
