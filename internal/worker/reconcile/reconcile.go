// Package reconcile は片側だけ反映されたフォロー関係を修復するバックグラウンドジョブを提供する。
//
// フォロー関係はfollowing側を正とする。
//   - followingにあるがfollowersに無い辺（missing）はfollowersへ追加する
//   - followersにあるがfollowingに無い辺（stale）はfollowersから削除する
//
// 修復はストアの条件付き更新のみで行うため、フォロー操作と並行して実行しても
// 最終的に両側が一致する。並行操作との競合で新たに片側だけの辺が生じた場合は
// 次回の実行で修復される。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/socialfeed/internal/repository"
	"github.com/hitoshi/socialfeed/internal/retry"
)

const (
	// KindMissing はfollowers側が欠けていた辺の修復を表すメトリクスラベル。
	KindMissing = "missing_follower"
	// KindStale はfollowers側だけ残っていた辺の修復を表すメトリクスラベル。
	KindStale = "stale_follower"

	defaultBatchSize      = 500
	defaultMaxConcurrency = 8
)

// EdgeStore は修復に必要なストア操作。repository.UserRepositoryの部分集合。
type EdgeStore interface {
	ListMissingFollowerEdges(ctx context.Context, limit int) ([]repository.FollowEdge, error)
	ListStaleFollowerEdges(ctx context.Context, limit int) ([]repository.FollowEdge, error)
	AddFollower(ctx context.Context, userID, followerID string) (repository.SetMutation, error)
	RemoveFollower(ctx context.Context, userID, followerID string) (repository.SetMutation, error)
}

// TimelineInvalidator はタイムラインキャッシュの無効化インターフェース。
type TimelineInvalidator interface {
	InvalidateTimeline(ctx context.Context, userID string)
}

// Recorder は修復件数のメトリクス記録インターフェース。
type Recorder interface {
	RecordEdgesRepaired(kind string, count int)
}

// Result は1回の実行結果。
type Result struct {
	MissingRepaired int
	StaleRepaired   int
	Failed          int
}

// Job はフォロー関係の整合性修復ジョブ。
type Job struct {
	store          EdgeStore
	invalidator    TimelineInvalidator
	recorder       Recorder
	retry          retry.Policy
	logger         *slog.Logger
	batchSize      int
	maxConcurrency int
}

// NewJob はJobを生成する。batchSizeが0以下の場合は500を使用する。
// invalidatorとrecorderはnilを許容する。
func NewJob(
	store EdgeStore,
	invalidator TimelineInvalidator,
	recorder Recorder,
	policy retry.Policy,
	logger *slog.Logger,
	batchSize int,
) *Job {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Job{
		store:          store,
		invalidator:    invalidator,
		recorder:       recorder,
		retry:          policy,
		logger:         logger,
		batchSize:      batchSize,
		maxConcurrency: defaultMaxConcurrency,
	}
}

// Start はinterval間隔で修復を実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("フォロー関係の整合性チェックを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", j.batchSize),
	)

	// 起動直後に1回実行
	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("フォロー関係の整合性チェックを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("フォロー関係の整合性チェックに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は片側だけの辺を最大batchSize件ずつ検出して修復する。
// 個々の修復の失敗はResult.Failedに数え、次回の実行に持ち越す。
func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	var result Result

	missing, err := retry.Value(ctx, j.retry, func(ctx context.Context) ([]repository.FollowEdge, error) {
		return j.store.ListMissingFollowerEdges(ctx, j.batchSize)
	})
	if err != nil {
		return result, fmt.Errorf("片側のみのフォロー関係の取得に失敗しました: %w", err)
	}
	repaired, failed := j.repairAll(ctx, KindMissing, missing, j.addFollower)
	result.MissingRepaired, result.Failed = repaired, failed

	stale, err := retry.Value(ctx, j.retry, func(ctx context.Context) ([]repository.FollowEdge, error) {
		return j.store.ListStaleFollowerEdges(ctx, j.batchSize)
	})
	if err != nil {
		return result, fmt.Errorf("残存フォロワーの取得に失敗しました: %w", err)
	}
	repaired, failed = j.repairAll(ctx, KindStale, stale, j.removeFollower)
	result.StaleRepaired = repaired
	result.Failed += failed

	if j.recorder != nil {
		j.recorder.RecordEdgesRepaired(KindMissing, result.MissingRepaired)
		j.recorder.RecordEdgesRepaired(KindStale, result.StaleRepaired)
	}

	if len(missing)+len(stale) > 0 {
		j.logger.Info("フォロー関係の整合性チェックが完了しました",
			slog.Int("missing_repaired", result.MissingRepaired),
			slog.Int("stale_repaired", result.StaleRepaired),
			slog.Int("failed", result.Failed),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}
	return result, nil
}

func (j *Job) repairAll(
	ctx context.Context,
	kind string,
	edges []repository.FollowEdge,
	repair func(ctx context.Context, e repository.FollowEdge) (repository.SetMutation, error),
) (repaired, failed int) {
	var nRepaired, nFailed atomic.Int64

	var g errgroup.Group
	g.SetLimit(j.maxConcurrency)
	for _, e := range edges {
		g.Go(func() error {
			m, err := retry.Value(ctx, j.retry, func(ctx context.Context) (repository.SetMutation, error) {
				return repair(ctx, e)
			})
			if err != nil {
				nFailed.Add(1)
				j.logger.Warn("フォロー関係の修復に失敗しました",
					slog.String("kind", kind),
					slog.String("follower_id", e.FollowerID),
					slog.String("target_id", e.TargetID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if m != repository.SetApplied {
				// 並行するフォロー操作が先に反映した
				return nil
			}
			nRepaired.Add(1)
			// followers集合が変わると投稿時の無効化対象が変わるため、フォローする側のキャッシュを捨てる
			if j.invalidator != nil {
				j.invalidator.InvalidateTimeline(ctx, e.FollowerID)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(nRepaired.Load()), int(nFailed.Load())
}

func (j *Job) addFollower(ctx context.Context, e repository.FollowEdge) (repository.SetMutation, error) {
	return j.store.AddFollower(ctx, e.TargetID, e.FollowerID)
}

func (j *Job) removeFollower(ctx context.Context, e repository.FollowEdge) (repository.SetMutation, error) {
	return j.store.RemoveFollower(ctx, e.TargetID, e.FollowerID)
}
