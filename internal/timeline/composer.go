// Package timeline はユーザーごとのタイムライン（自分とフォロー中ユーザーの投稿）を構成する。
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/socialfeed/internal/cache"
	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/retry"
)

// FollowingSource はフォロー中ユーザーの取得インターフェース。
// graph.Serviceが実装する。
type FollowingSource interface {
	FollowingOf(ctx context.Context, userID string) ([]string, error)
}

// PostFinder はタイムライン構成に必要な投稿取得インターフェース。
// repository.PostRepositoryの部分集合として定義する。
type PostFinder interface {
	FindByAuthors(ctx context.Context, authorIDs []string, skip, limit int) ([]*model.Post, error)
	CountByAuthors(ctx context.Context, authorIDs []string) (int, error)
}

// Recorder はタイムライン構成のメトリクス記録インターフェース。
type Recorder interface {
	RecordTimelineCompose(duration time.Duration, result string)
}

// Composer はタイムラインを構成する。
// 結果はAggregateキャッシュを経由して返す。
type Composer struct {
	following FollowingSource
	posts     PostFinder
	cache     *cache.Aggregate
	ttl       time.Duration
	recorder  Recorder
	retry     retry.Policy
	logger    *slog.Logger
}

// NewComposer はComposerを生成する。cacheとrecorderはnilを許容する。
func NewComposer(
	following FollowingSource,
	posts PostFinder,
	agg *cache.Aggregate,
	ttl time.Duration,
	recorder Recorder,
	policy retry.Policy,
	logger *slog.Logger,
) *Composer {
	return &Composer{
		following: following,
		posts:     posts,
		cache:     agg,
		ttl:       ttl,
		recorder:  recorder,
		retry:     policy,
		logger:    logger,
	}
}

// Compose はuserIDのタイムラインのpageページ目を返す。
//
// 対象は{userID} ∪ following(userID)の投稿で、created_at降順、同時刻は挿入順に並ぶ。
// pageSizeがmodel.PageSizeAllの場合は全件を1ページとして返す。
// それ以外のpage、pageSizeは1未満を1に補正する。
// TotalCountは対象全体の件数で、ページの切り出しとは独立に数える。
// ユーザーが存在しない場合はUserNotFoundErrorを返す。
func (c *Composer) Compose(ctx context.Context, userID string, page, pageSize int) (*model.PostPage, error) {
	start := time.Now()
	p := model.NewPagination(page, pageSize)
	key := cache.PageKey(cache.TimelinePrefix(userID), p)

	result, err := cache.GetOrCompute(ctx, c.cache, key, c.ttl, func(ctx context.Context) (*model.PostPage, error) {
		return c.compose(ctx, userID, p)
	})

	if c.recorder != nil {
		c.recorder.RecordTimelineCompose(time.Since(start), model.ResultLabel(err))
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Composer) compose(ctx context.Context, userID string, p model.Pagination) (*model.PostPage, error) {
	following, err := c.following.FollowingOf(ctx, userID)
	if err != nil {
		if model.HasCode(err, model.ErrCodeNotFound) {
			return nil, model.NewUserNotFoundError(userID)
		}
		return nil, fmt.Errorf("フォロー中ユーザーの取得に失敗しました: %w", err)
	}

	scope := authorScope(userID, following)

	if p.All() {
		posts, err := retry.Value(ctx, c.retry, func(ctx context.Context) ([]*model.Post, error) {
			return c.posts.FindByAuthors(ctx, scope, 0, 0)
		})
		if err != nil {
			return nil, fmt.Errorf("タイムラインの取得に失敗しました: %w", err)
		}
		return p.NewPostPage(posts, len(posts)), nil
	}

	var (
		posts []*model.Post
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		posts, err = retry.Value(gctx, c.retry, func(ctx context.Context) ([]*model.Post, error) {
			return c.posts.FindByAuthors(ctx, scope, p.Skip(), p.Limit())
		})
		return err
	})
	g.Go(func() error {
		var err error
		total, err = retry.Value(gctx, c.retry, func(ctx context.Context) (int, error) {
			return c.posts.CountByAuthors(ctx, scope)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("タイムラインの取得に失敗しました: %w", err)
	}

	c.logger.Debug("タイムラインを構成しました",
		slog.String("user_id", userID),
		slog.Int("authors", len(scope)),
		slog.Int("page", p.Page),
		slog.Int("total", total),
	)
	return p.NewPostPage(posts, total), nil
}

// authorScope は自分自身とフォロー中ユーザーの重複なしのID一覧を返す。
func authorScope(userID string, following []string) []string {
	seen := make(map[string]struct{}, len(following)+1)
	scope := make([]string, 0, len(following)+1)
	for _, id := range append([]string{userID}, following...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		scope = append(scope, id)
	}
	return scope
}
