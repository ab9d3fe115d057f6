package timeline

import (
	"context"
	"log/slog"

	"github.com/hitoshi/socialfeed/internal/cache"
	"github.com/hitoshi/socialfeed/internal/model"
)

// UserFinder はフォロワー一覧の取得に使うインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Invalidator は投稿・フォロー関係の変更に応じて派生キャッシュを無効化する。
type Invalidator struct {
	cache  *cache.Aggregate
	users  UserFinder
	logger *slog.Logger
}

// NewInvalidator はInvalidatorを生成する。
func NewInvalidator(agg *cache.Aggregate, users UserFinder, logger *slog.Logger) *Invalidator {
	return &Invalidator{cache: agg, users: users, logger: logger}
}

// InvalidateTimeline はuserIDのタイムラインの全ページを無効化する。
func (i *Invalidator) InvalidateTimeline(ctx context.Context, userID string) {
	i.cache.InvalidatePrefix(ctx, cache.TimelinePrefix(userID))
}

// InvalidateAudience は投稿者authorIDの投稿が見える全ビューを無効化する。
// 対象は投稿者本人とフォロワーのタイムライン、および管理者投稿一覧。
// 全対象の接頭辞をまとめて1回の無効化で削除する。
// フォロワーの取得に失敗した場合、フォロワーのタイムラインはTTL経過まで古いままになる。
func (i *Invalidator) InvalidateAudience(ctx context.Context, authorID string) {
	prefixes := []string{cache.TimelinePrefix(authorID), cache.AdminPostsPrefix}

	author, err := i.users.FindByID(context.WithoutCancel(ctx), authorID)
	if err != nil {
		i.logger.Warn("フォロワーの取得に失敗したためタイムラインを無効化できませんでした",
			slog.String("author_id", authorID),
			slog.String("error", err.Error()),
		)
	} else if author != nil {
		for _, followerID := range author.Followers {
			prefixes = append(prefixes, cache.TimelinePrefix(followerID))
		}
	}
	i.cache.InvalidatePrefix(ctx, prefixes...)
}
