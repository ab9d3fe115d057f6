// Package engagement は投稿への「いいね」操作を提供する。
package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
	"github.com/hitoshi/socialfeed/internal/retry"
)

const (
	opLike   = "like"
	opUnlike = "unlike"
)

// PostStore はいいね操作に必要な投稿ストアのインターフェース。
type PostStore interface {
	FindByID(ctx context.Context, id string) (*model.Post, error)
	AddLike(ctx context.Context, postID, userID string, now time.Time) (repository.SetMutation, error)
	RemoveLike(ctx context.Context, postID, userID string, now time.Time) (repository.SetMutation, error)
}

// AudienceInvalidator は投稿の閲覧者側キャッシュの無効化インターフェース。
type AudienceInvalidator interface {
	InvalidateAudience(ctx context.Context, authorID string)
}

// Recorder はいいね操作のメトリクス記録インターフェース。
type Recorder interface {
	RecordLike(op, result string)
}

// Service はいいね操作のサービス層。
type Service struct {
	posts       PostStore
	invalidator AudienceInvalidator
	recorder    Recorder
	retry       retry.Policy
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。invalidatorとrecorderはnilを許容する。
func NewService(
	posts PostStore,
	invalidator AudienceInvalidator,
	recorder Recorder,
	policy retry.Policy,
	logger *slog.Logger,
) *Service {
	return &Service{
		posts:       posts,
		invalidator: invalidator,
		recorder:    recorder,
		retry:       policy,
		logger:      logger,
		now:         time.Now,
	}
}

// Like はuserIDとしてpostIDにいいねする。
// likesへの追加とupdated_atの更新は1回の条件付き更新で行う。
// 既にいいね済みの場合はAlreadyLikedErrorを返す。自分の投稿へのいいねも許可する。
func (s *Service) Like(ctx context.Context, postID, userID string) (post *model.Post, err error) {
	defer func() { s.record(opLike, err) }()

	return s.mutate(ctx, opLike, postID, userID, s.posts.AddLike, func() error {
		return model.NewAlreadyLikedError(postID)
	})
}

// Unlike はuserIDによるpostIDへのいいねを取り消す。
// いいねしていない場合はNotLikedErrorを返す。
func (s *Service) Unlike(ctx context.Context, postID, userID string) (post *model.Post, err error) {
	defer func() { s.record(opUnlike, err) }()

	return s.mutate(ctx, opUnlike, postID, userID, s.posts.RemoveLike, func() error {
		return model.NewNotLikedError(postID)
	})
}

type likeMutation func(ctx context.Context, postID, userID string, now time.Time) (repository.SetMutation, error)

// mutate は投稿者を特定してから条件付き更新を行う。
// 更新が適用された時点で閲覧者キャッシュの無効化を確定させ、
// その後の読み直しに失敗しても適用済みの結果から組み立てた投稿を返す。
func (s *Service) mutate(ctx context.Context, op, postID, userID string, apply likeMutation, unchanged func() error) (*model.Post, error) {
	before, err := s.findPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	m, err := retry.Value(ctx, s.retry, func(ctx context.Context) (repository.SetMutation, error) {
		return apply(ctx, postID, userID, now)
	})
	if err != nil {
		return nil, fmt.Errorf("いいねの更新に失敗しました（%s）: %w", op, err)
	}
	switch m {
	case repository.SetMissing:
		return nil, model.NewNotFoundError("post", postID)
	case repository.SetUnchanged:
		return nil, unchanged()
	}

	if s.invalidator != nil {
		defer s.invalidator.InvalidateAudience(ctx, before.UserID)
	}

	post, err := s.findPost(ctx, postID)
	if err != nil {
		s.logger.Warn("いいね更新後の投稿の再取得に失敗しました",
			slog.String("op", op),
			slog.String("post_id", postID),
			slog.String("error", err.Error()),
		)
		post = appliedPost(before, op, userID, now)
	}

	s.logger.Info("いいねを更新しました",
		slog.String("op", op),
		slog.String("post_id", postID),
		slog.String("user_id", userID),
		slog.Int("likes", len(post.Likes)),
	)
	return post, nil
}

// findPost は投稿を取得する。存在しない場合はNotFoundErrorを返す。
func (s *Service) findPost(ctx context.Context, postID string) (*model.Post, error) {
	post, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*model.Post, error) {
		return s.posts.FindByID(ctx, postID)
	})
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if post == nil {
		return nil, model.NewNotFoundError("post", postID)
	}
	return post, nil
}

// appliedPost は更新前の投稿に適用済みの変更を反映したコピーを返す。
func appliedPost(before *model.Post, op, userID string, now time.Time) *model.Post {
	p := *before
	likes := make([]string, 0, len(before.Likes)+1)
	for _, id := range before.Likes {
		if id != userID {
			likes = append(likes, id)
		}
	}
	if op == opLike {
		likes = append(likes, userID)
	}
	p.Likes = likes
	p.UpdatedAt = now
	return &p
}

func (s *Service) record(op string, err error) {
	if s.recorder != nil {
		s.recorder.RecordLike(op, model.ResultLabel(err))
	}
}
