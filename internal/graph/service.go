// Package graph はユーザー間のフォロー関係（ソーシャルグラフ）を管理する。
//
// フォロー関係はフォローする側のfollowingとフォローされる側のfollowersの
// 2つのドキュメントにまたがって保持される。各側の変更はストアの条件付き更新で
// 原子的に行い、プロセス内のロックは使用しない。2段目の更新に失敗した場合は
// PartiallyAppliedErrorを返し、残った片側はreconcileワーカーが修復する。
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
	"github.com/hitoshi/socialfeed/internal/retry"
)

const (
	opFollow   = "follow"
	opUnfollow = "unfollow"
)

// TimelineInvalidator はフォロー関係の変更に伴うタイムラインキャッシュの無効化インターフェース。
type TimelineInvalidator interface {
	InvalidateTimeline(ctx context.Context, userID string)
}

// Recorder はグラフ操作のメトリクス記録インターフェース。
type Recorder interface {
	RecordGraphMutation(op, result string)
}

// Service はソーシャルグラフのサービス層。
type Service struct {
	users       repository.UserRepository
	invalidator TimelineInvalidator
	recorder    Recorder
	retry       retry.Policy
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// invalidatorとrecorderはnilを許容する。
func NewService(
	users repository.UserRepository,
	invalidator TimelineInvalidator,
	recorder Recorder,
	policy retry.Policy,
	logger *slog.Logger,
) *Service {
	return &Service{
		users:       users,
		invalidator: invalidator,
		recorder:    recorder,
		retry:       policy,
		logger:      logger,
	}
}

// Follow はfollowerIDがtargetIDをフォローする。
//
// 1. 自分自身は指定できない（SelfFollowError）
// 2. 両ユーザーが存在すること（NotFoundError）
// 3. follower.followingへの条件付き追加。既に含まれていればAlreadyFollowingError
// 4. target.followersへの条件付き追加。失敗した場合はPartiallyAppliedError
func (s *Service) Follow(ctx context.Context, followerID, targetID string) (err error) {
	defer func() { s.record(opFollow, err) }()

	if followerID == targetID {
		return model.NewSelfFollowError()
	}
	if err := s.ensureUsersExist(ctx, followerID, targetID); err != nil {
		return err
	}

	first, err := retry.Value(ctx, s.retry, func(ctx context.Context) (repository.SetMutation, error) {
		return s.users.AddFollowing(ctx, followerID, targetID)
	})
	if err != nil {
		return fmt.Errorf("フォロー情報の更新に失敗しました: %w", err)
	}
	switch first {
	case repository.SetMissing:
		return model.NewNotFoundError("user", followerID)
	case repository.SetUnchanged:
		return model.NewAlreadyFollowingError(targetID)
	}

	// following側は反映済みのため、以降はタイムラインが変化している
	defer s.invalidateTimeline(ctx, followerID)

	second, err := retry.Value(ctx, s.retry, func(ctx context.Context) (repository.SetMutation, error) {
		return s.users.AddFollower(ctx, targetID, followerID)
	})
	if err := s.checkSecondSide(opFollow, followerID, targetID, second, err); err != nil {
		return err
	}

	s.logger.Info("フォローしました",
		slog.String("follower_id", followerID),
		slog.String("target_id", targetID),
	)
	return nil
}

// Unfollow はfollowerIDによるtargetIDのフォローを解除する。
// フォローしていない場合はNotFollowingErrorを返す。
func (s *Service) Unfollow(ctx context.Context, followerID, targetID string) (err error) {
	defer func() { s.record(opUnfollow, err) }()

	if err := s.ensureUsersExist(ctx, followerID, targetID); err != nil {
		return err
	}

	first, err := retry.Value(ctx, s.retry, func(ctx context.Context) (repository.SetMutation, error) {
		return s.users.RemoveFollowing(ctx, followerID, targetID)
	})
	if err != nil {
		return fmt.Errorf("フォロー情報の更新に失敗しました: %w", err)
	}
	switch first {
	case repository.SetMissing:
		return model.NewNotFoundError("user", followerID)
	case repository.SetUnchanged:
		return model.NewNotFollowingError(targetID)
	}

	defer s.invalidateTimeline(ctx, followerID)

	second, err := retry.Value(ctx, s.retry, func(ctx context.Context) (repository.SetMutation, error) {
		return s.users.RemoveFollower(ctx, targetID, followerID)
	})
	if err := s.checkSecondSide(opUnfollow, followerID, targetID, second, err); err != nil {
		return err
	}

	s.logger.Info("フォローを解除しました",
		slog.String("follower_id", followerID),
		slog.String("target_id", targetID),
	)
	return nil
}

// checkSecondSide はfollowers側の更新結果を評価する。
// 既に反映済み（Unchanged）は冪等な結果として成功扱いにする。
func (s *Service) checkSecondSide(op, followerID, targetID string, m repository.SetMutation, err error) error {
	if err == nil && m == repository.SetMissing {
		err = model.NewNotFoundError("user", targetID)
	}
	if err != nil {
		s.logger.Error("フォロー関係が片側のみ反映されました",
			slog.String("op", op),
			slog.String("follower_id", followerID),
			slog.String("target_id", targetID),
			slog.String("error", err.Error()),
		)
		return model.NewPartiallyAppliedError(op, followerID, targetID, model.EdgeSideFollowing, err)
	}
	if m == repository.SetUnchanged {
		s.logger.Warn("followers側は既に反映済みでした",
			slog.String("op", op),
			slog.String("follower_id", followerID),
			slog.String("target_id", targetID),
		)
	}
	return nil
}

// FollowingOf はuserIDがフォロー中のユーザーID一覧を返す。
func (s *Service) FollowingOf(ctx context.Context, userID string) ([]string, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Following, nil
}

// FollowersOf はuserIDのフォロワーのユーザーID一覧を返す。
func (s *Service) FollowersOf(ctx context.Context, userID string) ([]string, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Followers, nil
}

func (s *Service) findUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*model.User, error) {
		return s.users.FindByID(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("user", userID)
	}
	return user, nil
}

// ensureUsersExist は2人のユーザーの存在を並行して確認する。
// 両方が存在しない場合はfollowerIDの方を報告する。
func (s *Service) ensureUsersExist(ctx context.Context, followerID, targetID string) error {
	var follower, target *model.User

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := retry.Value(gctx, s.retry, func(ctx context.Context) (*model.User, error) {
			return s.users.FindByID(ctx, followerID)
		})
		follower = u
		return err
	})
	g.Go(func() error {
		u, err := retry.Value(gctx, s.retry, func(ctx context.Context) (*model.User, error) {
			return s.users.FindByID(ctx, targetID)
		})
		target = u
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}

	if follower == nil {
		return model.NewNotFoundError("user", followerID)
	}
	if target == nil {
		return model.NewNotFoundError("user", targetID)
	}
	return nil
}

func (s *Service) invalidateTimeline(ctx context.Context, userID string) {
	if s.invalidator != nil {
		s.invalidator.InvalidateTimeline(ctx, userID)
	}
}

func (s *Service) record(op string, err error) {
	if s.recorder != nil {
		s.recorder.RecordGraphMutation(op, model.ResultLabel(err))
	}
}
