// Package post は投稿の作成・更新・削除と一覧取得を提供する。
package post

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/socialfeed/internal/cache"
	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
	"github.com/hitoshi/socialfeed/internal/retry"
)

// UserStore は投稿者情報と管理者一覧の取得インターフェース。
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	ListAdminIDs(ctx context.Context) ([]string, error)
}

// TextSanitizer は投稿本文のサニタイズインターフェース。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// URLValidator はメディアURLの検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// AudienceInvalidator は投稿の閲覧者側キャッシュの無効化インターフェース。
type AudienceInvalidator interface {
	InvalidateAudience(ctx context.Context, authorID string)
}

// Deps はServiceの依存関係。
type Deps struct {
	Posts       repository.PostRepository
	Users       UserStore
	Sanitizer   TextSanitizer
	Validator   URLValidator
	Invalidator AudienceInvalidator // nil可
	Cache       *cache.Aggregate    // nil可
	AdminTTL    time.Duration
	Retry       retry.Policy
	Logger      *slog.Logger
}

// Service は投稿のサービス層。
type Service struct {
	posts       repository.PostRepository
	users       UserStore
	sanitizer   TextSanitizer
	validator   URLValidator
	invalidator AudienceInvalidator
	cache       *cache.Aggregate
	adminTTL    time.Duration
	retry       retry.Policy
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// NewService はServiceを生成する。
func NewService(d Deps) *Service {
	return &Service{
		posts:       d.Posts,
		users:       d.Users,
		sanitizer:   d.Sanitizer,
		validator:   d.Validator,
		invalidator: d.Invalidator,
		cache:       d.Cache,
		adminTTL:    d.AdminTTL,
		retry:       d.Retry,
		logger:      d.Logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Create は投稿を作成する。imgは必須。
// mediaTypeが指定されていない場合はURLから推定する。
func (s *Service) Create(ctx context.Context, principal model.Principal, input model.PostInput) (*model.Post, error) {
	if err := s.validateMedia(input.Img); err != nil {
		return nil, err
	}
	author, err := s.findAuthor(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	post := s.newPost(author, input, now)
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	s.invalidate(ctx, author.ID)
	s.logger.Info("投稿を作成しました",
		slog.String("post_id", post.ID),
		slog.String("user_id", author.ID),
		slog.String("media_type", string(post.MediaType)),
	)
	return post, nil
}

// CreateMany は複数のメディアURLからまとめて投稿を作成する。
// 全ての投稿は同一の作成日時を持ち、入力順に並ぶ。
func (s *Service) CreateMany(ctx context.Context, principal model.Principal, imgURLs []string) ([]*model.Post, error) {
	if len(imgURLs) == 0 {
		return nil, model.NewInvalidRequestError("imgは1件以上必要です")
	}
	for _, img := range imgURLs {
		if err := s.validateMedia(img); err != nil {
			return nil, err
		}
	}
	author, err := s.findAuthor(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	posts := make([]*model.Post, len(imgURLs))
	for i, img := range imgURLs {
		posts[i] = s.newPost(author, model.PostInput{Img: img}, now)
	}
	if err := s.posts.InsertMany(ctx, posts); err != nil {
		return nil, fmt.Errorf("投稿の一括作成に失敗しました: %w", err)
	}

	s.invalidate(ctx, author.ID)
	s.logger.Info("投稿を一括作成しました",
		slog.String("user_id", author.ID),
		slog.Int("count", len(posts)),
	)
	return posts, nil
}

// Get は投稿を取得する。存在しない場合はNotFoundErrorを返す。
func (s *Service) Get(ctx context.Context, postID string) (*model.Post, error) {
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

// Update は自分の投稿の本文・メディアを更新する。
// 他ユーザーの投稿の場合はForbiddenErrorを返す。
func (s *Service) Update(ctx context.Context, principal model.Principal, postID string, update model.PostUpdate) (*model.Post, error) {
	current, err := s.getOwned(ctx, principal, postID)
	if err != nil {
		return nil, err
	}

	input := model.PostInput{
		Desc:      current.Desc,
		Img:       current.Img,
		MediaType: current.MediaType,
	}
	if update.Desc != nil {
		input.Desc = s.sanitizer.Sanitize(*update.Desc)
	}
	if update.Img != nil && *update.Img != current.Img {
		if err := s.validateMedia(*update.Img); err != nil {
			return nil, err
		}
		input.Img = *update.Img
		input.MediaType = model.DetectMediaType(input.Img)
	}

	post, err := s.posts.Update(ctx, postID, input, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	if post == nil {
		return nil, model.NewNotFoundError("post", postID)
	}

	s.invalidate(ctx, post.UserID)
	s.logger.Info("投稿を更新しました",
		slog.String("post_id", postID),
		slog.String("user_id", principal.UserID),
	)
	return post, nil
}

// Delete は自分の投稿を削除する。
func (s *Service) Delete(ctx context.Context, principal model.Principal, postID string) error {
	current, err := s.getOwned(ctx, principal, postID)
	if err != nil {
		return err
	}

	deleted, err := s.posts.Delete(ctx, postID)
	if err != nil {
		return fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewNotFoundError("post", postID)
	}

	s.invalidate(ctx, current.UserID)
	s.logger.Info("投稿を削除しました",
		slog.String("post_id", postID),
		slog.String("user_id", principal.UserID),
	)
	return nil
}

// ListUserPosts はuserIDの投稿一覧を返す。ページ指定の扱いはタイムラインと同じ。
func (s *Service) ListUserPosts(ctx context.Context, userID string, page, pageSize int) (*model.PostPage, error) {
	if _, err := s.findAuthor(ctx, userID); err != nil {
		return nil, err
	}
	return s.listByAuthors(ctx, []string{userID}, model.NewPagination(page, pageSize))
}

// ListAdminPosts は管理者ユーザーの投稿一覧を返す。
// 結果はposts:admin:接頭辞でキャッシュされ、いずれかの投稿の変更で無効化される。
func (s *Service) ListAdminPosts(ctx context.Context, page, pageSize int) (*model.PostPage, error) {
	p := model.NewPagination(page, pageSize)
	key := cache.PageKey(cache.AdminPostsPrefix, p)

	return cache.GetOrCompute(ctx, s.cache, key, s.adminTTL, func(ctx context.Context) (*model.PostPage, error) {
		adminIDs, err := retry.Value(ctx, s.retry, func(ctx context.Context) ([]string, error) {
			return s.users.ListAdminIDs(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("管理者一覧の取得に失敗しました: %w", err)
		}
		return s.listByAuthors(ctx, adminIDs, p)
	})
}

func (s *Service) listByAuthors(ctx context.Context, authorIDs []string, p model.Pagination) (*model.PostPage, error) {
	posts, err := retry.Value(ctx, s.retry, func(ctx context.Context) ([]*model.Post, error) {
		return s.posts.FindByAuthors(ctx, authorIDs, p.Skip(), p.Limit())
	})
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	if p.All() {
		return p.NewPostPage(posts, len(posts)), nil
	}

	total, err := retry.Value(ctx, s.retry, func(ctx context.Context) (int, error) {
		return s.posts.CountByAuthors(ctx, authorIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("投稿件数の取得に失敗しました: %w", err)
	}
	return p.NewPostPage(posts, total), nil
}

func (s *Service) newPost(author *model.User, input model.PostInput, now time.Time) *model.Post {
	mediaType := input.MediaType
	if mediaType == "" {
		mediaType = model.DetectMediaType(input.Img)
	}
	return &model.Post{
		ID:             s.newID(),
		UserID:         author.ID,
		Username:       author.Username,
		Desc:           s.sanitizer.Sanitize(input.Desc),
		Img:            input.Img,
		MediaType:      mediaType,
		ProfilePicture: author.ProfilePicture,
		Likes:          []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *Service) validateMedia(img string) error {
	if img == "" {
		return model.NewInvalidRequestError("imgは必須です")
	}
	if err := s.validator.ValidateURL(img); err != nil {
		return model.NewInvalidRequestError(err.Error())
	}
	return nil
}

// getOwned は投稿を取得し、principalが投稿者であることを確認する。
func (s *Service) getOwned(ctx context.Context, principal model.Principal, postID string) (*model.Post, error) {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != principal.UserID {
		return nil, model.NewForbiddenError("他のユーザーの投稿は変更できません")
	}
	return post, nil
}

func (s *Service) findAuthor(ctx context.Context, userID string) (*model.User, error) {
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

func (s *Service) invalidate(ctx context.Context, authorID string) {
	if s.invalidator != nil {
		s.invalidator.InvalidateAudience(ctx, authorID)
	}
}
