// Package user はユーザープロフィールの管理機能を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
	"github.com/hitoshi/socialfeed/internal/retry"
)

// URLValidator はプロフィール画像URLの検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// RegisterInput はユーザー登録の入力。
// 認証情報は外部の認証基盤が管理するため、ここではプロフィールのみを受け取る。
type RegisterInput struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	City      string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo  repository.UserRepository
	validator URLValidator
	retry     retry.Policy
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, validator URLValidator, policy retry.Policy, logger *slog.Logger) *Service {
	return &Service{
		userRepo:  userRepo,
		validator: validator,
		retry:     policy,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Register はユーザーを登録する。
// username、emailは必須で、既存ユーザーと重複する場合はConflictErrorを返す。
func (s *Service) Register(ctx context.Context, input RegisterInput) (*model.User, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if username == "" {
		return nil, model.NewInvalidRequestError("usernameは必須です")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.NewInvalidRequestError("emailの形式が不正です")
	}

	now := s.now().UTC()
	user := &model.User{
		ID:        s.newID(),
		Username:  username,
		Email:     email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		City:      input.City,
		IsActive:  true,
		Following: []string{},
		Followers: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("ユーザーの登録に失敗しました: %w", err)
	}

	s.logger.Info("ユーザーを登録しました",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Get はユーザーを取得する。存在しない場合はNotFoundErrorを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	user, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*model.User, error) {
		return s.userRepo.FindByID(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("user", userID)
	}
	return user, nil
}

// List はユーザー一覧を登録順に返す。ページ指定の扱いは投稿一覧と同じ。
func (s *Service) List(ctx context.Context, page, pageSize int) ([]*model.User, error) {
	p := model.NewPagination(page, pageSize)
	users, err := retry.Value(ctx, s.retry, func(ctx context.Context) ([]*model.User, error) {
		return s.userRepo.List(ctx, p.Skip(), p.Limit())
	})
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// UpdateProfile はプロフィール項目を更新する。フォロー関係は変更しない。
func (s *Service) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.User, error) {
	for _, pic := range []*string{update.ProfilePicture, update.CoverPicture} {
		if pic == nil || *pic == "" {
			continue
		}
		if err := s.validator.ValidateURL(*pic); err != nil {
			return nil, model.NewInvalidRequestError(err.Error())
		}
	}

	user, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*model.User, error) {
		return s.userRepo.UpdateProfile(ctx, userID, update, s.now().UTC())
	})
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError("user", userID)
	}

	s.logger.Info("プロフィールを更新しました", slog.String("user_id", userID))
	return user, nil
}
