package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/socialfeed/internal/middleware"
	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/user"
)

// --- 共通ヘルパー ---

// withUserID はテスト用にコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeErrorCode はエラーレスポンスのcodeを取り出す。
func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body.Code
}

// --- モック定義 ---

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	registerFn      func(ctx context.Context, input user.RegisterInput) (*model.User, error)
	getFn           func(ctx context.Context, userID string) (*model.User, error)
	listFn          func(ctx context.Context, page, pageSize int) ([]*model.User, error)
	updateProfileFn func(ctx context.Context, userID string, update model.ProfileUpdate) (*model.User, error)
}

func (m *mockUserService) Register(ctx context.Context, input user.RegisterInput) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, input)
	}
	return &model.User{ID: "user-new", Username: input.Username, Email: input.Email}, nil
}

func (m *mockUserService) Get(ctx context.Context, userID string) (*model.User, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return &model.User{ID: userID}, nil
}

func (m *mockUserService) List(ctx context.Context, page, pageSize int) ([]*model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx, page, pageSize)
	}
	return nil, nil
}

func (m *mockUserService) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.User, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, userID, update)
	}
	return &model.User{ID: userID}, nil
}

// mockGraphService はGraphServiceInterfaceのモック実装。
type mockGraphService struct {
	followFn      func(ctx context.Context, followerID, targetID string) error
	unfollowFn    func(ctx context.Context, followerID, targetID string) error
	followingOfFn func(ctx context.Context, userID string) ([]string, error)
	followersOfFn func(ctx context.Context, userID string) ([]string, error)
}

func (m *mockGraphService) Follow(ctx context.Context, followerID, targetID string) error {
	if m.followFn != nil {
		return m.followFn(ctx, followerID, targetID)
	}
	return nil
}

func (m *mockGraphService) Unfollow(ctx context.Context, followerID, targetID string) error {
	if m.unfollowFn != nil {
		return m.unfollowFn(ctx, followerID, targetID)
	}
	return nil
}

func (m *mockGraphService) FollowingOf(ctx context.Context, userID string) ([]string, error) {
	if m.followingOfFn != nil {
		return m.followingOfFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockGraphService) FollowersOf(ctx context.Context, userID string) ([]string, error) {
	if m.followersOfFn != nil {
		return m.followersOfFn(ctx, userID)
	}
	return nil, nil
}

// mockPostService はPostServiceInterfaceのモック実装。
type mockPostService struct {
	createFn         func(ctx context.Context, principal model.Principal, input model.PostInput) (*model.Post, error)
	createManyFn     func(ctx context.Context, principal model.Principal, imgURLs []string) ([]*model.Post, error)
	getFn            func(ctx context.Context, postID string) (*model.Post, error)
	updateFn         func(ctx context.Context, principal model.Principal, postID string, update model.PostUpdate) (*model.Post, error)
	deleteFn         func(ctx context.Context, principal model.Principal, postID string) error
	listUserPostsFn  func(ctx context.Context, userID string, page, pageSize int) (*model.PostPage, error)
	listAdminPostsFn func(ctx context.Context, page, pageSize int) (*model.PostPage, error)
}

func (m *mockPostService) Create(ctx context.Context, principal model.Principal, input model.PostInput) (*model.Post, error) {
	if m.createFn != nil {
		return m.createFn(ctx, principal, input)
	}
	return &model.Post{ID: "post-new", UserID: principal.UserID, Desc: input.Desc, Img: input.Img, Likes: []string{}}, nil
}

func (m *mockPostService) CreateMany(ctx context.Context, principal model.Principal, imgURLs []string) ([]*model.Post, error) {
	if m.createManyFn != nil {
		return m.createManyFn(ctx, principal, imgURLs)
	}
	return []*model.Post{}, nil
}

func (m *mockPostService) Get(ctx context.Context, postID string) (*model.Post, error) {
	if m.getFn != nil {
		return m.getFn(ctx, postID)
	}
	return &model.Post{ID: postID, Likes: []string{}}, nil
}

func (m *mockPostService) Update(ctx context.Context, principal model.Principal, postID string, update model.PostUpdate) (*model.Post, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, principal, postID, update)
	}
	return &model.Post{ID: postID, Likes: []string{}}, nil
}

func (m *mockPostService) Delete(ctx context.Context, principal model.Principal, postID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, principal, postID)
	}
	return nil
}

func (m *mockPostService) ListUserPosts(ctx context.Context, userID string, page, pageSize int) (*model.PostPage, error) {
	if m.listUserPostsFn != nil {
		return m.listUserPostsFn(ctx, userID, page, pageSize)
	}
	return model.NewPagination(page, pageSize).NewPostPage(nil, 0), nil
}

func (m *mockPostService) ListAdminPosts(ctx context.Context, page, pageSize int) (*model.PostPage, error) {
	if m.listAdminPostsFn != nil {
		return m.listAdminPostsFn(ctx, page, pageSize)
	}
	return model.NewPagination(page, pageSize).NewPostPage(nil, 0), nil
}

// mockEngagementService はEngagementServiceInterfaceのモック実装。
type mockEngagementService struct {
	likeFn   func(ctx context.Context, postID, userID string) (*model.Post, error)
	unlikeFn func(ctx context.Context, postID, userID string) (*model.Post, error)
}

func (m *mockEngagementService) Like(ctx context.Context, postID, userID string) (*model.Post, error) {
	if m.likeFn != nil {
		return m.likeFn(ctx, postID, userID)
	}
	return &model.Post{ID: postID, Likes: []string{userID}}, nil
}

func (m *mockEngagementService) Unlike(ctx context.Context, postID, userID string) (*model.Post, error) {
	if m.unlikeFn != nil {
		return m.unlikeFn(ctx, postID, userID)
	}
	return &model.Post{ID: postID, Likes: []string{}}, nil
}

// mockTimelineService はTimelineServiceInterfaceのモック実装。
type mockTimelineService struct {
	composeFn func(ctx context.Context, userID string, page, pageSize int) (*model.PostPage, error)
}

func (m *mockTimelineService) Compose(ctx context.Context, userID string, page, pageSize int) (*model.PostPage, error) {
	if m.composeFn != nil {
		return m.composeFn(ctx, userID, page, pageSize)
	}
	return model.NewPagination(page, pageSize).NewPostPage(nil, 0), nil
}
