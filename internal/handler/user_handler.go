package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/socialfeed/internal/middleware"
	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするプロフィール管理のサービスインターフェース。
type UserServiceInterface interface {
	Register(ctx context.Context, input user.RegisterInput) (*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
	List(ctx context.Context, page, pageSize int) ([]*model.User, error)
	UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.User, error)
}

// GraphServiceInterface はフォロー関係の操作インターフェース。
type GraphServiceInterface interface {
	Follow(ctx context.Context, followerID, targetID string) error
	Unfollow(ctx context.Context, followerID, targetID string) error
	FollowingOf(ctx context.Context, userID string) ([]string, error)
	FollowersOf(ctx context.Context, userID string) ([]string, error)
}

// UserHandler はユーザー管理とフォロー操作のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	graph   GraphServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, graph GraphServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
		graph:   graph,
	}
}

// registerUserRequest はユーザー登録リクエストのJSON構造。
type registerUserRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	City      string `json:"city"`
}

// updateProfileRequest はプロフィール更新リクエストのJSON構造。
// 省略したフィールドは変更しない。
type updateProfileRequest struct {
	FirstName      *string `json:"firstName"`
	LastName       *string `json:"lastName"`
	Description    *string `json:"desc"`
	City           *string `json:"city"`
	ProfilePicture *string `json:"profilePicture"`
	CoverPicture   *string `json:"coverPicture"`
}

// userResponse はユーザー情報のJSONレスポンス構造。
type userResponse struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	Description    string    `json:"desc"`
	City           string    `json:"city"`
	ProfilePicture string    `json:"profilePicture"`
	CoverPicture   string    `json:"coverPicture"`
	IsAdmin        bool      `json:"isAdmin"`
	Following      []string  `json:"following"`
	Followers      []string  `json:"followers"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// userIDsResponse はフォロー中/フォロワー一覧のJSONレスポンス構造。
type userIDsResponse struct {
	UserIDs []string `json:"userIds"`
}

// Register はユーザーを登録する。
// POST /api/users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	u, err := h.service.Register(r.Context(), user.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		City:      req.City,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

// ListUsers はユーザー一覧を返す。
// GET /api/users?page=1&limit=10
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, pageSize, apiErr := parsePagination(r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	users, err := h.service.List(r.Context(), page, pageSize)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUser はユーザー情報を返す。
// GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// UpdateMe はログインユーザー自身のプロフィールを更新する。
// PATCH /api/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), userID, model.ProfileUpdate{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Description:    req.Description,
		City:           req.City,
		ProfilePicture: req.ProfilePicture,
		CoverPicture:   req.CoverPicture,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Follow はログインユーザーが{id}をフォローする。
// PUT /api/users/{id}/follow
func (h *UserHandler) Follow(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	if err := h.graph.Follow(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unfollow はログインユーザーによる{id}のフォローを解除する。
// DELETE /api/users/{id}/follow
func (h *UserHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	if err := h.graph.Unfollow(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Following は{id}がフォロー中のユーザーID一覧を返す。
// GET /api/users/{id}/following
func (h *UserHandler) Following(w http.ResponseWriter, r *http.Request) {
	ids, err := h.graph.FollowingOf(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userIDsResponse{UserIDs: nonNilIDs(ids)})
}

// Followers は{id}のフォロワーのユーザーID一覧を返す。
// GET /api/users/{id}/followers
func (h *UserHandler) Followers(w http.ResponseWriter, r *http.Request) {
	ids, err := h.graph.FollowersOf(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userIDsResponse{UserIDs: nonNilIDs(ids)})
}

// toUserResponse はmodel.UserからAPIレスポンスに変換する。
func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Description:    u.Description,
		City:           u.City,
		ProfilePicture: u.ProfilePicture,
		CoverPicture:   u.CoverPicture,
		IsAdmin:        u.IsAdmin,
		Following:      nonNilIDs(u.Following),
		Followers:      nonNilIDs(u.Followers),
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

func nonNilIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
