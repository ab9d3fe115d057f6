package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/socialfeed/internal/middleware"
	"github.com/hitoshi/socialfeed/internal/model"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	Create(ctx context.Context, principal model.Principal, input model.PostInput) (*model.Post, error)
	CreateMany(ctx context.Context, principal model.Principal, imgURLs []string) ([]*model.Post, error)
	Get(ctx context.Context, postID string) (*model.Post, error)
	Update(ctx context.Context, principal model.Principal, postID string, update model.PostUpdate) (*model.Post, error)
	Delete(ctx context.Context, principal model.Principal, postID string) error
	ListUserPosts(ctx context.Context, userID string, page, pageSize int) (*model.PostPage, error)
	ListAdminPosts(ctx context.Context, page, pageSize int) (*model.PostPage, error)
}

// EngagementServiceInterface はいいね操作のサービスインターフェース。
type EngagementServiceInterface interface {
	Like(ctx context.Context, postID, userID string) (*model.Post, error)
	Unlike(ctx context.Context, postID, userID string) (*model.Post, error)
}

// PostHandler は投稿といいねのHTTPハンドラー。
type PostHandler struct {
	posts      PostServiceInterface
	engagement EngagementServiceInterface
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(posts PostServiceInterface, engagement EngagementServiceInterface) *PostHandler {
	return &PostHandler{
		posts:      posts,
		engagement: engagement,
	}
}

// createPostRequest は投稿作成リクエストのJSON構造。
type createPostRequest struct {
	Desc string `json:"desc"`
	Img  string `json:"img"`
}

// createManyRequest は複数投稿作成リクエストのJSON構造。
type createManyRequest struct {
	Imgs []string `json:"imgs"`
}

// updatePostRequest は投稿更新リクエストのJSON構造。
type updatePostRequest struct {
	Desc *string `json:"desc"`
	Img  *string `json:"img"`
}

// CreatePost は投稿を作成する。
// POST /api/posts
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	post, err := h.posts.Create(r.Context(), principal, model.PostInput{Desc: req.Desc, Img: req.Img})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// CreateMany はメディアURLごとに1件ずつ投稿を一括作成する。
// POST /api/posts/multiple
func (h *PostHandler) CreateMany(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	var req createManyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	posts, err := h.posts.CreateMany(r.Context(), principal, req.Imgs)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, posts)
}

// GetPost は投稿を返す。
// GET /api/posts/{id}
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.posts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// UpdatePost は投稿の本文・メディアを更新する。投稿者本人のみ実行できる。
// PATCH /api/posts/{id}
func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	var req updatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	post, err := h.posts.Update(r.Context(), principal, chi.URLParam(r, "id"), model.PostUpdate{
		Desc: req.Desc,
		Img:  req.Img,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// DeletePost は投稿を削除する。投稿者本人のみ実行できる。
// DELETE /api/posts/{id}
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	principal, err := middleware.PrincipalFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	if err := h.posts.Delete(r.Context(), principal, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUserPosts は{id}の投稿一覧を返す。
// GET /api/users/{id}/posts?page=1&limit=10
func (h *PostHandler) ListUserPosts(w http.ResponseWriter, r *http.Request) {
	page, pageSize, apiErr := parsePagination(r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.posts.ListUserPosts(r.Context(), chi.URLParam(r, "id"), page, pageSize)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListAdminPosts は管理者ユーザーの投稿一覧を返す。
// GET /api/posts?page=1&limit=10
func (h *PostHandler) ListAdminPosts(w http.ResponseWriter, r *http.Request) {
	page, pageSize, apiErr := parsePagination(r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.posts.ListAdminPosts(r.Context(), page, pageSize)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Like はログインユーザーとして投稿にいいねする。
// PUT /api/posts/{id}/like
func (h *PostHandler) Like(w http.ResponseWriter, r *http.Request) {
	h.mutateLike(w, r, h.engagement.Like)
}

// Unlike はログインユーザーのいいねを取り消す。
// DELETE /api/posts/{id}/like
func (h *PostHandler) Unlike(w http.ResponseWriter, r *http.Request) {
	h.mutateLike(w, r, h.engagement.Unlike)
}

func (h *PostHandler) mutateLike(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, postID, userID string) (*model.Post, error),
) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	post, err := op(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}
