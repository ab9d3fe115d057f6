package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/socialfeed/internal/middleware"
	"github.com/hitoshi/socialfeed/internal/model"
)

// TimelineServiceInterface はタイムライン取得のサービスインターフェース。
type TimelineServiceInterface interface {
	Compose(ctx context.Context, userID string, page, pageSize int) (*model.PostPage, error)
}

// TimelineHandler はタイムラインのHTTPハンドラー。
type TimelineHandler struct {
	service TimelineServiceInterface
}

// NewTimelineHandler はTimelineHandlerを生成する。
func NewTimelineHandler(service TimelineServiceInterface) *TimelineHandler {
	return &TimelineHandler{service: service}
}

// GetTimeline はログインユーザーのタイムラインを返す。
// GET /api/timeline?page=1&limit=10
func (h *TimelineHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	page, pageSize, apiErr := parsePagination(r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.Compose(r.Context(), userID, page, pageSize)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
