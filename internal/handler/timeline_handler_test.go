package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/socialfeed/internal/model"
)

func TestTimelineHandler_GetTimeline_UsesCaller(t *testing.T) {
	var gotUser string
	var gotPage, gotSize int
	svc := &mockTimelineService{
		composeFn: func(ctx context.Context, userID string, page, pageSize int) (*model.PostPage, error) {
			gotUser, gotPage, gotSize = userID, page, pageSize
			return model.NewPagination(page, pageSize).NewPostPage(nil, 0), nil
		},
	}
	h := NewTimelineHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/timeline?page=3", nil)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.GetTimeline(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUser != "user-1" || gotPage != 3 || gotSize != defaultPageSize {
		t.Errorf("Compose(%q, %d, %d), want (user-1, 3, %d)", gotUser, gotPage, gotSize, defaultPageSize)
	}
}

func TestTimelineHandler_GetTimeline_UserNotFound(t *testing.T) {
	svc := &mockTimelineService{
		composeFn: func(ctx context.Context, userID string, page, pageSize int) (*model.PostPage, error) {
			return nil, model.NewUserNotFoundError(userID)
		},
	}
	h := NewTimelineHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/timeline", nil)
	req = withUserID(req, "ghost")
	w := httptest.NewRecorder()

	h.GetTimeline(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if got := decodeErrorCode(t, w); got != model.ErrCodeUserNotFound {
		t.Errorf("code = %q, want %q", got, model.ErrCodeUserNotFound)
	}
}

func TestTimelineHandler_GetTimeline_NoUserID_ReturnsUnauthorized(t *testing.T) {
	h := NewTimelineHandler(&mockTimelineService{})

	req := httptest.NewRequest(http.MethodGet, "/api/timeline", nil)
	w := httptest.NewRecorder()

	h.GetTimeline(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
