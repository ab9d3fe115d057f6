// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/socialfeed/internal/middleware"
	"github.com/hitoshi/socialfeed/internal/model"
)

const (
	defaultPage     = 1
	defaultPageSize = 10
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 片側だけ適用されたフォロー操作は詳細をログに残し、本文にはコードのみを返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var partial *model.PartiallyAppliedError
	if errors.As(err, &partial) {
		slog.Error("graph mutation partially applied",
			slog.String("op", partial.Op),
			slog.String("follower_id", partial.FollowerID),
			slog.String("target_id", partial.TargetID),
			slog.String("applied_side", string(partial.AppliedSide)),
			slog.String("error", err.Error()),
		)
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeSelfFollow, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeAlreadyFollowing, model.ErrCodeNotFollowing,
		model.ErrCodeAlreadyLiked, model.ErrCodeNotLiked, model.ErrCodeConflict:
		return http.StatusConflict
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		// PARTIALLY_APPLIEDを含む
		return http.StatusInternalServerError
	}
}

// writeInvalidBody はリクエストボディの解析失敗時の400レスポンスを書き込む。
func writeInvalidBody(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     model.ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// parsePagination はクエリパラメータpage/limitを解析する。
// 未指定の場合はpage=1、limit=10。limit=-1は全件取得を表す。
// 範囲外の値の補正はサービス層で行い、ここでは整数でない値のみを拒否する。
func parsePagination(r *http.Request) (page, pageSize int, apiErr *model.APIError) {
	page, pageSize = defaultPage, defaultPageSize

	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, model.NewInvalidRequestError("pageは整数で指定してください")
		}
		page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, model.NewInvalidRequestError("limitは整数で指定してください")
		}
		pageSize = n
	}
	return page, pageSize, nil
}
