// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: graph, engagement, timeline, validation, auth, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因エラー（ログ用、レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeSelfFollow       = "SELF_FOLLOW"
	ErrCodeAlreadyFollowing = "ALREADY_FOLLOWING"
	ErrCodeNotFollowing     = "NOT_FOLLOWING"
	ErrCodeAlreadyLiked     = "ALREADY_LIKED"
	ErrCodeNotLiked         = "NOT_LIKED"
	ErrCodePartiallyApplied = "PARTIALLY_APPLIED"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewNotFoundError は対象ドキュメント（ユーザーまたは投稿）が存在しない場合のエラーを生成する。
func NewNotFoundError(kind, id string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%sが見つかりません: %s", kind, id),
		Category: "graph",
		Action:   "IDを確認してください。",
	}
}

// NewSelfFollowError は自分自身をフォローしようとした場合のエラーを生成する。
func NewSelfFollowError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfFollow,
		Message:  "自分自身をフォローすることはできません。",
		Category: "graph",
		Action:   "他のユーザーを指定してください。",
	}
}

// NewAlreadyFollowingError は既にフォロー済みの場合のエラーを生成する。
func NewAlreadyFollowingError(targetID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyFollowing,
		Message:  fmt.Sprintf("既にフォローしています: %s", targetID),
		Category: "graph",
		Action:   "フォロー一覧を確認してください。",
	}
}

// NewNotFollowingError はフォローしていないユーザーをフォロー解除しようとした場合のエラーを生成する。
func NewNotFollowingError(targetID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFollowing,
		Message:  fmt.Sprintf("フォローしていません: %s", targetID),
		Category: "graph",
		Action:   "フォロー一覧を確認してください。",
	}
}

// NewAlreadyLikedError は既にいいね済みの投稿に再度いいねした場合のエラーを生成する。
func NewAlreadyLikedError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyLiked,
		Message:  fmt.Sprintf("既にいいねしています: %s", postID),
		Category: "engagement",
		Action:   "いいねを取り消す場合は解除操作を行ってください。",
	}
}

// NewNotLikedError はいいねしていない投稿のいいねを取り消そうとした場合のエラーを生成する。
func NewNotLikedError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotLiked,
		Message:  fmt.Sprintf("いいねしていません: %s", postID),
		Category: "engagement",
		Action:   "投稿の状態を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %s", userID),
		Category: "timeline",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewStoreUnavailableError はストアへの到達不能・タイムアウト時のエラーを生成する。
// 再試行可能なエラーとして扱われる。
func NewStoreUnavailableError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "データストアに一時的に接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewForbiddenError は他ユーザーのリソースを操作しようとした場合のエラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  reason,
		Category: "auth",
		Action:   "自分のリソースのみ操作できます。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewConflictError は一意制約に違反した場合のエラーを生成する。
func NewConflictError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  reason,
		Category: "validation",
		Action:   "別の値を指定してください。",
	}
}

// EdgeSide は双方向フォロー関係のどちら側の集合かを表す。
type EdgeSide string

const (
	// EdgeSideFollowing はフォローする側のfollowing集合。
	EdgeSideFollowing EdgeSide = "following"
	// EdgeSideFollowers はフォローされる側のfollowers集合。
	EdgeSideFollowers EdgeSide = "followers"
)

// PartiallyAppliedError はフォロー/フォロー解除の片側のみが反映された状態を表す。
// AppliedSideに反映済みの側が入り、Errに2段目の失敗原因が入る。
// 呼び出し側はこのエラーを他のエラーと区別して扱えなければならない。
type PartiallyAppliedError struct {
	*APIError
	Op          string // "follow" または "unfollow"
	FollowerID  string
	TargetID    string
	AppliedSide EdgeSide
}

// NewPartiallyAppliedError はPartiallyAppliedErrorを生成する。
func NewPartiallyAppliedError(op, followerID, targetID string, applied EdgeSide, cause error) *PartiallyAppliedError {
	return &PartiallyAppliedError{
		APIError: &APIError{
			Code:     ErrCodePartiallyApplied,
			Message:  fmt.Sprintf("%s処理が片側のみ反映されました（%s→%s, 反映済み: %s）", op, followerID, targetID, applied),
			Category: "graph",
			Action:   "しばらくすると自動的に整合されます。",
			Err:      cause,
		},
		Op:          op,
		FollowerID:  followerID,
		TargetID:    targetID,
		AppliedSide: applied,
	}
}

// Unwrap は内包するAPIErrorを返す。errors.AsでAPIErrorとしても取り出せる。
func (e *PartiallyAppliedError) Unwrap() error {
	return e.APIError
}

// HasCode はerrのチェーン中で最初に見つかるAPIErrorが指定コードかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsRetryable はerrが再試行可能（ストア到達不能）かを返す。
func IsRetryable(err error) bool {
	return HasCode(err, ErrCodeStoreUnavailable)
}

// ResultLabel はメトリクスのラベル用に処理結果を文字列化する。
// 成功は"ok"、APIErrorはそのコード、それ以外は"error"を返す。
func ResultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return "error"
}
