// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/socialfeed/internal/model"
)

// SetMutation は集合フィールドへの条件付き追加・削除の結果を表す。
type SetMutation int

const (
	// SetApplied は集合が変更されたことを示す。
	SetApplied SetMutation = iota
	// SetUnchanged は対象ドキュメントは存在したが、要素が既に存在（追加時）
	// または存在しなかった（削除時）ため変更がなかったことを示す。
	SetUnchanged
	// SetMissing は対象ドキュメントが存在しなかったことを示す。
	SetMissing
)

// String はログ出力用の文字列表現を返す。
func (m SetMutation) String() string {
	switch m {
	case SetApplied:
		return "applied"
	case SetUnchanged:
		return "unchanged"
	case SetMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// UserRepository はユーザーデータの永続化インターフェース。
// following/followersの変更は必ず1文の条件付き更新で行い、
// 読み出し→書き戻しの形を取らない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。username/emailの重複はConflictエラーを返す。
	Create(ctx context.Context, user *model.User) error

	// List はユーザー一覧を作成日時の昇順で返す。
	List(ctx context.Context, skip, limit int) ([]*model.User, error)

	// UpdateProfile はプロフィール項目のみを更新する。見つからない場合はnilを返す。
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate, now time.Time) (*model.User, error)

	// AddFollowing はuserIDのfollowingにtargetIDを存在しない場合のみ追加する。
	AddFollowing(ctx context.Context, userID, targetID string) (SetMutation, error)

	// RemoveFollowing はuserIDのfollowingからtargetIDを存在する場合のみ削除する。
	RemoveFollowing(ctx context.Context, userID, targetID string) (SetMutation, error)

	// AddFollower はuserIDのfollowersにfollowerIDを存在しない場合のみ追加する。
	AddFollower(ctx context.Context, userID, followerID string) (SetMutation, error)

	// RemoveFollower はuserIDのfollowersからfollowerIDを存在する場合のみ削除する。
	RemoveFollower(ctx context.Context, userID, followerID string) (SetMutation, error)

	// ListAdminIDs は管理者ユーザーのID一覧を返す。
	ListAdminIDs(ctx context.Context) ([]string, error)

	// ListMissingFollowerEdges はAのfollowingにBが含まれるがBのfollowersにAが含まれない
	// 片側だけのエッジを最大limit件返す。
	ListMissingFollowerEdges(ctx context.Context, limit int) ([]FollowEdge, error)

	// ListStaleFollowerEdges はBのfollowersにAが含まれるがAのfollowingにBが含まれない
	// 片側だけのエッジを最大limit件返す。
	ListStaleFollowerEdges(ctx context.Context, limit int) ([]FollowEdge, error)
}

// FollowEdge はフォロー関係の1本の辺（FollowerID → TargetID）を表す。
type FollowEdge struct {
	FollowerID string
	TargetID   string
}

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// Create は投稿を作成する。ストアが採番したSeqがpostに設定される。
	Create(ctx context.Context, post *model.Post) error

	// InsertMany は複数の投稿を1トランザクションで作成する。
	InsertMany(ctx context.Context, posts []*model.Post) error

	// Update は本文・メディアを更新する。見つからない場合はnilを返す。
	Update(ctx context.Context, id string, input model.PostInput, now time.Time) (*model.Post, error)

	// Delete は投稿を削除する。削除した場合はtrueを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// FindByAuthors は投稿者がauthorIDsに含まれる投稿を
	// created_at降順、同時刻はseq昇順で返す。limitが0の場合は上限なし。
	FindByAuthors(ctx context.Context, authorIDs []string, skip, limit int) ([]*model.Post, error)

	// CountByAuthors は投稿者がauthorIDsに含まれる投稿の件数を返す。
	CountByAuthors(ctx context.Context, authorIDs []string) (int, error)

	// AddLike はlikesにuserIDを存在しない場合のみ追加し、同じ更新でupdated_atを設定する。
	AddLike(ctx context.Context, postID, userID string, now time.Time) (SetMutation, error)

	// RemoveLike はlikesからuserIDを存在する場合のみ削除し、同じ更新でupdated_atを設定する。
	RemoveLike(ctx context.Context, postID, userID string, now time.Time) (SetMutation, error)
}

// SessionRepository はセッションデータの参照インターフェース。
// セッションの発行は外部の認証基盤が行う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
