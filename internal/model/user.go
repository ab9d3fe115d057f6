// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// FollowingとFollowersは双方向の関係を保つ:
// BがA.Followingに含まれる場合に限りAはB.Followersに含まれる。
type User struct {
	ID             string
	Username       string
	Email          string
	FirstName      string
	LastName       string
	Description    string
	City           string
	ProfilePicture string
	CoverPicture   string
	IsActive       bool
	IsAdmin        bool
	Following      []string // フォロー中のユーザーID（自分自身と重複を含まない）
	Followers      []string // フォロワーのユーザーID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsFollowing はuserIDをフォロー中かを返す。
func (u *User) IsFollowing(userID string) bool {
	return containsID(u.Following, userID)
}

// HasFollower はuserIDがフォロワーに含まれるかを返す。
func (u *User) HasFollower(userID string) bool {
	return containsID(u.Followers, userID)
}

// ProfileUpdate はプロフィール更新の入力を表す。
// nilのフィールドは変更しない。フォロー関係はここからは変更できない。
type ProfileUpdate struct {
	FirstName      *string
	LastName       *string
	Description    *string
	City           *string
	ProfilePicture *string
	CoverPicture   *string
}

// Session はユーザーのログインセッションを表す。
// セッションの発行は外部の認証基盤が行い、本サービスは参照のみ行う。
type Session struct {
	ID        string
	UserID    string
	Username  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Principal は認証済みの呼び出し元を表す。
type Principal struct {
	UserID   string
	Username string
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
