package model

import (
	"strings"
	"time"
)

// MediaType は投稿に添付されたメディアの種別。
type MediaType string

const (
	// MediaTypeImage は画像メディア。
	MediaTypeImage MediaType = "image"
	// MediaTypeVideo は動画メディア。
	MediaTypeVideo MediaType = "video"
)

// DetectMediaType はメディアURLから種別を推定する。
// URLに".mp4"を含む場合は動画、それ以外は画像とみなす。
func DetectMediaType(mediaURL string) MediaType {
	if strings.Contains(strings.ToLower(mediaURL), ".mp4") {
		return MediaTypeVideo
	}
	return MediaTypeImage
}

// Post はユーザーの投稿を表す。
type Post struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	Desc           string    `json:"desc"`
	Img            string    `json:"img"`
	MediaType      MediaType `json:"mediaType"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	Likes          []string  `json:"likes"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	// Seq は挿入順の連番。CreatedAtが同一の投稿の並び順を決定する。
	Seq int64 `json:"-"`
}

// LikedBy はuserIDがいいね済みかを返す。
func (p *Post) LikedBy(userID string) bool {
	return containsID(p.Likes, userID)
}

// PostInput は投稿作成・更新の入力を表す。
type PostInput struct {
	Desc      string
	Img       string
	MediaType MediaType // 空の場合はImgから推定する
}

// PostUpdate は投稿更新の入力を表す。nilのフィールドは変更しない。
type PostUpdate struct {
	Desc *string
	Img  *string
}

// PostPage はページングされた投稿一覧を表す。
// TotalCountはページの切り出しとは独立に数えた全件数。
type PostPage struct {
	Posts       []*Post `json:"posts"`
	TotalCount  int     `json:"totalCount"`
	TotalPages  int     `json:"totalPages"`
	CurrentPage int     `json:"currentPage"`
}
