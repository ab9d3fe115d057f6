package cache

import (
	"fmt"
	"strings"

	"github.com/hitoshi/socialfeed/internal/model"
)

// AdminPostsPrefix は管理者投稿一覧のキャッシュキー接頭辞。
const AdminPostsPrefix = "posts:admin:"

// TimelinePrefix はユーザーのタイムラインキャッシュのキー接頭辞を返す。
// 末尾の区切り文字により、IDが前方一致する別ユーザーのキーは対象にならない。
func TimelinePrefix(userID string) string {
	return "timeline:" + userID + ":"
}

// PageKey はページ指定からキャッシュキーを組み立てる。
// 全件取得は通常のページとは別の"all"キーを使う。
func PageKey(prefix string, p model.Pagination) string {
	if p.All() {
		return prefix + "all"
	}
	return fmt.Sprintf("%s%d:%d", prefix, p.Page, p.PageSize)
}

// namespace はメトリクスのラベル用にキーの先頭セグメントを返す。
func namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

func hasAnyPrefix(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
