package model

// PageSizeAll は全件取得を表すページサイズの番兵値。
const PageSizeAll = -1

// Pagination は正規化済みのページ指定を表す。
type Pagination struct {
	Page     int
	PageSize int
}

// NewPagination はページ指定を正規化する。
// pageSizeがPageSizeAllの場合は全件取得として扱い、Pageは1に固定する。
// それ以外はpage、pageSizeともに1未満を1に補正する。
func NewPagination(page, pageSize int) Pagination {
	if pageSize == PageSizeAll {
		return Pagination{Page: 1, PageSize: PageSizeAll}
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	return Pagination{Page: page, PageSize: pageSize}
}

// All は全件取得指定かを返す。
func (p Pagination) All() bool {
	return p.PageSize == PageSizeAll
}

// Skip はストアに渡すスキップ件数を返す。全件取得では0。
func (p Pagination) Skip() int {
	if p.All() {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Limit はストアに渡す取得上限を返す。全件取得では0（上限なし）。
func (p Pagination) Limit() int {
	if p.All() {
		return 0
	}
	return p.PageSize
}

// TotalPages は全件数からページ数を算出する。
// 全件取得では常に1、それ以外はceil(total/pageSize)。
func (p Pagination) TotalPages(total int) int {
	if p.All() {
		return 1
	}
	return (total + p.PageSize - 1) / p.PageSize
}

// NewPostPage は投稿スライスと全件数からPostPageを組み立てる。
func (p Pagination) NewPostPage(posts []*Post, total int) *PostPage {
	if posts == nil {
		posts = []*Post{}
	}
	return &PostPage{
		Posts:       posts,
		TotalCount:  total,
		TotalPages:  p.TotalPages(total),
		CurrentPage: p.Page,
	}
}
