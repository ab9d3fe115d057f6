package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/lib/pq"
)

const postColumns = `id, seq, user_id, username, description, img, media_type, profile_picture,
	likes, created_at, updated_at`

// timelineOrder は投稿一覧の並び順。created_at降順で、同時刻は挿入順。
const timelineOrder = `ORDER BY created_at DESC, seq ASC`

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

func scanPost(row rowScanner) (*model.Post, error) {
	p := &model.Post{}
	var mediaType string
	err := row.Scan(
		&p.ID, &p.Seq, &p.UserID, &p.Username, &p.Desc, &p.Img, &mediaType, &p.ProfilePicture,
		pq.Array(&p.Likes), &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.MediaType = model.MediaType(mediaType)
	if p.Likes == nil {
		p.Likes = []string{}
	}
	return p, nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	post, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("failed to find post by ID", err)
	}
	return post, nil
}

const insertPostSQL = `INSERT INTO posts (id, user_id, username, description, img, media_type,
	profile_picture, likes, created_at, updated_at)
 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
 RETURNING seq`

func insertPostArgs(p *model.Post) []any {
	likes := p.Likes
	if likes == nil {
		likes = []string{}
	}
	return []any{
		p.ID, p.UserID, p.Username, p.Desc, p.Img, string(p.MediaType),
		p.ProfilePicture, pq.Array(likes), p.CreatedAt, p.UpdatedAt,
	}
}

// Create は投稿を作成し、採番されたSeqをpostに設定する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	if err := r.db.QueryRowContext(ctx, insertPostSQL, insertPostArgs(post)...).Scan(&post.Seq); err != nil {
		return classifyError("failed to insert post", err)
	}
	return nil
}

// InsertMany は複数の投稿を1トランザクションで作成する。
// スライスの順にseqが採番されるため、同時刻の投稿は入力順に並ぶ。
func (r *PostgresPostRepo) InsertMany(ctx context.Context, posts []*model.Post) error {
	if len(posts) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertPostSQL)
	if err != nil {
		return classifyError("failed to prepare post insert", err)
	}
	defer stmt.Close()

	for _, p := range posts {
		if err := stmt.QueryRowContext(ctx, insertPostArgs(p)...).Scan(&p.Seq); err != nil {
			return classifyError("failed to insert post", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyError("failed to commit transaction", err)
	}
	return nil
}

// Update は本文・メディアを更新する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) Update(ctx context.Context, id string, input model.PostInput, now time.Time) (*model.Post, error) {
	post, err := scanPost(r.db.QueryRowContext(ctx,
		`UPDATE posts SET description = $2, img = $3, media_type = $4, updated_at = $5
		 WHERE id = $1
		 RETURNING `+postColumns,
		id, input.Desc, input.Img, string(input.MediaType), now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("failed to update post", err)
	}
	return post, nil
}

// Delete は投稿を削除する。削除した場合はtrueを返す。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return false, classifyError("failed to delete post", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, classifyError("failed to get rows affected", err)
	}
	return n > 0, nil
}

// FindByAuthors は投稿者がauthorIDsに含まれる投稿を新しい順に返す。
func (r *PostgresPostRepo) FindByAuthors(ctx context.Context, authorIDs []string, skip, limit int) ([]*model.Post, error) {
	if len(authorIDs) == 0 {
		return []*model.Post{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE user_id = ANY($1) `+timelineOrder+` OFFSET $2 LIMIT $3`,
		pq.Array(authorIDs), skip, limitArg(limit),
	)
	if err != nil {
		return nil, classifyError("failed to find posts by authors", err)
	}
	defer rows.Close()

	posts := []*model.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, classifyError("failed to scan post", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("failed to iterate posts", err)
	}
	return posts, nil
}

// CountByAuthors は投稿者がauthorIDsに含まれる投稿の件数を返す。
func (r *PostgresPostRepo) CountByAuthors(ctx context.Context, authorIDs []string) (int, error) {
	if len(authorIDs) == 0 {
		return 0, nil
	}

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM posts WHERE user_id = ANY($1)`, pq.Array(authorIDs),
	).Scan(&count)
	if err != nil {
		return 0, classifyError("failed to count posts by authors", err)
	}
	return count, nil
}

// AddLike はlikesにuserIDを存在しない場合のみ追加する。
func (r *PostgresPostRepo) AddLike(ctx context.Context, postID, userID string, now time.Time) (SetMutation, error) {
	return r.execLikeMutation(ctx, "failed to add like", `
		WITH target AS (
			SELECT id FROM posts WHERE id = $1
		), updated AS (
			UPDATE posts SET likes = array_append(likes, $2::text), updated_at = $3
			WHERE id = $1 AND NOT ($2::text = ANY(likes))
			RETURNING id
		)
		SELECT EXISTS (SELECT 1 FROM target), EXISTS (SELECT 1 FROM updated)`,
		postID, userID, now)
}

// RemoveLike はlikesからuserIDを存在する場合のみ削除する。
// 最後の1件を削除した場合は空配列になり、NULLにはならない。
func (r *PostgresPostRepo) RemoveLike(ctx context.Context, postID, userID string, now time.Time) (SetMutation, error) {
	return r.execLikeMutation(ctx, "failed to remove like", `
		WITH target AS (
			SELECT id FROM posts WHERE id = $1
		), updated AS (
			UPDATE posts SET likes = array_remove(likes, $2::text), updated_at = $3
			WHERE id = $1 AND $2::text = ANY(likes)
			RETURNING id
		)
		SELECT EXISTS (SELECT 1 FROM target), EXISTS (SELECT 1 FROM updated)`,
		postID, userID, now)
}

func (r *PostgresPostRepo) execLikeMutation(ctx context.Context, op, query string, args ...any) (SetMutation, error) {
	var exists, updated bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&exists, &updated); err != nil {
		return SetUnchanged, classifyError(op, err)
	}
	return toSetMutation(exists, updated), nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
