package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/lib/pq"
)

const userColumns = `id, username, email, first_name, last_name, description, city,
	profile_picture, cover_picture, is_active, is_admin, following, followers, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// following/followersはTEXT[]カラムとして保持する。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.Description, &u.City,
		&u.ProfilePicture, &u.CoverPicture, &u.IsActive, &u.IsAdmin,
		pq.Array(&u.Following), pq.Array(&u.Followers),
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if u.Following == nil {
		u.Following = []string{}
	}
	if u.Followers == nil {
		u.Followers = []string{}
	}
	return u, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("failed to find user by ID", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, first_name, last_name, description, city,
			profile_picture, cover_picture, is_active, is_admin, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		user.ID, user.Username, user.Email, user.FirstName, user.LastName, user.Description, user.City,
		user.ProfilePicture, user.CoverPicture, user.IsActive, user.IsAdmin, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return classifyError("failed to insert user", err)
	}
	return nil
}

// List はユーザー一覧を作成日時の昇順で返す。limitが0の場合は上限なし。
func (r *PostgresUserRepo) List(ctx context.Context, skip, limit int) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC OFFSET $1 LIMIT $2`,
		skip, limitArg(limit),
	)
	if err != nil {
		return nil, classifyError("failed to list users", err)
	}
	defer rows.Close()

	users := []*model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, classifyError("failed to scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("failed to iterate users", err)
	}
	return users, nil
}

// UpdateProfile はプロフィール項目のみを更新する。nilの項目は既存値を維持する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate, now time.Time) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET
			first_name      = COALESCE($2, first_name),
			last_name       = COALESCE($3, last_name),
			description     = COALESCE($4, description),
			city            = COALESCE($5, city),
			profile_picture = COALESCE($6, profile_picture),
			cover_picture   = COALESCE($7, cover_picture),
			updated_at      = $8
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, update.FirstName, update.LastName, update.Description, update.City,
		update.ProfilePicture, update.CoverPicture, now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError("failed to update user profile", err)
	}
	return user, nil
}

// AddFollowing はuserIDのfollowingにtargetIDを存在しない場合のみ追加する。
func (r *PostgresUserRepo) AddFollowing(ctx context.Context, userID, targetID string) (SetMutation, error) {
	return r.addToSet(ctx, "following", userID, targetID)
}

// RemoveFollowing はuserIDのfollowingからtargetIDを存在する場合のみ削除する。
func (r *PostgresUserRepo) RemoveFollowing(ctx context.Context, userID, targetID string) (SetMutation, error) {
	return r.removeFromSet(ctx, "following", userID, targetID)
}

// AddFollower はuserIDのfollowersにfollowerIDを存在しない場合のみ追加する。
func (r *PostgresUserRepo) AddFollower(ctx context.Context, userID, followerID string) (SetMutation, error) {
	return r.addToSet(ctx, "followers", userID, followerID)
}

// RemoveFollower はuserIDのfollowersからfollowerIDを存在する場合のみ削除する。
func (r *PostgresUserRepo) RemoveFollower(ctx context.Context, userID, followerID string) (SetMutation, error) {
	return r.removeFromSet(ctx, "followers", userID, followerID)
}

// addToSet は配列カラムへの条件付き追加を1文で実行する。
// UPDATEのWHERE句は行ロック取得後に再評価されるため、
// 同じ要素を同時に追加した場合でも成功するのは1件だけになる。
// columnは呼び出し元で固定した値のみを渡すこと。
func (r *PostgresUserRepo) addToSet(ctx context.Context, column, id, value string) (SetMutation, error) {
	query := fmt.Sprintf(`
		WITH target AS (
			SELECT id FROM users WHERE id = $1
		), updated AS (
			UPDATE users SET %[1]s = array_append(%[1]s, $2::text), updated_at = now()
			WHERE id = $1 AND NOT ($2::text = ANY(%[1]s))
			RETURNING id
		)
		SELECT EXISTS (SELECT 1 FROM target), EXISTS (SELECT 1 FROM updated)`, column)
	return r.execSetMutation(ctx, "failed to add to "+column, query, id, value)
}

// removeFromSet は配列カラムからの条件付き削除を1文で実行する。
func (r *PostgresUserRepo) removeFromSet(ctx context.Context, column, id, value string) (SetMutation, error) {
	query := fmt.Sprintf(`
		WITH target AS (
			SELECT id FROM users WHERE id = $1
		), updated AS (
			UPDATE users SET %[1]s = array_remove(%[1]s, $2::text), updated_at = now()
			WHERE id = $1 AND $2::text = ANY(%[1]s)
			RETURNING id
		)
		SELECT EXISTS (SELECT 1 FROM target), EXISTS (SELECT 1 FROM updated)`, column)
	return r.execSetMutation(ctx, "failed to remove from "+column, query, id, value)
}

func (r *PostgresUserRepo) execSetMutation(ctx context.Context, op, query string, args ...any) (SetMutation, error) {
	var exists, updated bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&exists, &updated); err != nil {
		return SetUnchanged, classifyError(op, err)
	}
	return toSetMutation(exists, updated), nil
}

func toSetMutation(exists, updated bool) SetMutation {
	switch {
	case updated:
		return SetApplied
	case !exists:
		return SetMissing
	default:
		return SetUnchanged
	}
}

// ListAdminIDs は管理者ユーザーのID一覧を返す。
func (r *PostgresUserRepo) ListAdminIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users WHERE is_admin ORDER BY id`)
	if err != nil {
		return nil, classifyError("failed to list admin users", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classifyError("failed to scan admin user", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("failed to iterate admin users", err)
	}
	return ids, nil
}

// ListMissingFollowerEdges はfollowers側が欠けているフォロー関係を返す。
func (r *PostgresUserRepo) ListMissingFollowerEdges(ctx context.Context, limit int) ([]FollowEdge, error) {
	return r.listEdges(ctx, "failed to list missing follower edges", `
		SELECT u.id, f.target_id
		FROM users u
		CROSS JOIN LATERAL unnest(u.following) AS f(target_id)
		JOIN users t ON t.id = f.target_id
		WHERE NOT (u.id = ANY(t.followers))
		ORDER BY u.id, f.target_id
		LIMIT $1`, limit)
}

// ListStaleFollowerEdges はfollowing側が存在しないのにfollowers側だけ残っている関係を返す。
// フォロワー本人が削除済みの場合も対象に含める。
func (r *PostgresUserRepo) ListStaleFollowerEdges(ctx context.Context, limit int) ([]FollowEdge, error) {
	return r.listEdges(ctx, "failed to list stale follower edges", `
		SELECT f.follower_id, t.id
		FROM users t
		CROSS JOIN LATERAL unnest(t.followers) AS f(follower_id)
		LEFT JOIN users u ON u.id = f.follower_id
		WHERE u.id IS NULL OR NOT (t.id = ANY(u.following))
		ORDER BY t.id, f.follower_id
		LIMIT $1`, limit)
}

func (r *PostgresUserRepo) listEdges(ctx context.Context, op, query string, limit int) ([]FollowEdge, error) {
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, classifyError(op, err)
	}
	defer rows.Close()

	edges := []FollowEdge{}
	for rows.Next() {
		var e FollowEdge
		if err := rows.Scan(&e.FollowerID, &e.TargetID); err != nil {
			return nil, classifyError(op, err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(op, err)
	}
	return edges, nil
}

// limitArg はLIMIT句に渡す値を返す。0以下はNULL（上限なし）とする。
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
