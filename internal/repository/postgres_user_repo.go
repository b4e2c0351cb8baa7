package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/attendly/internal/model"
)

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, COALESCE(email, ''), name, COALESCE(external_id, ''), COALESCE(external_name, ''),
	password_hash, is_admin, is_active, created_at, updated_at`

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.ExternalID, &user.ExternalName,
		&user.PasswordHash, &user.IsAdmin, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !validID(id) {
		return nil, nil
	}
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByExternalID は外部IDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	if externalID == "" {
		return nil, nil
	}
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_id = $1`,
		externalID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by external ID: %w", err)
	}
	return user, nil
}

// FindByLogin は名前またはメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByLogin(ctx context.Context, handle string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE lower(name) = lower($1) OR lower(email) = lower($1)
		 ORDER BY (lower(name) = lower($1)) DESC
		 LIMIT 1`,
		handle,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by login: %w", err)
	}
	return user, nil
}

// FindByName は名前（大文字小文字を区別しない完全一致）でユーザーを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByName(ctx context.Context, name string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(name) = lower($1)`,
		name,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by name: %w", err)
	}
	return user, nil
}

// EmailTaken はメールアドレスが登録済みかを返す。
func (r *PostgresUserRepo) EmailTaken(ctx context.Context, email string) (bool, error) {
	var taken bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`,
		email,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return taken, nil
}

// NameTaken は名前が大文字小文字を区別せず使用済みかを返す。
func (r *PostgresUserRepo) NameTaken(ctx context.Context, name, excludeUserID string) (bool, error) {
	var taken bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM users
			WHERE lower(name) = lower($1) AND ($2 = '' OR id::text <> $2)
		)`,
		name, excludeUserID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check name: %w", err)
	}
	return taken, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, external_id, external_name, password_hash,
		                    is_admin, is_active, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10)`,
		user.ID, user.Email, user.Name, user.ExternalID, user.ExternalName, user.PasswordHash,
		user.IsAdmin, user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if mapped := translateConstraintError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Update はユーザーの全カラムを更新する。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET email = NULLIF($2, ''), name = $3, external_id = NULLIF($4, ''), external_name = NULLIF($5, ''),
		     password_hash = $6, is_admin = $7, is_active = $8, updated_at = $9
		 WHERE id = $1`,
		user.ID, user.Email, user.Name, user.ExternalID, user.ExternalName,
		user.PasswordHash, user.IsAdmin, user.IsActive, user.UpdatedAt,
	)
	if err != nil {
		if mapped := translateConstraintError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", user.ID)
	}
	return nil
}

// List は作成日時順にユーザー一覧を取得する。
func (r *PostgresUserRepo) List(ctx context.Context, offset, limit int) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id OFFSET $1 LIMIT $2`,
		offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// Count はユーザー総数を返す。
func (r *PostgresUserRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
