package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/ayurleaf/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// FindByToken は指定トークンのセッションを取得する。存在しない・期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByToken(ctx context.Context, token string) (*model.SessionRecord, error) {
	rec := &model.SessionRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT token, authenticated, identity, pending_email, pending_name,
		        code_digest, expires_at, updated_at
		 FROM sessions
		 WHERE token = $1 AND expires_at > now()`,
		token,
	).Scan(
		&rec.Token, &rec.Authenticated, &rec.Identity, &rec.PendingEmail, &rec.PendingName,
		&rec.CodeDigest, &rec.ExpiresAt, &rec.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return rec, nil
}

// Upsert はセッションを作成または更新する。
func (r *PostgresSessionRepo) Upsert(ctx context.Context, rec *model.SessionRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (token, authenticated, identity, pending_email, pending_name,
		                       code_digest, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (token) DO UPDATE SET
		   authenticated = EXCLUDED.authenticated,
		   identity = EXCLUDED.identity,
		   pending_email = EXCLUDED.pending_email,
		   pending_name = EXCLUDED.pending_name,
		   code_digest = EXCLUDED.code_digest,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = EXCLUDED.updated_at`,
		rec.Token, rec.Authenticated, rec.Identity, rec.PendingEmail, rec.PendingName,
		rec.CodeDigest, rec.ExpiresAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// DeleteByToken は指定トークンのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE token = $1`,
		token,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
