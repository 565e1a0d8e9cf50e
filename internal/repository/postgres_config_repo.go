package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xrclabs/authd/internal/model"
)

// PostgresConfigRepo はPostgreSQLを使用した設定リポジトリ。
// configテーブルはマイグレーションで単一行（id=1）に固定される。
type PostgresConfigRepo struct {
	db *sql.DB
}

// NewPostgresConfigRepo はPostgresConfigRepoを生成する。
func NewPostgresConfigRepo(db *sql.DB) *PostgresConfigRepo {
	return &PostgresConfigRepo{db: db}
}

// Version はストアに設定されたローダーバージョンを返す。
// 設定行が存在しない場合は空文字列を返す。
func (r *PostgresConfigRepo) Version(ctx context.Context) (string, error) {
	var version string
	err := r.db.QueryRowContext(ctx,
		`SELECT version FROM config WHERE id = 1`,
	).Scan(&version)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read config version: %w", err)
	}

	return version, nil
}

// SaveStatistics は統計スナップショットを保存する。
func (r *PostgresConfigRepo) SaveStatistics(ctx context.Context, stats *model.Statistics) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE config SET stats_users = $1, stats_products = $2, updated_at = now()
		 WHERE id = 1`,
		stats.Users, stats.Products,
	)
	if err != nil {
		return fmt.Errorf("failed to save statistics snapshot: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ConfigRepository = (*PostgresConfigRepo)(nil)
