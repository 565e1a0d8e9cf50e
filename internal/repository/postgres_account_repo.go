package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xrclabs/authd/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByDiscordID は指定DiscordIDのアカウントをプロダクト込みで取得する。
// 見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByDiscordID(ctx context.Context, discordID string) (*model.Account, error) {
	account := &model.Account{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, discord_id, username, hwid, created_at, updated_at
		 FROM accounts WHERE discord_id = $1`,
		discordID,
	).Scan(&account.ID, &account.DiscordID, &account.Username, &account.HWID,
		&account.CreatedAt, &account.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by discord ID: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, expiry FROM products
		 WHERE account_id = $1 ORDER BY created_at`,
		account.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Expiry); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		account.Products = append(account.Products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}

	return account, nil
}

// Create はアカウントとそのプロダクトを同一トランザクションで作成する。
// IDが未設定のフィールドには新しいUUIDを割り当てる。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, discord_id, username, hwid, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		account.ID, account.DiscordID, account.Username, account.HWID,
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	for i := range account.Products {
		p := &account.Products[i]
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		if p.Expiry == "" {
			p.Expiry = model.DefaultExpiry
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO products (id, account_id, name, expiry)
			 VALUES ($1, $2, $3, $4)`,
			p.ID, account.ID, p.Name, p.Expiry,
		)
		if err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateHWID は指定DiscordIDのアカウントのHWIDを更新する。
func (r *PostgresAccountRepo) UpdateHWID(ctx context.Context, discordID, hwid string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET hwid = $1, updated_at = now() WHERE discord_id = $2`,
		hwid, discordID,
	)
	if err != nil {
		return fmt.Errorf("failed to update hwid: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account not found: %s", discordID)
	}
	return nil
}

// AddProduct は既存アカウントにプロダクトを追加する。
func (r *PostgresAccountRepo) AddProduct(ctx context.Context, discordID string, product model.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	if product.Expiry == "" {
		product.Expiry = model.DefaultExpiry
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, account_id, name, expiry)
		 SELECT $1, id, $2, $3 FROM accounts WHERE discord_id = $4`,
		product.ID, product.Name, product.Expiry, discordID,
	)
	if err != nil {
		return fmt.Errorf("failed to add product: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account not found: %s", discordID)
	}
	return nil
}

// Stats はアカウント数とプロダクト数をストアから再計算して返す。
func (r *PostgresAccountRepo) Stats(ctx context.Context) (*model.Statistics, error) {
	stats := &model.Statistics{}
	err := r.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT count(*) FROM accounts),
		   (SELECT count(*) FROM products)`,
	).Scan(&stats.Users, &stats.Products)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}
	return stats, nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
