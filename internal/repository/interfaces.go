// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/xrclabs/authd/internal/model"
)

// AccountRepository はアカウントレコードの永続化インターフェース。
// コアのログイン処理が必要とするのは検索とHWID更新のみで、レコードの
// 作成・プロダクト追加は管理経路（adduser）からのみ呼ばれる。
type AccountRepository interface {
	// FindByDiscordID は指定DiscordIDのアカウントをプロダクト込みで取得する。
	// 見つからない場合はnilを返す。
	FindByDiscordID(ctx context.Context, discordID string) (*model.Account, error)

	// Create はアカウントとそのプロダクトを同一トランザクションで作成する。
	Create(ctx context.Context, account *model.Account) error

	// UpdateHWID は指定DiscordIDのアカウントのHWIDを更新する。
	UpdateHWID(ctx context.Context, discordID, hwid string) error

	// AddProduct は既存アカウントにプロダクトを追加する。
	AddProduct(ctx context.Context, discordID string, product model.Product) error

	// Stats はアカウント数とプロダクト数をストアから再計算して返す。
	// キャッシュ済みのスナップショットは参照しない。
	Stats(ctx context.Context) (*model.Statistics, error)
}

// ConfigRepository はストア側の設定レコード（バージョンと統計スナップ
// ショット）の永続化インターフェース。スナップショットは外部ツール向けの
// 使い捨てキャッシュであり、コアが読み戻すことはない。
type ConfigRepository interface {
	// Version はストアに設定されたローダーバージョンを返す。
	// 未設定の場合は空文字列を返す。
	Version(ctx context.Context) (string, error)

	// SaveStatistics は統計スナップショットを保存する。
	SaveStatistics(ctx context.Context, stats *model.Statistics) error
}
