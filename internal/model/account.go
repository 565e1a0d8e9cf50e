// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultExpiry は有効期限が未設定のプロダクトに割り当てる遠未来の日付。
const DefaultExpiry = "2099-12-31"

// Account はローダー利用者のアカウントレコードを表す。
// DiscordIDを主キーとして一意に識別され、adduserコマンド等の外部の
// 管理経路でのみ作成される。ログイン処理がレコードを作成することはない。
type Account struct {
	ID        string
	DiscordID string
	Username  string
	HWID      string // 空文字列は未バインド（初回ログイン前）を表す
	Products  []Product
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Product はアカウントに付与されたエンタイトルメントを表す。
// 同一アカウント内での名前の重複は許容されるデータ品質上の問題であり、
// エラーとしては扱わない。
type Product struct {
	ID     string
	Name   string
	Expiry string // "YYYY-MM-DD"形式。空の場合はDefaultExpiryで補完される
}

// Statistics はストア全体の集計値を表す。
// 常にストアから再計算される派生値であり、保存済みのキャッシュを
// 真実として扱ってはならない。
type Statistics struct {
	Users    int
	Products int
}
