// Package auth はHWIDバインディングポリシーとログイン処理を提供する。
package auth

import "github.com/xrclabs/authd/internal/model"

// Outcome はHWIDバインディングポリシーの判定結果を表す。
type Outcome int

const (
	// OutcomeReject は未登録ユーザーの拒否。唯一のエラー応答となる判定。
	OutcomeReject Outcome = iota
	// OutcomeBind はHWIDを保存（初回バインドまたは上書き）してログインを許可。
	OutcomeBind
	// OutcomeAccept は保存済みHWIDと一致。変更なしでログインを許可。
	OutcomeAccept
	// OutcomeFlag は不一致を記録するのみで保存済みHWIDを維持したまま
	// ログインを許可。
	OutcomeFlag
)

// PolicyMode はHWID不一致時の扱いを表す。
type PolicyMode string

const (
	// ModeRebind は不一致時に新しいHWIDで上書きする。
	// 再インストールやマシン移行を「HWIDが変わっただけ」とみなす。
	ModeRebind PolicyMode = "rebind"
	// ModeFlag は不一致時に保存済みHWIDを維持し、不一致をログに残す。
	// どちらのモードでもログイン自体は拒否しない。強制遮断を期待しては
	// ならない弱いセキュリティ特性である。
	ModeFlag PolicyMode = "flag"
)

// Policy はHWIDバインディングの判定を行う。
type Policy struct {
	Mode PolicyMode
}

// Evaluate はアカウントレコードと申告されたHWIDからバインディング判定を返す。
// 判定はルール順に評価される:
//  1. レコードなし → Reject
//  2. 保存済みHWIDが空 → Bind（初回ログイン）
//  3. 一致 → Accept
//  4. 不一致 → モード依存（rebind: Bind / flag: Flag）
//
// Evaluate自体はストアを変更しない。永続化はBind判定を受けた呼び出し側の
// 責務である。
func (p Policy) Evaluate(account *model.Account, hwid string) Outcome {
	if account == nil {
		return OutcomeReject
	}
	if account.HWID == "" {
		return OutcomeBind
	}
	if account.HWID == hwid {
		return OutcomeAccept
	}
	if p.Mode == ModeFlag {
		return OutcomeFlag
	}
	return OutcomeBind
}
