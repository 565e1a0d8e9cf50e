package model

import "time"

// SessionStatus はセッションの状態を表す。
type SessionStatus string

const (
	// SessionLoggedIn はログイン直後、まだクライアントがロードしていない状態。
	SessionLoggedIn SessionStatus = "logged_in"
	// SessionLoaded はクライアントがロード済みの状態。
	SessionLoaded SessionStatus = "loaded"
	// SessionDestructed はクライアントがアンロードし、猶予期間経過後に
	// 削除される予定の状態。
	SessionDestructed SessionStatus = "destructed"
)

// Session はログインからアンロードまでのクライアントセッションを表す。
// プロセスローカルなインメモリ状態であり、プロセス再起動で全セッションは
// 無効になる（永続性は提供しない）。
type Session struct {
	Token        string
	DiscordID    string
	HWID         string
	Status       SessionStatus
	LoginTime    time.Time
	LoadTime     time.Time // Loadedに遷移するまではゼロ値
	DestructTime time.Time // Destructedに遷移するまではゼロ値
}
