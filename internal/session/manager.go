// Package session はクライアントセッションのライフサイクル管理を提供する。
//
// セッションは logged_in → loaded → destructed の順にのみ遷移し、
// destruct後は猶予期間の経過とともに削除される。テーブルはManagerが
// 所有するプロセスローカルなインメモリ状態であり、グローバル変数は
// 持たない。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xrclabs/authd/internal/model"
)

// ErrInvalidSession は未知・期限切れ・破棄済みトークンに対する操作を表す。
var ErrInvalidSession = errors.New("invalid or expired session")

// Metrics はManagerが通知するメトリクスのインターフェース。
// 未設定（nil）の場合は何も記録しない。
type Metrics interface {
	SetActiveSessions(n int)
	RecordSessionsReaped(n int)
}

// ManagerConfig はセッションマネージャの設定。
type ManagerConfig struct {
	DestructGrace time.Duration // destruct後にトークンを破棄するまでの猶予
	MaxAge        time.Duration // ログインからの最大生存時間
	SweepInterval time.Duration // 期限切れセッションの掃除間隔
	Metrics       Metrics
}

// DefaultManagerConfig はデフォルトのセッション設定を返す。
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DestructGrace: 5 * time.Second,
		MaxAge:        24 * time.Hour,
		SweepInterval: time.Second,
	}
}

// Manager はセッショントークンの発行と状態遷移を管理する。
// 全操作は単一のミューテックスで直列化され、トークン単位の
// 挿入・遷移・削除はアトミックに行われる。
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*model.Session

	config ManagerConfig
	now    func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(config ManagerConfig) *Manager {
	if config.DestructGrace <= 0 {
		config.DestructGrace = 5 * time.Second
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Second
	}
	return &Manager{
		sessions: make(map[string]*model.Session),
		config:   config,
		now:      time.Now,
	}
}

// Login は新しいセッションをlogged_in状態で作成し、トークンを返す。
// 同一DiscordIDの既存セッションがあっても常に独立した新規トークンを
// 発行する（単一セッション強制は行わない。これはセキュリティ特性では
// なく意図的な単純化である）。
func (m *Manager) Login(discordID, hwid string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}

	now := m.now()
	sess := &model.Session{
		Token:     token,
		DiscordID: discordID,
		HWID:      hwid,
		Status:    model.SessionLoggedIn,
		LoginTime: now,
	}

	m.mu.Lock()
	m.sessions[token] = sess
	active := len(m.sessions)
	m.mu.Unlock()

	if m.config.Metrics != nil {
		m.config.Metrics.SetActiveSessions(active)
	}

	return token, nil
}

// Load はセッションをloaded状態に遷移させる。
// 既にloadedの場合は冪等に成功する。未知・期限切れ・destruct済みの
// トークンにはErrInvalidSessionを返す（状態遷移は前進のみ）。
func (m *Manager) Load(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.lookup(token)
	if !ok {
		return ErrInvalidSession
	}
	if sess.Status == model.SessionDestructed {
		return ErrInvalidSession
	}

	if sess.Status == model.SessionLoggedIn {
		sess.Status = model.SessionLoaded
		sess.LoadTime = m.now()
	}
	return nil
}

// Destruct はセッションをdestructed状態に遷移させ、猶予期間経過後の
// 削除対象にする。既にdestructedの場合は冪等に成功する。
func (m *Manager) Destruct(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.lookup(token)
	if !ok {
		return ErrInvalidSession
	}

	if sess.Status != model.SessionDestructed {
		sess.Status = model.SessionDestructed
		sess.DestructTime = m.now()
	}
	return nil
}

// Find は指定トークンのセッションのコピーを返す。
// 期限切れのトークンには存在しない扱いでfalseを返す。
func (m *Manager) Find(token string) (model.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.lookup(token)
	if !ok {
		return model.Session{}, false
	}
	return *sess, true
}

// ActiveCount は現在テーブルに存在するセッション数を返す。
// 期限切れだが未掃除のエントリも含む。
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Start は期限切れセッションの掃除ループを起動する。
// ctxのキャンセルで停止する。削除はアクセス時の遅延判定とこのループの
// 両方で行われるため、タイマーの打ち漏らしがあっても正しさには影響しない。
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := m.sweep(); reaped > 0 {
				slog.Info("expired sessions reaped",
					slog.Int("count", reaped),
				)
			}
		}
	}
}

// lookup はトークンを検索し、期限切れの場合はその場で削除してfalseを返す。
// 呼び出し側がm.muを保持していること。
func (m *Manager) lookup(token string) (*model.Session, bool) {
	sess, ok := m.sessions[token]
	if !ok {
		return nil, false
	}
	if m.expired(sess, m.now()) {
		delete(m.sessions, token)
		return nil, false
	}
	return sess, true
}

// expired はセッションが削除対象かどうかを判定する。
func (m *Manager) expired(sess *model.Session, now time.Time) bool {
	if sess.Status == model.SessionDestructed &&
		now.After(sess.DestructTime.Add(m.config.DestructGrace)) {
		return true
	}
	return now.Sub(sess.LoginTime) > m.config.MaxAge
}

// sweep は期限切れセッションを一括削除し、削除数を返す。
func (m *Manager) sweep() int {
	now := m.now()

	m.mu.Lock()
	reaped := 0
	for token, sess := range m.sessions {
		if m.expired(sess, now) {
			delete(m.sessions, token)
			reaped++
		}
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if m.config.Metrics != nil {
		if reaped > 0 {
			m.config.Metrics.RecordSessionsReaped(reaped)
		}
		m.config.Metrics.SetActiveSessions(active)
	}

	return reaped
}

// generateToken は暗号的に安全なセッショントークンを生成する。
// 32バイトの乱数の16進表現であり、プロセス生存期間中の一意性は
// 圧倒的確率で保証される。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
