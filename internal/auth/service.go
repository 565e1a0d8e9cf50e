package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xrclabs/authd/internal/model"
	"github.com/xrclabs/authd/internal/repository"
)

// Codec はログインフィールドの復号インターフェース。
// payload.Codecの部分集合として定義する。
type Codec interface {
	// Decode は暗号化フィールドを復号する。復号できない場合は元の値を
	// 平文として返す（decoded=false）。
	Decode(field string) (plain string, decoded bool)
}

// SessionIssuer はセッションライフサイクル操作のインターフェース。
// session.Managerの部分集合として定義する。
type SessionIssuer interface {
	Login(discordID, hwid string) (string, error)
	Load(token string) error
	Destruct(token string) error
}

// LoginMetrics はログイン処理のメトリクス通知インターフェース。
// 未設定（nil）の場合は何も記録しない。
type LoginMetrics interface {
	RecordLoginSuccess()
	RecordLoginFailure(reason string)
	RecordLoginLatency(d time.Duration)
}

// InitializeResult はinitialize操作の結果を表す。
type InitializeResult struct {
	Version string
	Stats   model.Statistics
}

// LoginResult はログイン成功時の結果を表す。
// HWIDは実際にバインドされている値（flagモードでは保存済みの旧値）を持つ。
type LoginResult struct {
	Account *model.Account
	Token   string
}

// Service は識別・セッション検証エンジンの中核ロジックを提供する。
type Service struct {
	codec    Codec
	accounts repository.AccountRepository
	configs  repository.ConfigRepository
	sessions SessionIssuer
	policy   Policy
	metrics  LoginMetrics

	// identMu / identLocks はDiscordID単位でログイン処理を直列化する。
	// レコードのread-modify-writeとトークン発行を1つの論理単位として
	// 扱うための鍵。エントリは参照カウントで管理し、最後の保持者が解放した
	// 時点でマップから削除する。未登録IDによる試行でエントリが残留しない。
	identMu    sync.Mutex
	identLocks map[string]*identLock
}

// identLock は参照カウント付きのDiscordID単位ロック。
type identLock struct {
	mu   sync.Mutex
	refs int
}

// NewService はServiceを生成する。
func NewService(
	codec Codec,
	accounts repository.AccountRepository,
	configs repository.ConfigRepository,
	sessions SessionIssuer,
	policy Policy,
) *Service {
	return &Service{
		codec:      codec,
		accounts:   accounts,
		configs:    configs,
		sessions:   sessions,
		policy:     policy,
		identLocks: make(map[string]*identLock),
	}
}

// SetMetrics はログインメトリクスの通知先を設定する。
func (s *Service) SetMetrics(m LoginMetrics) {
	s.metrics = m
}

// Initialize はローダー初期化要求を処理する。
// バージョンはストア設定を優先し、未設定ならリクエスト値、それも空なら
// "1.0.0"にフォールバックする。統計は常にストアから再計算する。
func (s *Service) Initialize(ctx context.Context, version string) (*InitializeResult, error) {
	resolved, err := s.configs.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve loader version: %w", err)
	}
	if resolved == "" {
		resolved = version
	}
	if resolved == "" {
		resolved = "1.0.0"
	}

	stats, err := s.accounts.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}

	return &InitializeResult{
		Version: resolved,
		Stats:   *stats,
	}, nil
}

// Login はログイン要求を処理する。
//
// 両フィールドは独立にコーデックで復号され、暗号化・平文どちらの
// クライアントからの値も受け付ける。バインディングポリシーの判定が
// Reject以外であればセッションを発行する。HWIDの永続化とトークン発行は
// DiscordID単位のロックで直列化され、同一IDの並行ログインでも
// read-modify-writeが交錯しない。
func (s *Service) Login(ctx context.Context, discordIDField, hwidField string) (*LoginResult, error) {
	start := time.Now()
	result, err := s.login(ctx, discordIDField, hwidField)

	if s.metrics != nil {
		s.metrics.RecordLoginLatency(time.Since(start))
		if err != nil {
			reason := "store_error"
			if apiErr, ok := err.(*model.APIError); ok {
				reason = apiErr.Code
			}
			s.metrics.RecordLoginFailure(reason)
		} else {
			s.metrics.RecordLoginSuccess()
		}
	}

	return result, err
}

func (s *Service) login(ctx context.Context, discordIDField, hwidField string) (*LoginResult, error) {
	discordID, idDecoded := s.codec.Decode(discordIDField)
	hwid, hwidDecoded := s.codec.Decode(hwidField)

	if !idDecoded || !hwidDecoded {
		// 平文クライアント（ブラウザ）からのログイン
		slog.Info("login with plaintext fields",
			slog.String("discord_id", discordID),
		)
	}

	unlock := s.lockIdentity(discordID)
	defer unlock()

	account, err := s.accounts.FindByDiscordID(ctx, discordID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	switch s.policy.Evaluate(account, hwid) {
	case OutcomeReject:
		slog.Warn("login rejected: unknown identity",
			slog.String("discord_id", discordID),
		)
		return nil, model.NewUserNotFoundError()

	case OutcomeBind:
		if err := s.accounts.UpdateHWID(ctx, discordID, hwid); err != nil {
			return nil, fmt.Errorf("failed to bind hwid: %w", err)
		}
		if account.HWID == "" {
			slog.Info("hwid bound on first login",
				slog.String("discord_id", discordID),
			)
		} else {
			slog.Info("hwid rebound",
				slog.String("discord_id", discordID),
			)
		}
		account.HWID = hwid

	case OutcomeAccept:
		// 一致。変更なし。

	case OutcomeFlag:
		// 保存済みHWIDを維持したままログインを許可する。
		slog.Warn("hwid mismatch flagged",
			slog.String("discord_id", discordID),
		)
	}

	token, err := s.sessions.Login(account.DiscordID, account.HWID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	// 有効期限未設定のプロダクトには遠未来の日付を補完する
	for i := range account.Products {
		if account.Products[i].Expiry == "" {
			account.Products[i].Expiry = model.DefaultExpiry
		}
	}

	slog.Info("login succeeded",
		slog.String("discord_id", account.DiscordID),
		slog.Int("products", len(account.Products)),
	)

	return &LoginResult{
		Account: account,
		Token:   token,
	}, nil
}

// Load はセッションをloaded状態に遷移させる。
func (s *Service) Load(ctx context.Context, token string) error {
	return s.sessions.Load(token)
}

// Destruct はセッションをdestructed状態に遷移させる。
func (s *Service) Destruct(ctx context.Context, token string) error {
	return s.sessions.Destruct(token)
}

// lockIdentity はDiscordID単位のロックを取得し、解放関数を返す。
// 解放時に他の保持者がいなければエントリをマップから削除する。
func (s *Service) lockIdentity(discordID string) func() {
	s.identMu.Lock()
	l, ok := s.identLocks[discordID]
	if !ok {
		l = &identLock{}
		s.identLocks[discordID] = l
	}
	l.refs++
	s.identMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.identMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.identLocks, discordID)
		}
		s.identMu.Unlock()
	}
}

// identLockCount は現在保持されているDiscordID単位ロックのエントリ数を返す。
// テスト用。
func (s *Service) identLockCount() int {
	s.identMu.Lock()
	defer s.identMu.Unlock()
	return len(s.identLocks)
}
