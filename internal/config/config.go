package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// HWIDポリシーのモード。
const (
	// HWIDPolicyRebind はHWID不一致時に新しいHWIDで上書きする（再インストール
	// やマシン移行を想定）。デフォルトのモード。
	HWIDPolicyRebind = "rebind"
	// HWIDPolicyFlag はHWID不一致を記録するのみで、保存済みHWIDを維持した
	// ままログインを許可する。
	HWIDPolicyFlag = "flag"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Payload codec
	// AES鍵とIVはクライアントと共有される外部プロビジョニング値。
	// ソースコードへの埋め込みは行わない。
	AESKey string // 32バイト（AES-256）
	AESIV  string // 16バイト（CBCブロックサイズ）

	// HWID binding
	HWIDPolicy string // "rebind" または "flag"

	// Session
	SessionDestructGrace time.Duration // destruct後にトークンを破棄するまでの猶予
	SessionMaxAge        time.Duration // ログインからの最大生存時間
	SessionSweepInterval time.Duration // 期限切れセッションの掃除間隔

	// Loader
	DownloadURL string // 空の場合、loadレスポンスからフィールドごと省略される

	// Rate Limit（req/min/IP）
	RateLimitGeneral int
	RateLimitLogin   int

	// Stats
	StatsSyncInterval time.Duration

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、およびAES鍵・IVの長さが不正な場合は
// エラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.AESKey = os.Getenv("AES_KEY")
	if cfg.AESKey == "" {
		missing = append(missing, "AES_KEY")
	}

	cfg.AESIV = os.Getenv("AES_IV")
	if cfg.AESIV == "" {
		missing = append(missing, "AES_IV")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.AESKey) != 32 {
		return nil, fmt.Errorf("AES_KEY must be 32 bytes, got %d", len(cfg.AESKey))
	}
	if len(cfg.AESIV) != 16 {
		return nil, fmt.Errorf("AES_IV must be 16 bytes, got %d", len(cfg.AESIV))
	}

	// Optional fields with defaults
	cfg.HWIDPolicy = getEnvString("HWID_POLICY", HWIDPolicyRebind)
	if cfg.HWIDPolicy != HWIDPolicyRebind && cfg.HWIDPolicy != HWIDPolicyFlag {
		return nil, fmt.Errorf("HWID_POLICY must be %q or %q, got %q", HWIDPolicyRebind, HWIDPolicyFlag, cfg.HWIDPolicy)
	}

	cfg.SessionDestructGrace = getEnvDuration("SESSION_DESTRUCT_GRACE", 5*time.Second)
	cfg.SessionMaxAge = getEnvDuration("SESSION_MAX_AGE", 24*time.Hour)
	cfg.SessionSweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", time.Second)
	cfg.DownloadURL = getEnvString("DOWNLOAD_URL", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.StatsSyncInterval = getEnvDuration("STATS_SYNC_INTERVAL", 10*time.Minute)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
