package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xrclabs/authd/internal/auth"
	"github.com/xrclabs/authd/internal/middleware"
	"github.com/xrclabs/authd/internal/model"
	"github.com/xrclabs/authd/internal/payload"
	"github.com/xrclabs/authd/internal/repository"
	"github.com/xrclabs/authd/internal/session"
)

type stubAccountRepo struct {
	accounts map[string]*model.Account
}

func (r *stubAccountRepo) FindByDiscordID(ctx context.Context, discordID string) (*model.Account, error) {
	acc, ok := r.accounts[discordID]
	if !ok {
		return nil, nil
	}
	copied := *acc
	return &copied, nil
}

func (r *stubAccountRepo) Create(ctx context.Context, account *model.Account) error {
	r.accounts[account.DiscordID] = account
	return nil
}

func (r *stubAccountRepo) UpdateHWID(ctx context.Context, discordID, hwid string) error {
	if acc, ok := r.accounts[discordID]; ok {
		acc.HWID = hwid
	}
	return nil
}

func (r *stubAccountRepo) AddProduct(ctx context.Context, discordID string, product model.Product) error {
	if acc, ok := r.accounts[discordID]; ok {
		acc.Products = append(acc.Products, product)
	}
	return nil
}

func (r *stubAccountRepo) Stats(ctx context.Context) (*model.Statistics, error) {
	products := 0
	for _, acc := range r.accounts {
		products += len(acc.Products)
	}
	return &model.Statistics{Users: len(r.accounts), Products: products}, nil
}

var _ repository.AccountRepository = (*stubAccountRepo)(nil)

type stubConfigRepo struct {
	version string
}

func (r *stubConfigRepo) Version(ctx context.Context) (string, error) {
	return r.version, nil
}

func (r *stubConfigRepo) SaveStatistics(ctx context.Context, stats *model.Statistics) error {
	return nil
}

var _ repository.ConfigRepository = (*stubConfigRepo)(nil)

// newTestRouter は実サービスとインメモリセッションで構成したルーターを返す。
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	codec, err := payload.NewCodec(
		[]byte("0123456789abcdef0123456789abcdef"),
		[]byte("abcdef0123456789"),
	)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	accounts := &stubAccountRepo{
		accounts: map[string]*model.Account{
			"123456789012345678": {
				DiscordID: "123456789012345678",
				Username:  "alice",
				Products:  []model.Product{{Name: "Client", Expiry: "2099-12-31"}},
			},
		},
	}
	configs := &stubConfigRepo{version: "2.1.0"}

	sessions := session.NewManager(session.DefaultManagerConfig())
	service := auth.NewService(codec, accounts, configs, sessions, auth.Policy{Mode: auth.ModeRebind})

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:  100,
		GeneralBurst: 100,
		LoginRate:    100,
		LoginBurst:   100,
	})
	t.Cleanup(limiter.Stop)

	router := NewRouter(&RouterDeps{
		RateLimiter:   limiter,
		LoaderService: service,
		DownloadURL:   "https://cdn.example.com/client.bin",
	})
	return router
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.1:51000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestRouter_LoaderLifecycle はinitializeからdestructまでの一連の流れを検証する。
func TestRouter_LoaderLifecycle(t *testing.T) {
	router := newTestRouter(t)

	// initialize
	w := postJSON(t, router, "/api/loader/initialize", `{"version":"1.5.0"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("initialize status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var initBody struct {
		Config struct {
			Version string `json:"version"`
		} `json:"config"`
	}
	if err := json.NewDecoder(w.Body).Decode(&initBody); err != nil {
		t.Fatalf("failed to decode initialize response: %v", err)
	}
	if initBody.Config.Version != "2.1.0" {
		t.Errorf("version = %q, want store-configured value", initBody.Config.Version)
	}

	// login（平文フィールド）
	w = postJSON(t, router, "/api/loader/login",
		`{"discordID":"123456789012345678","hwid":"HWID-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var loginBody struct {
		SessionToken string `json:"sessionToken"`
	}
	if err := json.NewDecoder(w.Body).Decode(&loginBody); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if loginBody.SessionToken == "" {
		t.Fatal("sessionToken should not be empty")
	}

	// load
	w = postJSON(t, router, "/api/loader/load",
		`{"sessionToken":"`+loginBody.SessionToken+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("load status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var loadBody loadResponse
	if err := json.NewDecoder(w.Body).Decode(&loadBody); err != nil {
		t.Fatalf("failed to decode load response: %v", err)
	}
	if loadBody.Status != "loaded" {
		t.Errorf("load status = %q, want %q", loadBody.Status, "loaded")
	}
	if loadBody.DownloadURL == "" {
		t.Error("downloadUrl should be present when configured")
	}

	// destruct
	w = postJSON(t, router, "/api/loader/destruct",
		`{"sessionToken":"`+loginBody.SessionToken+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("destruct status = %d, want 200: %s", w.Code, w.Body.String())
	}

	// destruct後のloadは401
	w = postJSON(t, router, "/api/loader/load",
		`{"sessionToken":"`+loginBody.SessionToken+`"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("load after destruct status = %d, want 401", w.Code)
	}
}

// TestRouter_LoginWithEncryptedFields は暗号化フィールドでのログインを検証する。
func TestRouter_LoginWithEncryptedFields(t *testing.T) {
	router := newTestRouter(t)

	codec, err := payload.NewCodec(
		[]byte("0123456789abcdef0123456789abcdef"),
		[]byte("abcdef0123456789"),
	)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	encID, err := codec.Encode("123456789012345678")
	if err != nil {
		t.Fatalf("failed to encode DiscordID: %v", err)
	}
	encHWID, err := codec.Encode("HWID-ENC")
	if err != nil {
		t.Fatalf("failed to encode hwid: %v", err)
	}

	reqBody, _ := json.Marshal(map[string]string{
		"discordID": encID,
		"hwid":      encHWID,
	})

	w := postJSON(t, router, "/api/loader/login", string(reqBody))
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var loginBody struct {
		User struct {
			DiscordID string `json:"DiscordID"`
			HWID      string `json:"hwid"`
		} `json:"user"`
	}
	if err := json.NewDecoder(w.Body).Decode(&loginBody); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if loginBody.User.DiscordID != "123456789012345678" {
		t.Errorf("DiscordID = %q, want decoded plaintext", loginBody.User.DiscordID)
	}
	if loginBody.User.HWID != "HWID-ENC" {
		t.Errorf("hwid = %q, want decoded plaintext", loginBody.User.HWID)
	}
}

// TestRouter_LoginUnknownUser_Returns401 は未登録ユーザーのログイン拒否を検証する。
func TestRouter_LoginUnknownUser_Returns401(t *testing.T) {
	router := newTestRouter(t)

	w := postJSON(t, router, "/api/loader/login",
		`{"discordID":"999999999999999999","hwid":"HWID-1"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401: %s", w.Code, w.Body.String())
	}

	var errBody apiErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errBody); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if errBody.Code != model.ErrCodeUserNotFound {
		t.Errorf("code = %q, want %q", errBody.Code, model.ErrCodeUserNotFound)
	}
}

// TestRouter_InfoAndHealth はルート・API情報・ヘルスチェックの疎通を検証する。
func TestRouter_InfoAndHealth(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/", "/api", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, w.Code)
		}
	}
}

// TestRouter_HealthSucceedsWhenStoreDown はヘルスチェックがストアの状態に
// 依存しないことを検証する。ストア障害中でも常に200を返す。
func TestRouter_HealthSucceedsWhenStoreDown(t *testing.T) {
	storeDown := errors.New("connection refused")
	svc := &mockLoaderService{
		initializeFn: func(ctx context.Context, version string) (*auth.InitializeResult, error) {
			return nil, storeDown
		},
		loginFn: func(ctx context.Context, discordIDField, hwidField string) (*auth.LoginResult, error) {
			return nil, storeDown
		},
		loadFn:     func(ctx context.Context, token string) error { return storeDown },
		destructFn: func(ctx context.Context, token string) error { return storeDown },
	}

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(limiter.Stop)

	router := NewRouter(&RouterDeps{
		RateLimiter:   limiter,
		LoaderService: svc,
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", w.Code)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

// TestRouter_MetricsRouteOnlyWithGatherer は/metricsがGatherer設定時のみ公開されることを検証する。
func TestRouter_MetricsRouteOnlyWithGatherer(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET /metrics without gatherer status = %d, want 404", w.Code)
	}
}

// TestRouter_LoginRateLimitApplies はログイン専用レート制限の適用を検証する。
func TestRouter_LoginRateLimitApplies(t *testing.T) {
	codec, err := payload.NewCodec(
		[]byte("0123456789abcdef0123456789abcdef"),
		[]byte("abcdef0123456789"),
	)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	accounts := &stubAccountRepo{accounts: map[string]*model.Account{}}
	sessions := session.NewManager(session.DefaultManagerConfig())
	service := auth.NewService(codec, accounts, &stubConfigRepo{}, sessions, auth.Policy{Mode: auth.ModeRebind})

	// ログインのみバースト2に制限する
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:  100,
		GeneralBurst: 100,
		LoginRate:    1,
		LoginBurst:   2,
	})
	t.Cleanup(limiter.Stop)

	router := NewRouter(&RouterDeps{
		RateLimiter:   limiter,
		LoaderService: service,
	})

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := postJSON(t, router, "/api/loader/login",
			`{"discordID":"123","hwid":"HWID-1"}`)
		statuses = append(statuses, w.Code)
	}

	if statuses[0] != http.StatusUnauthorized || statuses[1] != http.StatusUnauthorized {
		t.Errorf("first two logins = %v, want 401 (unknown user)", statuses[:2])
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Errorf("third login = %d, want 429", statuses[2])
	}
}

// TestRouter_SecurityHeadersApplied はミドルウェアチェーンの適用を検証する。
func TestRouter_SecurityHeadersApplied(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
}
