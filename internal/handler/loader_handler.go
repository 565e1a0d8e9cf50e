// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/xrclabs/authd/internal/auth"
	"github.com/xrclabs/authd/internal/model"
	"github.com/xrclabs/authd/internal/session"
)

// sessionTokenHeader はセッショントークンを運ぶHTTPヘッダー名。
// ボディのsessionTokenフィールドが優先される。
const sessionTokenHeader = "X-Session-Token"

// LoaderServiceInterface はローダーハンドラーが必要とするサービスインターフェース。
type LoaderServiceInterface interface {
	// Initialize はローダー初期化要求を処理し、バージョンと統計を返す。
	Initialize(ctx context.Context, version string) (*auth.InitializeResult, error)
	// Login はログイン要求を処理し、アカウント情報とセッショントークンを返す。
	Login(ctx context.Context, discordIDField, hwidField string) (*auth.LoginResult, error)
	// Load はセッションをloaded状態に遷移させる。
	Load(ctx context.Context, token string) error
	// Destruct はセッションをdestructed状態に遷移させる。
	Destruct(ctx context.Context, token string) error
}

// LoaderHandler はローダークライアント向けAPIのHTTPハンドラー。
type LoaderHandler struct {
	service     LoaderServiceInterface
	downloadURL string
}

// NewLoaderHandler はLoaderHandlerを生成する。
func NewLoaderHandler(service LoaderServiceInterface, downloadURL string) *LoaderHandler {
	return &LoaderHandler{
		service:     service,
		downloadURL: downloadURL,
	}
}

// initializeRequest は初期化リクエストのボディ。
type initializeRequest struct {
	Version string `json:"version"`
}

// statisticsResponse は統計情報のAPIレスポンス。
type statisticsResponse struct {
	User     int `json:"user"`
	Products int `json:"products"`
}

// initializeResponse は初期化成功のAPIレスポンス。
type initializeResponse struct {
	Message string `json:"message"`
	Config  struct {
		Version    string             `json:"version"`
		Statistics statisticsResponse `json:"statistics"`
	} `json:"config"`
}

// loginRequest はログインリクエストのボディ。
// 両フィールドは暗号化されている場合と平文の場合がある。
type loginRequest struct {
	DiscordID string `json:"discordID"`
	HWID      string `json:"hwid"`
}

// productResponse はプロダクト情報のAPIレスポンス。
type productResponse struct {
	Name   string `json:"name"`
	Expiry string `json:"expiry"`
}

// loginUserResponse はログイン成功時のユーザー情報。
type loginUserResponse struct {
	Username  string            `json:"username"`
	DiscordID string            `json:"DiscordID"`
	HWID      string            `json:"hwid"`
	Products  []productResponse `json:"products"`
}

// loginResponse はログイン成功のAPIレスポンス。
type loginResponse struct {
	Message      string            `json:"message"`
	User         loginUserResponse `json:"user"`
	SessionToken string            `json:"sessionToken"`
}

// sessionRequest はload/destructリクエストのボディ。
type sessionRequest struct {
	SessionToken string `json:"sessionToken"`
}

// loadResponse はロード成功のAPIレスポンス。
type loadResponse struct {
	Message     string `json:"message"`
	Status      string `json:"status"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// destructResponse はデストラクト成功のAPIレスポンス。
type destructResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Initialize はローダー初期化を処理する。
// POST /api/loader/initialize
func (h *LoaderHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	// ボディなしの初期化要求も受け付ける
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.service.Initialize(r.Context(), req.Version)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := initializeResponse{Message: "Initialized successfully"}
	resp.Config.Version = result.Version
	resp.Config.Statistics = statisticsResponse{
		User:     result.Stats.Users,
		Products: result.Stats.Products,
	}

	writeJSON(w, http.StatusOK, resp)
}

// Login はログインを処理する。
// POST /api/loader/login
func (h *LoaderHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError("discordID, hwid"))
		return
	}

	missing := ""
	if req.DiscordID == "" {
		missing = "discordID"
	}
	if req.HWID == "" {
		if missing != "" {
			missing += ", "
		}
		missing += "hwid"
	}
	if missing != "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError(missing))
		return
	}

	result, err := h.service.Login(r.Context(), req.DiscordID, req.HWID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	products := make([]productResponse, 0, len(result.Account.Products))
	for _, p := range result.Account.Products {
		products = append(products, productResponse{
			Name:   p.Name,
			Expiry: p.Expiry,
		})
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Message: "Login successful",
		User: loginUserResponse{
			Username:  result.Account.Username,
			DiscordID: result.Account.DiscordID,
			HWID:      result.Account.HWID,
			Products:  products,
		},
		SessionToken: result.Token,
	})
}

// Load はローダー本体のロード完了通知を処理する。
// POST /api/loader/load
func (h *LoaderHandler) Load(w http.ResponseWriter, r *http.Request) {
	token := extractSessionToken(r)
	if token == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError("sessionToken"))
		return
	}

	if err := h.service.Load(r.Context(), token); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loadResponse{
		Message:     "Session loaded",
		Status:      string(model.SessionLoaded),
		DownloadURL: h.downloadURL,
	})
}

// Destruct はセッション終了通知を処理する。
// POST /api/loader/destruct
func (h *LoaderHandler) Destruct(w http.ResponseWriter, r *http.Request) {
	token := extractSessionToken(r)
	if token == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingFieldError("sessionToken"))
		return
	}

	if err := h.service.Destruct(r.Context(), token); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, destructResponse{
		Message: "Session destructed",
		Status:  string(model.SessionDestructed),
	})
}

// extractSessionToken はリクエストからセッショントークンを取り出す。
// ボディのsessionTokenフィールドを優先し、なければヘッダーから読む。
func extractSessionToken(r *http.Request) string {
	var req sessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.SessionToken != "" {
		return req.SessionToken
	}
	return r.Header.Get(sessionTokenHeader)
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrInvalidSession) {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSessionError())
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUserNotFound:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidSession:
		return http.StatusUnauthorized
	case model.ErrCodeMissingField:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
