// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// クライアントに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, session, validation, system
	Action   string // クライアント向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUserNotFound   = "USER_NOT_FOUND"
	ErrCodeInvalidSession = "INVALID_SESSION"
	ErrCodeMissingField   = "MISSING_FIELD"
	ErrCodeInternal       = "INTERNAL_ERROR"
	ErrCodeRateLimit      = "RATE_LIMIT_EXCEEDED"
)

// NewUserNotFoundError は未登録ユーザーのログイン拒否エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが登録されていません。",
		Category: "auth",
		Action:   "先にアカウントを登録してからログインしてください。",
	}
}

// NewInvalidSessionError は無効または期限切れセッションのエラーを生成する。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "セッションが無効または期限切れです。",
		Category: "session",
		Action:   "再度ログインしてください。",
	}
}

// NewRateLimitError はレート制限超過のエラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimit,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewMissingFieldError は必須フィールド欠落のエラーを生成する。
func NewMissingFieldError(fields string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("必須フィールドがありません: %s", fields),
		Category: "validation",
		Action:   "リクエストボディに必要なフィールドを含めてください。",
	}
}
