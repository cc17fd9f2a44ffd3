// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, plant, chat, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInvalidLogin     = "INVALID_LOGIN"
	ErrCodeInvalidOTP       = "INVALID_OTP"
	ErrCodeOTPRequired      = "OTP_REQUIRED"
	ErrCodeNoPendingLogin   = "NO_PENDING_LOGIN"
	ErrCodeSessionMissing   = "SESSION_MISSING"
	ErrCodeImageRequired    = "IMAGE_REQUIRED"
	ErrCodeNotAnImage       = "NOT_AN_IMAGE"
	ErrCodeUploadTooLarge   = "UPLOAD_TOO_LARGE"
	ErrCodeMessageRequired  = "MESSAGE_REQUIRED"
	ErrCodeChatCooldown     = "CHAT_COOLDOWN"
	ErrCodeAnalysisCanceled = "ANALYSIS_CANCELED"
	ErrCodeCSRFFailed       = "CSRF_FAILED"
)

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidLoginError はログインフォームの入力エラーを生成する。
// reasonにはUIにそのまま表示できる文言を渡す。
func NewInvalidLoginError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLogin,
		Message:  reason,
		Category: "validation",
		Action:   "ユーザー名とメールアドレスを確認してください。",
	}
}

// NewOTPRequiredError はOTP未入力エラーを生成する。
func NewOTPRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPRequired,
		Message:  "Please enter the OTP",
		Category: "validation",
		Action:   "メールで届いた6桁のコードを入力してください。",
	}
}

// NewInvalidOTPError はOTP不一致エラーを生成する。
func NewInvalidOTPError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOTP,
		Message:  "Invalid OTP",
		Category: "auth",
		Action:   "コードを確認して再入力するか、コードを再送信してください。",
	}
}

// NewNoPendingLoginError は検証待ちのログインが存在しない場合のエラーを生成する。
func NewNoPendingLoginError() *APIError {
	return &APIError{
		Code:     ErrCodeNoPendingLogin,
		Message:  "検証待ちのログインがありません。",
		Category: "auth",
		Action:   "ユーザー名とメールアドレスを入力してログインをやり直してください。",
	}
}

// NewSessionMissingError はリクエストにセッションが紐付いていない場合のエラーを生成する。
func NewSessionMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionMissing,
		Message:  "セッションが見つかりません。",
		Category: "auth",
		Action:   "ページを再読み込みしてください。",
	}
}

// NewImageRequiredError は画像ファイル未指定エラーを生成する。
func NewImageRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeImageRequired,
		Message:  "画像ファイルが指定されていません。",
		Category: "validation",
		Action:   "image フィールドに植物の画像を添付してください。",
	}
}

// NewNotAnImageError はアップロードされたファイルが画像として読めない場合のエラーを生成する。
func NewNotAnImageError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAnImage,
		Message:  "アップロードされたファイルは画像として認識できません。",
		Category: "plant",
		Action:   "JPEG、PNG、GIF形式の画像をアップロードしてください。",
	}
}

// NewUploadTooLargeError はアップロードサイズ超過エラーを生成する。
func NewUploadTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeUploadTooLarge,
		Message:  fmt.Sprintf("画像サイズが上限（%dバイト）を超えています。", maxBytes),
		Category: "plant",
		Action:   "画像を縮小してから再度アップロードしてください。",
	}
}

// NewAnalysisCanceledError は解析中にリクエストが中断された場合のエラーを生成する。
func NewAnalysisCanceledError() *APIError {
	return &APIError{
		Code:     ErrCodeAnalysisCanceled,
		Message:  "画像の解析が中断されました。",
		Category: "plant",
		Action:   "もう一度アップロードしてください。",
	}
}

// NewMessageRequiredError はチャットメッセージ未入力エラーを生成する。
func NewMessageRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeMessageRequired,
		Message:  "メッセージが空です。",
		Category: "validation",
		Action:   "薬用植物についての質問を入力してください。",
	}
}

// NewChatCooldownError はチャットの連続送信エラーを生成する。
func NewChatCooldownError() *APIError {
	return &APIError{
		Code:     ErrCodeChatCooldown,
		Message:  "Please wait a moment before sending another message.",
		Category: "chat",
		Action:   "数秒待ってから次のメッセージを送信してください。",
	}
}

// NewCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRF token validation failed",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}
