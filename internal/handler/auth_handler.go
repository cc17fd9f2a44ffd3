package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/hitoshi/ayurleaf/internal/metrics"
	"github.com/hitoshi/ayurleaf/internal/middleware"
	"github.com/hitoshi/ayurleaf/internal/model"
	"github.com/hitoshi/ayurleaf/internal/otp"
	"github.com/hitoshi/ayurleaf/internal/session"
)

// ログインフォームに表示する検証メッセージ。
const (
	msgFillAllFields = "Please fill in all fields"
	msgInvalidEmail  = "Please enter a valid email address"
	msgNameTooLong   = "Please enter a shorter name"
	msgOTPSent       = "OTP has been sent to your email"
	msgOTPResent     = "New OTP has been sent to your email"
)

// 入力の上限はsessionsテーブルの列幅に合わせる。
const (
	maxEmailLength    = 320 // pending_email
	maxEmailLocalPart = 64  // identityはローカル部から導出される
	maxNameLength     = 255 // pending_name
)

// AuthHandler はワンタイムコードによるログインのHTTPハンドラー。
// リクエストに紐付いたsession.Authenticatorだけを操作する。
type AuthHandler struct {
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(collector metrics.MetricsCollector) *AuthHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &AuthHandler{metrics: collector}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Validate はログインフォームの入力を検証する。
// 戻り値のエラーメッセージはそのままUIに表示できる。
func (r loginRequest) Validate() error {
	if err := validation.Validate(r.Username, validation.Required); err != nil {
		return errors.New(msgFillAllFields)
	}
	if err := validation.Validate(r.Email, validation.Required); err != nil {
		return errors.New(msgFillAllFields)
	}
	if err := validation.Validate(r.Username, validation.RuneLength(0, maxNameLength)); err != nil {
		return errors.New(msgNameTooLong)
	}
	if err := validation.Validate(r.Email, validation.RuneLength(0, maxEmailLength)); err != nil {
		return errors.New(msgInvalidEmail)
	}
	return validation.Validate(r.Email, validation.By(validEmailShape))
}

// validEmailShape は@を含み、ローカル部が上限以内であることを確認する。
func validEmailShape(value interface{}) error {
	s, _ := value.(string)
	local, _, found := strings.Cut(s, "@")
	if !found || utf8.RuneCountInString(local) > maxEmailLocalPart {
		return errors.New(msgInvalidEmail)
	}
	return nil
}

// verifyRequest はコード検証リクエストのボディ。
type verifyRequest struct {
	Code string `json:"code"`
}

// Login はワンタイムコードを発行して検証待ち状態に遷移する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireAuthenticator(w, r)
	if !ok {
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidLoginError(err.Error()))
		return
	}

	auth.BeginLogin(req.Username, req.Email)
	h.metrics.RecordOTPIssued(metrics.ReasonLogin)

	writeJSON(w, http.StatusAccepted, toSessionResponse(auth.Snapshot(), msgOTPSent))
}

// Verify は入力されたコードを検証する。
// POST /auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireAuthenticator(w, r)
	if !ok {
		return
	}

	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewOTPRequiredError())
		return
	}

	// 6桁の数字でないコードは一致し得ないため、Storeに触れずに失敗とする
	if otp.IsWellFormed(req.Code) && auth.VerifyCode(req.Code) {
		h.metrics.RecordOTPVerify(metrics.ResultSuccess)
		snap := auth.Snapshot()
		slog.Info("login verified",
			slog.String("identity", snap.Identity),
		)
		writeJSON(w, http.StatusOK, toSessionResponse(snap, ""))
		return
	}

	h.metrics.RecordOTPVerify(metrics.ResultFailure)
	if auth.Snapshot().State != session.StatePendingVerification {
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewNoPendingLoginError())
		return
	}
	middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidOTPError())
}

// Resend は検証待ちのメールアドレスに新しいコードを発行する。
// POST /auth/resend
func (h *AuthHandler) Resend(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireAuthenticator(w, r)
	if !ok {
		return
	}

	if !auth.ReissueCode() {
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewNoPendingLoginError())
		return
	}
	h.metrics.RecordOTPIssued(metrics.ReasonResend)

	writeJSON(w, http.StatusOK, toSessionResponse(auth.Snapshot(), msgOTPResent))
}

// Logout はセッションを未ログイン状態に戻す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireAuthenticator(w, r)
	if !ok {
		return
	}

	auth.Logout()
	h.metrics.RecordLogout()

	writeJSON(w, http.StatusOK, toSessionResponse(auth.Snapshot(), ""))
}

// Me は現在のセッション状態を返す。ナビゲーションバーの表示に使う。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireAuthenticator(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(auth.Snapshot(), ""))
}
