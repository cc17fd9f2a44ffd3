// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/ayurleaf/internal/session"
)

const sessionCookieName = "session_id"

// SessionOpener はセッションの取得と書き戻しに必要なインターフェース。
// session.Managerが実装する。
type SessionOpener interface {
	Open(ctx context.Context, token string) (*session.Handle, error)
	Save(ctx context.Context, h *session.Handle) error
}

// SessionConfig はセッションCookieの設定。
type SessionConfig struct {
	CookieSecure bool
	CookieDomain string
	MaxAge       int // 秒
}

// NewSessionMiddleware はCookieのトークンからブラウザセッションを取得し、
// リクエストコンテキストにsession.Handleを注入するミドルウェアを返す。
// Cookieがない・無効な場合は未ログイン状態の新しいセッションを発行する。
// ハンドラーがセッションを変更した場合は、レスポンスヘッダーを書き込む直前にバックエンドへ書き戻す。
// 書き戻しに失敗した場合はハンドラーの応答を破棄して500を返す。
func NewSessionMiddleware(opener SessionOpener, config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			if cookie, err := r.Cookie(sessionCookieName); err == nil {
				token = cookie.Value
			}

			h, err := opener.Open(r.Context(), token)
			if err != nil {
				slog.Error("failed to open session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			if h.Token != token || h.NeedsRefresh() {
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookieName,
					Value:    h.Token,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   config.MaxAge,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			setLogSessionID(r.Context(), h.Token)

			sw := &sessionSavingWriter{
				ResponseWriter: w,
				// クライアント切断後も書き戻せるようキャンセルを切り離す
				ctx:    context.WithoutCancel(r.Context()),
				opener: opener,
				handle: h,
			}
			next.ServeHTTP(sw, r.WithContext(session.WithHandle(r.Context(), h)))

			if !sw.committed {
				if !sw.commit() {
					WriteInternalServerError(w)
				}
			}
		})
	}
}

// sessionSavingWriter はレスポンスの最初の書き込み時にセッションを保存するhttp.ResponseWriter。
type sessionSavingWriter struct {
	http.ResponseWriter
	ctx    context.Context
	opener SessionOpener
	handle *session.Handle

	committed bool
	failed    bool
}

// commit は必要であればセッションを保存する。保存に失敗した場合はfalseを返す。
func (sw *sessionSavingWriter) commit() bool {
	sw.committed = true
	if !sw.handle.NeedsSave() {
		return true
	}
	if err := sw.opener.Save(sw.ctx, sw.handle); err != nil {
		slog.Error("failed to save session",
			slog.String("session_id", shortToken(sw.handle.Token)),
			slog.String("error", err.Error()),
		)
		sw.failed = true
		return false
	}
	return true
}

func (sw *sessionSavingWriter) WriteHeader(statusCode int) {
	if sw.committed {
		if !sw.failed {
			sw.ResponseWriter.WriteHeader(statusCode)
		}
		return
	}
	if !sw.commit() {
		WriteInternalServerError(sw.ResponseWriter)
		return
	}
	sw.ResponseWriter.WriteHeader(statusCode)
}

func (sw *sessionSavingWriter) Write(b []byte) (int, error) {
	if !sw.committed {
		sw.WriteHeader(http.StatusOK)
	}
	if sw.failed {
		return len(b), nil
	}
	return sw.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerが元のResponseWriterに到達できるようにする。
func (sw *sessionSavingWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// shortToken はログ出力用にトークンの先頭8文字を返す。
func shortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
