// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/ayurleaf/internal/middleware"
	"github.com/hitoshi/ayurleaf/internal/model"
	"github.com/hitoshi/ayurleaf/internal/session"
)

// sessionResponse はセッション状態のAPIレスポンス。コードは含めない。
type sessionResponse struct {
	State         string `json:"state"`
	Authenticated bool   `json:"authenticated"`
	Identity      string `json:"identity,omitempty"`
	PendingEmail  string `json:"pending_email,omitempty"`
	Message       string `json:"message,omitempty"`
}

func toSessionResponse(snap session.Snapshot, message string) sessionResponse {
	return sessionResponse{
		State:         string(snap.State),
		Authenticated: snap.Authenticated,
		Identity:      snap.Identity,
		PendingEmail:  snap.PendingEmail,
		Message:       message,
	}
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// requireSession はリクエストに紐付いたセッションを返す。
// セッションミドルウェアを通過していない場合は500を書き込みfalseを返す。
func requireSession(w http.ResponseWriter, r *http.Request) (*session.Handle, bool) {
	h, ok := session.HandleFromContext(r.Context())
	if !ok {
		slog.Error("session handle missing from request context",
			slog.String("path", r.URL.Path),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewSessionMissingError())
		return nil, false
	}
	return h, true
}

// requireAuthenticator はリクエストのセッションを認証操作のインターフェースとして取り出す。
func requireAuthenticator(w http.ResponseWriter, r *http.Request) (session.Authenticator, bool) {
	h, ok := requireSession(w, r)
	if !ok {
		return nil, false
	}
	return h.Store, true
}

// decodeJSON はリクエストボディをJSONとしてデコードする。失敗時は400を書き込む。
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// maxJSONBodyBytes はJSONリクエストボディの上限。
const maxJSONBodyBytes = 64 << 10
