package session

import "context"

// handleContextKey はリクエストコンテキストにHandleを格納するためのキー。
type handleContextKey struct{}

// WithHandle はコンテキストにHandleを注入する。
func WithHandle(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, handleContextKey{}, h)
}

// HandleFromContext はコンテキストからHandleを取得する。
// セッションミドルウェアを通過していないリクエストではfalseを返す。
func HandleFromContext(ctx context.Context) (*Handle, bool) {
	h, ok := ctx.Value(handleContextKey{}).(*Handle)
	if !ok || h == nil {
		return nil, false
	}
	return h, true
}
