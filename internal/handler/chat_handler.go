package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/ayurleaf/internal/chat"
	"github.com/hitoshi/ayurleaf/internal/metrics"
	"github.com/hitoshi/ayurleaf/internal/middleware"
	"github.com/hitoshi/ayurleaf/internal/model"
)

// ChatServiceInterface はチャットハンドラーが必要とするサービスインターフェース。
type ChatServiceInterface interface {
	Ask(ctx context.Context, question string) (chat.Message, error)
	Welcome() chat.Message
}

var _ ChatServiceInterface = (*chat.Service)(nil)

// ChatHandler はチャットのHTTPハンドラー。
type ChatHandler struct {
	service ChatServiceInterface
	metrics metrics.MetricsCollector
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(service ChatServiceInterface, collector metrics.MetricsCollector) *ChatHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &ChatHandler{service: service, metrics: collector}
}

// chatRequest はチャット送信リクエストのボディ。
type chatRequest struct {
	Message string `json:"message"`
}

// Welcome はチャット開始時の挨拶を返す。
// GET /api/chat
func (h *ChatHandler) Welcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Welcome())
}

// Send は質問を送信しボットの回答を返す。
// 生成APIのエラーもボットの発言として200で返す。
// POST /api/chat
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	start := time.Now()
	msg, err := h.service.Ask(r.Context(), req.Message)
	if errors.Is(err, chat.ErrEmptyQuestion) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMessageRequiredError())
		return
	}

	outcome := metrics.OutcomeAnswered
	if err != nil {
		outcome = metrics.OutcomeError
	}
	h.metrics.RecordChat(outcome, time.Since(start))

	writeJSON(w, http.StatusOK, msg)
}
