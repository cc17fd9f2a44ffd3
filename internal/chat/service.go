package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/ayurleaf/internal/security"
)

var (
	// ErrMissingAPIKey はAPIキーが未設定の場合のエラー。
	ErrMissingAPIKey = errors.New("Gemini API key is not configured. Please check your environment variables.")
	// ErrEmptyResponse は生成結果が空だった場合のエラー。
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrEmptyQuestion は質問が空白のみの場合のエラー。
	ErrEmptyQuestion = errors.New("question is empty")
)

// ユーザーに表示する定型メッセージ。
const (
	WelcomeMessage     = "Hello! I'm your AI assistant for medicinal plants. How can I help you today?"
	RateLimitedMessage = "You've reached the API rate limit. Please wait a moment before trying again."
	InvalidKeyMessage  = "Error: The API key is invalid or not properly configured. Please check your environment variables."
	DeniedMessage      = "Error: Access to the Gemini API was denied. Please verify your API key and permissions."
	FallbackMessage    = "I apologize, but I'm having trouble processing your request at the moment. Please try again later."
)

// Role はメッセージの送信者。
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Message はチャットの1メッセージ。
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Generator はテキスト生成APIの抽象。Clientが実装する。
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// Service は質問をプロンプトに包んで生成APIに送り、結果をボットのメッセージとして返す。
// 生成APIのエラーはHTTPエラーにせず、ユーザー向けの文言をボットの発言として返す。
type Service struct {
	generator Generator
	sanitizer security.MarkdownSanitizerService
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(generator Generator, sanitizer security.MarkdownSanitizerService, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		generator: generator,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// Welcome はチャット開始時のボットの挨拶を返す。
func (s *Service) Welcome() Message {
	return s.botMessage(WelcomeMessage)
}

// BuildPrompt は質問を薬用植物の専門家向けプロンプトに埋め込む。
func BuildPrompt(question string) string {
	return "You are an expert in medicinal plants and traditional medicine. " +
		"Please provide accurate and helpful information about: " + question +
		". Format your response using markdown with proper headings, lists, and emphasis where appropriate."
}

// Ask は質問に対するボットの回答を返す。
// 戻り値のerrorは生成APIが失敗したかどうかを示し、その場合もMessageには表示用の文言が入る。
// 質問が空白のみの場合はErrEmptyQuestionを返し、Messageはゼロ値になる。
func (s *Service) Ask(ctx context.Context, question string) (Message, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Message{}, ErrEmptyQuestion
	}

	text, err := s.generator.GenerateContent(ctx, BuildPrompt(question))
	if err != nil {
		s.logger.Warn("chat generation failed",
			slog.String("error", err.Error()),
		)
		return s.botMessage(UserMessageFor(err)), err
	}

	return s.botMessage(s.sanitizer.Sanitize(text)), nil
}

// UserMessageFor は生成APIのエラーをユーザー向けの文言に変換する。
func UserMessageFor(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return RateLimitedMessage
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "quota"):
		return RateLimitedMessage
	case strings.Contains(msg, "API key"):
		return InvalidKeyMessage
	case strings.Contains(msg, "PERMISSION_DENIED"):
		return DeniedMessage
	case msg == "":
		return FallbackMessage
	default:
		return fmt.Sprintf("Error: %s. Please try again later.", msg)
	}
}

func (s *Service) botMessage(content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleBot,
		Content:   content,
		CreatedAt: s.now(),
	}
}
