package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hitoshi/ayurleaf/internal/security"
)

// mockGenerator はGeneratorのモック。
type mockGenerator struct {
	generateFn func(ctx context.Context, prompt string) (string, error)
	prompts    []string
}

func (m *mockGenerator) GenerateContent(ctx context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.generateFn != nil {
		return m.generateFn(ctx, prompt)
	}
	return "", nil
}

var _ Generator = (*mockGenerator)(nil)
var _ Generator = (*Client)(nil)

func newTestService(gen Generator) *Service {
	return NewService(gen, security.NewMarkdownSanitizer(), slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestService_Ask_WrapsQuestionInPrompt(t *testing.T) {
	gen := &mockGenerator{generateFn: func(ctx context.Context, prompt string) (string, error) {
		return "**Tulsi** helps with stress.", nil
	}}
	svc := newTestService(gen)

	msg, err := svc.Ask(context.Background(), "  tulsi benefits  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "You are an expert in medicinal plants and traditional medicine. Please provide accurate and helpful information about: tulsi benefits. Format your response using markdown with proper headings, lists, and emphasis where appropriate."
	if len(gen.prompts) != 1 || gen.prompts[0] != want {
		t.Errorf("prompt = %q, want %q", gen.prompts, want)
	}
	if msg.Role != RoleBot {
		t.Errorf("Role = %q, want bot", msg.Role)
	}
	if msg.Content != "**Tulsi** helps with stress." {
		t.Errorf("Content = %q", msg.Content)
	}
	if msg.ID == "" || msg.CreatedAt.IsZero() {
		t.Error("ID and CreatedAt should be set")
	}
}

func TestService_Ask_SanitizesHTML(t *testing.T) {
	gen := &mockGenerator{generateFn: func(ctx context.Context, prompt string) (string, error) {
		return "# Neem\n<script>alert(1)</script>Use > 2 leaves", nil
	}}
	svc := newTestService(gen)

	msg, err := svc.Ask(context.Background(), "neem")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(msg.Content, "<script>") {
		t.Errorf("content should not contain raw script tag: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "# Neem") || !strings.Contains(msg.Content, "Use > 2 leaves") {
		t.Errorf("markdown should be preserved: %q", msg.Content)
	}
}

func TestService_Ask_EmptyQuestion(t *testing.T) {
	gen := &mockGenerator{}
	svc := newTestService(gen)

	_, err := svc.Ask(context.Background(), "   ")
	if !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("err = %v, want ErrEmptyQuestion", err)
	}
	if len(gen.prompts) != 0 {
		t.Error("generator should not be called for an empty question")
	}
}

func TestService_Ask_ErrorBecomesBotMessage(t *testing.T) {
	gen := &mockGenerator{generateFn: func(ctx context.Context, prompt string) (string, error) {
		return "", &APIError{StatusCode: 429, Status: "RESOURCE_EXHAUSTED"}
	}}
	svc := newTestService(gen)

	msg, err := svc.Ask(context.Background(), "aloe")
	if err == nil {
		t.Fatal("expected generation error to be reported")
	}
	if msg.Content != RateLimitedMessage {
		t.Errorf("Content = %q, want %q", msg.Content, RateLimitedMessage)
	}
	if msg.Role != RoleBot {
		t.Errorf("Role = %q, want bot", msg.Role)
	}
}

func TestUserMessageFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"HTTP 429", &APIError{StatusCode: 429}, RateLimitedMessage},
		{"RESOURCE_EXHAUSTED", &APIError{StatusCode: 400, Status: "RESOURCE_EXHAUSTED"}, RateLimitedMessage},
		{"quota in message", errors.New("daily quota exceeded"), RateLimitedMessage},
		{"invalid key", &APIError{StatusCode: 400, Status: "INVALID_ARGUMENT", Message: "API key not valid."}, InvalidKeyMessage},
		{"missing key", ErrMissingAPIKey, InvalidKeyMessage},
		{"permission denied", &APIError{StatusCode: 403, Status: "PERMISSION_DENIED", Message: "no access"}, DeniedMessage},
		{"other", errors.New("connection reset"), "Error: connection reset. Please try again later."},
		{"empty message", errors.New(""), FallbackMessage},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessageFor(tt.err); got != tt.want {
				t.Errorf("UserMessageFor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestService_Welcome(t *testing.T) {
	svc := newTestService(&mockGenerator{})
	msg := svc.Welcome()
	if msg.Content != WelcomeMessage || msg.Role != RoleBot {
		t.Errorf("Welcome() = %+v", msg)
	}
}
