package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, apiKey string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewClient(server.Client(), ClientConfig{
		Endpoint: server.URL + "/",
		Model:    "gemini-test",
		APIKey:   apiKey,
	}, logger)
}

func TestClient_GenerateContent_Success(t *testing.T) {
	var gotPath, gotKey, gotPrompt string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if len(req.Contents) == 1 && len(req.Contents[0].Parts) == 1 {
			gotPrompt = req.Contents[0].Parts[0].Text
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"## Neem\n"},{"text":"- Antibacterial"}]},"finishReason":"STOP"}]}`)
	}, "test-key")

	text, err := client.GenerateContent(context.Background(), "tell me about neem")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/v1beta/models/gemini-test:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("x-goog-api-key = %q, want test-key", gotKey)
	}
	if gotPrompt != "tell me about neem" {
		t.Errorf("prompt = %q", gotPrompt)
	}
	if text != "## Neem\n- Antibacterial" {
		t.Errorf("text = %q", text)
	}
}

func TestClient_GenerateContent_MissingAPIKey_NoRequest(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, "")

	if client.HasAPIKey() {
		t.Error("HasAPIKey() should be false")
	}

	_, err := client.GenerateContent(context.Background(), "hi")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
	if called {
		t.Error("no request should be sent without an API key")
	}
}

func TestClient_GenerateContent_ErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantStatus string
		wantMsg    string
	}{
		{
			name:       "クォータ超過",
			statusCode: http.StatusTooManyRequests,
			body:       `{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`,
			wantStatus: "RESOURCE_EXHAUSTED",
			wantMsg:    "check quota",
		},
		{
			name:       "不正なAPIキー",
			statusCode: http.StatusBadRequest,
			body:       `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`,
			wantStatus: "INVALID_ARGUMENT",
			wantMsg:    "API key not valid",
		},
		{
			name:       "JSONでないボディ",
			statusCode: http.StatusBadGateway,
			body:       `<html>bad gateway</html>`,
			wantStatus: "",
			wantMsg:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = io.WriteString(w, tt.body)
			}, "key")

			_, err := client.GenerateContent(context.Background(), "q")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.statusCode {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.statusCode)
			}
			if apiErr.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", apiErr.Status, tt.wantStatus)
			}
			if !strings.Contains(apiErr.Message, tt.wantMsg) {
				t.Errorf("Message = %q, want to contain %q", apiErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestClient_GenerateContent_EmptyCandidates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	}, "key")

	_, err := client.GenerateContent(context.Background(), "q")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestClient_GenerateContent_BlockedPrompt(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}, "key")

	_, err := client.GenerateContent(context.Background(), "q")
	if err == nil || !strings.Contains(err.Error(), "SAFETY") {
		t.Fatalf("err = %v, want blocked error", err)
	}
}

func TestClient_GenerateContent_InvalidJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}, "key")

	if _, err := client.GenerateContent(context.Background(), "q"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(http.DefaultClient, ClientConfig{}, nil)
	if c.endpoint != DefaultEndpoint {
		t.Errorf("endpoint = %q, want %q", c.endpoint, DefaultEndpoint)
	}
	if c.model != DefaultModel {
		t.Errorf("model = %q, want %q", c.model, DefaultModel)
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{StatusCode: 403, Status: "PERMISSION_DENIED", Message: "denied"}
	if got := err.Error(); got != "[403 PERMISSION_DENIED] denied" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&APIError{StatusCode: 502}).Error(); got != "[502]" {
		t.Errorf("Error() = %q", got)
	}
}
