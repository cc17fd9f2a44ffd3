// Package chat は薬用植物に関する質問をテキスト生成API（Gemini）に転送するチャット機能を提供する。
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	// DefaultEndpoint はGemini APIのベースURL。
	DefaultEndpoint = "https://generativelanguage.googleapis.com"
	// DefaultModel はデフォルトの生成モデル。
	DefaultModel = "gemini-1.5-flash"
)

// APIError はGemini APIが返したエラー。
type APIError struct {
	StatusCode int    // HTTPステータス
	Status     string // 例: RESOURCE_EXHAUSTED, PERMISSION_DENIED
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d", e.StatusCode)
	if e.Status != "" {
		fmt.Fprintf(&b, " %s", e.Status)
	}
	b.WriteString("]")
	if e.Message != "" {
		fmt.Fprintf(&b, " %s", e.Message)
	}
	return b.String()
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Client はGemini generateContent APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	model      string
	apiKey     string
}

// ClientConfig はClientの設定。
type ClientConfig struct {
	Endpoint string
	Model    string
	APIKey   string
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientには外部通信用のクライアント（security.OutboundGuard.NewSafeClient）を渡す。
func NewClient(httpClient *http.Client, config ClientConfig, logger *slog.Logger) *Client {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   strings.TrimRight(config.Endpoint, "/"),
		model:      config.Model,
		apiKey:     config.APIKey,
	}
}

// HasAPIKey はAPIキーが設定されているかを返す。
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// GenerateContent はプロンプトを送信し、生成されたテキストを返す。
func (c *Client) GenerateContent(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	reqURL := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.endpoint, url.PathEscape(c.model))

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("User-Agent", "AyurLeaf/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Gemini APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.String("model", c.model),
		)
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(respBody, &er) == nil {
			apiErr.Status = er.Error.Status
			apiErr.Message = er.Error.Message
		}
		c.logger.Error("Gemini APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("status", apiErr.Status),
		)
		return "", apiErr
	}

	var gr generateResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("prompt was blocked: %s", gr.PromptFeedback.BlockReason)
	}
	if len(gr.Candidates) == 0 {
		return "", ErrEmptyResponse
	}

	var text strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return text.String(), nil
}
