package security

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestNewOutboundGuard はOutboundGuardの生成をテストする。
func TestNewOutboundGuard(t *testing.T) {
	if NewOutboundGuard() == nil {
		t.Fatal("NewOutboundGuard() returned nil")
	}
}

// TestNewSafeClientTimeout はタイムアウト設定が反映されることをテストする。
func TestNewSafeClientTimeout(t *testing.T) {
	guard := NewOutboundGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout, 1024)
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
}

// TestNewSafeClientHasTransport はSafeClientにカスタムTransportが設定されていることをテストする。
func TestNewSafeClientHasTransport(t *testing.T) {
	client := NewOutboundGuard().NewSafeClient(5*time.Second, 1024)

	if client.Transport == nil {
		t.Fatal("expected custom Transport to be set, got nil")
	}
	if client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport, got http.DefaultTransport")
	}
}

// TestNewSafeClientBlocksLoopback はSafeClientがループバックへのリクエストをブロックすることをテストする。
// httptestサーバーは127.0.0.1で起動されるため、safeurlがブロックする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewOutboundGuard().NewSafeClient(5*time.Second, 1024)

	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

// TestLimitedBodyTransport はレスポンスボディが上限で打ち切られることをテストする。
func TestLimitedBodyTransport(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("a", 100))
	}))
	defer ts.Close()

	tests := []struct {
		name    string
		limit   int64
		wantErr bool
	}{
		{"上限未満", 200, false},
		{"上限ちょうど", 100, false},
		{"上限超過", 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &http.Client{Transport: &limitedBodyTransport{next: http.DefaultTransport, limit: tt.limit}}
			resp, err := client.Get(ts.URL)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if tt.wantErr {
				if !errors.Is(err, ErrResponseTooLarge) {
					t.Errorf("err = %v, want ErrResponseTooLarge", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if len(body) != 100 {
				t.Errorf("len(body) = %d, want 100", len(body))
			}
		})
	}
}

// TestValidateEndpoint はエンドポイントURLの静的検証をテストする。
func TestValidateEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"Gemini公開エンドポイント", "https://generativelanguage.googleapis.com", false},
		{"明示的な443ポート", "https://generativelanguage.googleapis.com:443/v1beta", false},
		{"空URL", "", true},
		{"http", "http://generativelanguage.googleapis.com", true},
		{"ftp", "ftp://example.com", true},
		{"443以外のポート", "https://example.com:8443", true},
		{"ホストなし", "https:///path", true},
		{"localhost", "https://localhost", true},
		{"localhostサブドメイン", "https://api.localhost", true},
		{"ループバック", "https://127.0.0.1", true},
		{"プライベートIP", "https://10.0.0.5", true},
		{"プライベートIP 172.16", "https://172.16.1.1", true},
		{"プライベートIP 192.168", "https://192.168.1.1", true},
		{"メタデータIP", "https://169.254.169.254", true},
		{"ゼロアドレス", "https://0.0.0.0", true},
		{"IPv6ループバック", "https://[::1]", true},
		{"公開IP", "https://8.8.8.8", false},
		{"不正なURL", "https://exa mple.com/%zz", true},
	}

	guard := NewOutboundGuard()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateEndpoint(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEndpoint(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

// TestOutboundGuardInterface はOutboundGuardがインターフェースを正しく実装していることをテストする。
func TestOutboundGuardInterface(t *testing.T) {
	var _ OutboundGuard = NewOutboundGuard()
}
