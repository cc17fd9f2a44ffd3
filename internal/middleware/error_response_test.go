package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/ayurleaf/internal/model"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

func TestWriteErrorResponse_ProductErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		err          *model.APIError
		wantCode     string
		wantCategory string
	}{
		{"ログイン入力エラー", http.StatusBadRequest, model.NewInvalidLoginError("Please enter a valid email"), model.ErrCodeInvalidLogin, "validation"},
		{"OTP未入力", http.StatusBadRequest, model.NewOTPRequiredError(), model.ErrCodeOTPRequired, "validation"},
		{"OTP不一致", http.StatusUnauthorized, model.NewInvalidOTPError(), model.ErrCodeInvalidOTP, "auth"},
		{"検証待ちのログインなしで再送", http.StatusConflict, model.NewNoPendingLoginError(), model.ErrCodeNoPendingLogin, "auth"},
		{"画像なしで識別", http.StatusBadRequest, model.NewImageRequiredError(), model.ErrCodeImageRequired, "validation"},
		{"画像サイズ超過", http.StatusRequestEntityTooLarge, model.NewUploadTooLargeError(10 << 20), model.ErrCodeUploadTooLarge, "plant"},
		{"チャットのクールダウン", http.StatusTooManyRequests, model.NewChatCooldownError(), model.ErrCodeChatCooldown, "chat"},
		{"CSRF検証失敗", http.StatusForbidden, model.NewCSRFError(), model.ErrCodeCSRFFailed, "auth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()

			WriteErrorResponse(rec, tt.status, tt.err)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", cc)
			}
			body := decodeErrorBody(t, rec)
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if body.Category != tt.wantCategory {
				t.Errorf("category = %q, want %q", body.Category, tt.wantCategory)
			}
			if body.Message != tt.err.Message {
				t.Errorf("message = %q, want %q", body.Message, tt.err.Message)
			}
			if body.Action == "" {
				t.Error("UIに出す対処方法が空")
			}
		})
	}
}

func TestWriteErrorResponse_LoginReasonShownAsMessage(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteErrorResponse(rec, http.StatusBadRequest, model.NewInvalidLoginError("Please enter a shorter name"))

	if got := decodeErrorBody(t, rec).Message; got != "Please enter a shorter name" {
		t.Errorf("message = %q", got)
	}
}

func TestWriteInternalServerError_HidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteInternalServerError(rec)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
	if body.Category != "system" {
		t.Errorf("category = %q, want system", body.Category)
	}
	if body.Message != "Something went wrong. Please try again later." {
		t.Errorf("message = %q", body.Message)
	}
}
