package model

import "time"

// SessionRecord はブラウザセッション1件分の認証状態を永続化するための表現。
// 空文字列は未設定（null）を表す。
// ワンタイムコードそのものは保持せず、メールアドレスと組にしたダイジェストのみを保持する。
type SessionRecord struct {
	Token         string
	Authenticated bool
	Identity      string
	PendingEmail  string
	PendingName   string
	CodeDigest    string
	ExpiresAt     time.Time
	UpdatedAt     time.Time
}
