// Package session はワンタイムコードによるセッション認証の状態機械を提供する。
//
// 1つのStoreが1つのブラウザセッションに対応し、次の3状態を遷移する。
//
//	anonymous --BeginLogin--> pending_verification --VerifyCode(一致)--> authenticated
//	    ^                          |  ^                                       |
//	    |                          |  +--ResendCode / VerifyCode(不一致)      |
//	    +---------Logout-----------+------------------Logout------------------+
//
// 各操作はStoreのミューテックスの下で完結し、途中状態が観測されることはない。
// コードの配送はNotifierに委譲し、配送の成否は状態に影響しない。
//
// 注意: これはデモ用の認証フローである。コードには有効期限も試行回数制限もなく、
// Notifierには平文のコードが渡る。実際の資格情報発行に使う場合は、
// 暗号論的乱数（otp.NewGenerator）に加えて有効期限・試行回数の上限・レート制限が必要になる。
package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/ayurleaf/internal/model"
	"github.com/hitoshi/ayurleaf/internal/otp"
)

// State はセッションの認証状態を表す。
type State string

const (
	// StateAnonymous は未ログイン状態。
	StateAnonymous State = "anonymous"
	// StatePendingVerification はコード送信済みで入力待ちの状態。
	StatePendingVerification State = "pending_verification"
	// StateAuthenticated はコード検証に成功した状態。
	StateAuthenticated State = "authenticated"
)

// DefaultIdentity はメールアドレスのローカル部が空の場合に使う表示名。
const DefaultIdentity = "User"

// Notifier はワンタイムコードをユーザーに届ける配送チャネル。
// 戻り値は持たず、失敗は実装側で記録する。
type Notifier interface {
	Notify(email, code string)
}

// NotifierFunc は関数をNotifierとして扱うためのアダプタ。
type NotifierFunc func(email, code string)

// Notify はf(email, code)を呼び出す。
func (f NotifierFunc) Notify(email, code string) {
	f(email, code)
}

// Authenticator はログインフォームやナビゲーションバーなどの利用側が
// セッション状態機械を操作するためのインターフェース。
type Authenticator interface {
	// BeginLogin はコードを発行して検証待ち状態に遷移する。
	BeginLogin(displayName, email string)
	// VerifyCode は入力されたコードを検証する。一致した場合のみtrueを返す。
	VerifyCode(code string) bool
	// ResendCode は検証待ちのメールアドレスに新しいコードを発行する。
	ResendCode()
	// ReissueCode はResendCodeと同じ操作を行い、コードを発行したかを返す。
	ReissueCode() bool
	// Logout はセッションを未ログイン状態に戻す。
	Logout()
	// Snapshot は現在の状態を返す。コードは含まない。
	Snapshot() Snapshot
}

// Snapshot は利用側に公開するセッション状態のビュー。
type Snapshot struct {
	State         State
	Authenticated bool
	Identity      string
	PendingEmail  string
}

// Config はStoreの動作設定。
type Config struct {
	Generator otp.Generator
	Notifier  Notifier
	// PreferDisplayName がtrueの場合、BeginLoginで受け取った表示名が空でなければ
	// メールアドレスのローカル部より優先してIdentityに使う。
	PreferDisplayName bool
	Logger            *slog.Logger
}

// withDefaults は未指定の項目をデフォルト値で補完したConfigを返す。
func (c Config) withDefaults() Config {
	if c.Generator == nil {
		c.Generator = otp.NewGenerator()
	}
	if c.Notifier == nil {
		c.Notifier = NotifierFunc(func(string, string) {})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Store は1つのセッションの認証状態を保持し、状態遷移を強制する。
type Store struct {
	cfg Config

	mu            sync.Mutex
	authenticated bool
	identity      string
	pendingEmail  string
	pendingName   string
	codeDigest    string
	version       uint64
}

// NewStore は未ログイン状態のStoreを生成する。
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg.withDefaults()}
}

// RestoreStore は永続化されたレコードからStoreを復元する。
func RestoreStore(rec model.SessionRecord, cfg Config) *Store {
	s := NewStore(cfg)
	s.authenticated = rec.Authenticated
	s.identity = rec.Identity
	s.pendingEmail = rec.PendingEmail
	s.pendingName = rec.PendingName
	s.codeDigest = rec.CodeDigest
	if s.authenticated {
		// 認証済みのレコードに検証待ちの情報が残っていても採用しない
		s.pendingEmail, s.pendingName, s.codeDigest = "", "", ""
		if s.identity == "" {
			s.identity = DefaultIdentity
		}
	}
	return s
}

// BeginLogin はコードを発行し、emailを検証待ちとして保持する。
// 既に検証待ちのログインがあれば上書きする。認証済みの場合は認証を解除してから
// 検証待ちに遷移する。
// displayNameはPreferDisplayNameが有効な場合のみ保持される。
// 入力形式の検証は呼び出し側の責務で、この操作は失敗しない。
func (s *Store) BeginLogin(displayName, email string) {
	code := s.cfg.Generator.Generate()

	s.mu.Lock()
	s.authenticated = false
	s.identity = ""
	s.pendingEmail = email
	s.pendingName = ""
	if s.cfg.PreferDisplayName {
		s.pendingName = strings.TrimSpace(displayName)
	}
	s.codeDigest = digest(email, code)
	s.version++
	s.mu.Unlock()

	s.deliver(email, code)
}

// VerifyCode はcodeが現在有効なコードと完全一致するかを検証する。
// 一致した場合は認証済みに遷移してtrueを返す。
// 不一致の場合、または検証待ちのログインがない場合は状態を変えずにfalseを返す。
// 入力の正規化（空白除去など）は行わない。
func (s *Store) VerifyCode(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.codeDigest == "" {
		return false
	}

	if subtle.ConstantTimeCompare([]byte(digest(s.pendingEmail, code)), []byte(s.codeDigest)) != 1 {
		return false
	}

	s.authenticated = true
	s.identity = s.deriveIdentity()
	s.pendingEmail = ""
	s.pendingName = ""
	s.codeDigest = ""
	s.version++
	return true
}

// ResendCode は検証待ちのメールアドレスに新しいコードを発行する。
// 以前のコードは無効になる。検証待ちのログインがない場合は何もしない。
func (s *Store) ResendCode() {
	s.ReissueCode()
}

// ReissueCode はResendCodeと同じ操作を行い、コードを発行したかを返す。
// 判定と発行は同じロックの下で行われる。
func (s *Store) ReissueCode() bool {
	s.mu.Lock()
	if s.codeDigest == "" {
		s.mu.Unlock()
		return false
	}
	email := s.pendingEmail
	code := s.cfg.Generator.Generate()
	s.codeDigest = digest(email, code)
	s.version++
	s.mu.Unlock()

	s.deliver(email, code)
	return true
}

// Logout はすべての状態を消去して未ログイン状態に戻す。冪等。
func (s *Store) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authenticated && s.codeDigest == "" {
		return
	}
	s.authenticated = false
	s.identity = ""
	s.pendingEmail = ""
	s.pendingName = ""
	s.codeDigest = ""
	s.version++
}

// Snapshot は現在の状態を返す。
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		State:         s.stateLocked(),
		Authenticated: s.authenticated,
		Identity:      s.identity,
		PendingEmail:  s.pendingEmail,
	}
}

// Record は永続化用のレコードを返す。TokenとExpiresAtは呼び出し側で設定する。
func (s *Store) Record() model.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return model.SessionRecord{
		Authenticated: s.authenticated,
		Identity:      s.identity,
		PendingEmail:  s.pendingEmail,
		PendingName:   s.pendingName,
		CodeDigest:    s.codeDigest,
	}
}

// Version は状態が変更されるたびに増加するカウンタを返す。
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Store) stateLocked() State {
	switch {
	case s.authenticated:
		return StateAuthenticated
	case s.codeDigest != "":
		return StatePendingVerification
	default:
		return StateAnonymous
	}
}

// deriveIdentity は検証待ちの情報から認証後の表示名を決める。
func (s *Store) deriveIdentity() string {
	if s.cfg.PreferDisplayName && s.pendingName != "" {
		return s.pendingName
	}
	local, _, _ := strings.Cut(s.pendingEmail, "@")
	if local == "" {
		return DefaultIdentity
	}
	return local
}

// deliver はNotifierを呼び出す。Notifierのpanicは状態に影響させない。
func (s *Store) deliver(email, code string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.cfg.Logger.Error("otp notifier panicked",
				slog.Any("panic", rec),
			)
		}
	}()
	s.cfg.Notifier.Notify(email, code)
}

// digest はメールアドレスとコードの組のSHA-256ダイジェストを返す。
func digest(email, code string) string {
	sum := sha256.Sum256([]byte(email + ":" + code))
	return hex.EncodeToString(sum[:])
}

// compile-time interface check
var _ Authenticator = (*Store)(nil)
