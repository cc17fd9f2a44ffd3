package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"
)

// defaultSMTPTimeout はSMTPConfig.Timeoutが未設定の場合の上限。
const defaultSMTPTimeout = 10 * time.Second

// LogNotifier はコードを構造化ログに出力する配送チャネル。
// メール送信基盤のない開発環境向け。コードが平文でログに残る点に注意。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify はコードをログに出力する。
func (n *LogNotifier) Notify(email, code string) {
	n.logger.Info("otp issued",
		slog.String("email", email),
		slog.String("code", code),
	)
}

// SMTPConfig はSMTP配送の設定。
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
	Timeout  time.Duration // 接続からQUITまでの上限
}

// SMTPNotifier はコードをメールで送信する配送チャネル。
type SMTPNotifier struct {
	config SMTPConfig
	logger *slog.Logger
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier はSMTPNotifierを生成する。
func NewSMTPNotifier(config SMTPConfig, logger *slog.Logger) *SMTPNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultSMTPTimeout
	}
	n := &SMTPNotifier{
		config: config,
		logger: logger,
	}
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return sendMail(addr, n.config.Timeout, a, from, to, msg)
	}
	return n
}

// Notify はコードを記載したメールを送信する。送信失敗はログに記録するのみ。
func (n *SMTPNotifier) Notify(email, code string) {
	var auth smtp.Auth
	if n.config.Username != "" {
		host, _, _ := strings.Cut(n.config.Addr, ":")
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, host)
	}

	if err := n.send(n.config.Addr, auth, n.config.From, []string{email}, buildOTPMail(n.config.From, email, code)); err != nil {
		n.logger.Error("failed to send otp mail",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return
	}

	n.logger.Info("otp mail sent", slog.String("email", email))
}

// sendMail はsmtp.SendMailと同じ手順でメールを送る。
// 接続からQUITまでの全体にtimeoutの期限を設ける。
func sendMail(addr string, timeout time.Duration, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid smtp address %q: %w", addr, err)
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to smtp server: %w", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("failed to set smtp deadline: %w", err)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp handshake failed: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("smtp starttls failed: %w", err)
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return fmt.Errorf("smtp auth failed: %w", err)
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO failed: %w", err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write smtp body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish smtp body: %w", err)
	}
	return c.Quit()
}

// buildOTPMail はワンタイムコード通知メールの本文を組み立てる。
func buildOTPMail(from, to, code string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	b.WriteString("Subject: Your AyurLeaf AI sign-in code\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Your one-time sign-in code is %s.\r\n", code)
	b.WriteString("If you did not request this code, you can ignore this message.\r\n")
	return []byte(b.String())
}

// otpDelivery はAsyncNotifierのキューに積む配送依頼。
type otpDelivery struct {
	email string
	code  string
}

// AsyncNotifier は配送を専用ゴルーチンに委譲し、呼び出し元をブロックしない。
// キューが満杯の場合は配送を破棄して警告ログを出す。
type AsyncNotifier struct {
	next   Notifier
	logger *slog.Logger
	queue  chan otpDelivery
	done   chan struct{}
	once   sync.Once
}

// NewAsyncNotifier はAsyncNotifierを生成し、配送ゴルーチンを起動する。
func NewAsyncNotifier(next Notifier, queueSize int, logger *slog.Logger) *AsyncNotifier {
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	n := &AsyncNotifier{
		next:   next,
		logger: logger,
		queue:  make(chan otpDelivery, queueSize),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

// Notify は配送をキューに積む。
func (n *AsyncNotifier) Notify(email, code string) {
	select {
	case n.queue <- otpDelivery{email: email, code: code}:
	default:
		n.logger.Warn("otp delivery queue full, dropping",
			slog.String("email", email),
		)
	}
}

// Close はキューを閉じ、積まれている配送がすべて終わるかctxが終了するまで待つ。
// ctxが先に終了した場合は未配送の件数をログに残してctx.Err()を返す。
// Close後のNotifyは呼び出してはならない。
func (n *AsyncNotifier) Close(ctx context.Context) error {
	n.once.Do(func() {
		close(n.queue)
	})
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		n.logger.Warn("otp delivery did not drain before shutdown",
			slog.Int("pending", len(n.queue)),
		)
		return ctx.Err()
	}
}

func (n *AsyncNotifier) run() {
	defer close(n.done)
	for d := range n.queue {
		n.deliver(d)
	}
}

func (n *AsyncNotifier) deliver(d otpDelivery) {
	defer func() {
		if rec := recover(); rec != nil {
			n.logger.Error("otp notifier panicked",
				slog.Any("panic", rec),
				slog.String("email", d.email),
			)
		}
	}()
	n.next.Notify(d.email, d.code)
}

// compile-time interface checks
var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*SMTPNotifier)(nil)
	_ Notifier = (*AsyncNotifier)(nil)
)
