package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLogNotifier_WritesCodeAsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	NewLogNotifier(logger).Notify("alice@example.com", "123456")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["msg"] != "otp issued" {
		t.Errorf("msg = %v, want otp issued", entry["msg"])
	}
	if entry["email"] != "alice@example.com" {
		t.Errorf("email = %v, want alice@example.com", entry["email"])
	}
	if entry["code"] != "123456" {
		t.Errorf("code = %v, want 123456", entry["code"])
	}
}

func TestSMTPNotifier_SendsMail(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{
		Addr:     "mail.example.com:587",
		From:     "noreply@example.com",
		Username: "user",
		Password: "pass",
	}, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))

	var (
		gotAddr string
		gotAuth smtp.Auth
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, string(msg)
		return nil
	}

	n.Notify("alice@example.com", "654321")

	if gotAddr != "mail.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotAuth == nil {
		t.Error("expected PlainAuth when username is set")
	}
	if gotFrom != "noreply@example.com" {
		t.Errorf("from = %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "alice@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	if !strings.Contains(gotMsg, "654321") {
		t.Error("mail body should contain the code")
	}
	if !strings.Contains(gotMsg, "To: alice@example.com\r\n") {
		t.Error("mail should carry To header")
	}
}

func TestSMTPNotifier_NoAuthWithoutUsername(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Addr: "localhost:25", From: "a@example.com"}, nil)

	var gotAuth smtp.Auth = smtp.PlainAuth("", "x", "y", "z")
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAuth = a
		return nil
	}

	n.Notify("bob@example.com", "111111")

	if gotAuth != nil {
		t.Error("auth should be nil when username is empty")
	}
}

func TestSMTPNotifier_SendErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	n := NewSMTPNotifier(SMTPConfig{Addr: "localhost:25"}, slog.New(slog.NewJSONHandler(&buf, nil)))
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return errors.New("connection refused")
	}

	n.Notify("bob@example.com", "111111")

	if !strings.Contains(buf.String(), "failed to send otp mail") {
		t.Errorf("expected error log, got %s", buf.String())
	}
	if strings.Contains(buf.String(), "111111") {
		t.Error("code must not be written to the error log")
	}
}

func TestAsyncNotifier_DeliversAndDrainsOnClose(t *testing.T) {
	rec := &recordingNotifier{}
	n := NewAsyncNotifier(rec, 8, nil)

	n.Notify("a@example.com", "111111")
	n.Notify("b@example.com", "222222")
	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if rec.count() != 2 {
		t.Fatalf("delivered = %d, want 2", rec.count())
	}
	if got := rec.last(t); got.email != "b@example.com" || got.code != "222222" {
		t.Errorf("last delivery = %+v", got)
	}
}

// blockingNotifier は解放されるまで配送をブロックするNotifier。
type blockingNotifier struct {
	started chan struct{}
	release chan struct{}
	rec     recordingNotifier
}

func (n *blockingNotifier) Notify(email, code string) {
	select {
	case n.started <- struct{}{}:
	default:
	}
	<-n.release
	n.rec.Notify(email, code)
}

func TestAsyncNotifier_DropsWhenQueueFull(t *testing.T) {
	var buf bytes.Buffer
	next := &blockingNotifier{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	n := NewAsyncNotifier(next, 1, slog.New(slog.NewJSONHandler(&buf, nil)))

	n.Notify("a@example.com", "111111")
	<-next.started
	n.Notify("b@example.com", "222222") // キューに積まれる
	n.Notify("c@example.com", "333333") // 破棄される

	close(next.release)
	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if next.rec.count() != 2 {
		t.Errorf("delivered = %d, want 2", next.rec.count())
	}
	if !strings.Contains(buf.String(), "otp delivery queue full") {
		t.Error("expected queue full warning")
	}
}

func TestAsyncNotifier_RecoversFromPanic(t *testing.T) {
	var buf bytes.Buffer
	calls := 0
	next := NotifierFunc(func(email, code string) {
		calls++
		if calls == 1 {
			panic("boom")
		}
	})
	n := NewAsyncNotifier(next, 4, slog.New(slog.NewJSONHandler(&buf, nil)))

	n.Notify("a@example.com", "111111")
	n.Notify("b@example.com", "222222")
	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if !strings.Contains(buf.String(), "otp notifier panicked") {
		t.Error("expected panic log")
	}
}

func TestAsyncNotifier_CloseIsIdempotent(t *testing.T) {
	n := NewAsyncNotifier(&recordingNotifier{}, 1, nil)
	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

// silentSMTPServer は接続を受け付けるが挨拶を返さないSMTPサーバー。
func silentSMTPServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	return ln.Addr().String()
}

func TestSMTPNotifier_SilentServer_TimesOut(t *testing.T) {
	var buf bytes.Buffer
	n := NewSMTPNotifier(SMTPConfig{
		Addr:    silentSMTPServer(t),
		From:    "noreply@example.com",
		Timeout: 100 * time.Millisecond,
	}, slog.New(slog.NewJSONHandler(&buf, nil)))

	done := make(chan struct{})
	go func() {
		n.Notify("alice@example.com", "123456")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Notify should give up after the SMTP timeout")
	}
	if !strings.Contains(buf.String(), "failed to send otp mail") {
		t.Errorf("expected error log, got %s", buf.String())
	}
}

func TestSMTPNotifier_DefaultTimeout(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Addr: "localhost:25"}, nil)
	if n.config.Timeout != defaultSMTPTimeout {
		t.Errorf("Timeout = %v, want %v", n.config.Timeout, defaultSMTPTimeout)
	}
}

func TestAsyncNotifier_SilentSMTPServer_CloseReturns(t *testing.T) {
	smtpNotifier := NewSMTPNotifier(SMTPConfig{
		Addr:    silentSMTPServer(t),
		From:    "noreply@example.com",
		Timeout: 100 * time.Millisecond,
	}, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))
	n := NewAsyncNotifier(smtpNotifier, 4, nil)

	n.Notify("a@example.com", "111111")
	n.Notify("b@example.com", "222222")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Errorf("Close() error = %v, want deliveries to fail fast and drain", err)
	}
}

func TestAsyncNotifier_Close_StopsWaitingWhenContextEnds(t *testing.T) {
	var buf bytes.Buffer
	next := &blockingNotifier{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	n := NewAsyncNotifier(next, 4, slog.New(slog.NewJSONHandler(&buf, nil)))
	defer close(next.release)

	n.Notify("a@example.com", "111111")
	<-next.started
	n.Notify("b@example.com", "222222")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := n.Close(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close() error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Close took %v, want it bounded by the context", elapsed)
	}
	if !strings.Contains(buf.String(), "otp delivery did not drain") {
		t.Errorf("expected drain warning, got %s", buf.String())
	}
}
