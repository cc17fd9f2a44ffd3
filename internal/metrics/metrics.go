// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー層から利用する。
type MetricsCollector interface {
	RecordOTPIssued(reason string)
	RecordOTPVerify(result string)
	RecordLogout()
	RecordIdentify(plant string)
	RecordChat(outcome string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// OTP発行理由・検証結果・チャット結果のラベル値。
const (
	ReasonLogin  = "login"
	ReasonResend = "resend"

	ResultSuccess = "success"
	ResultFailure = "failure"

	OutcomeAnswered = "answered"
	OutcomeError    = "error"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	otpIssued   *prometheus.CounterVec
	otpVerify   *prometheus.CounterVec
	logouts     prometheus.Counter
	identify    *prometheus.CounterVec
	chat        *prometheus.CounterVec
	chatLatency prometheus.Histogram
	httpStatus  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		otpIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ayurleaf_otp_issued_total",
			Help: "発行したワンタイムコードの数（login/resend別）",
		}, []string{"reason"}),
		otpVerify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ayurleaf_otp_verify_total",
			Help: "ワンタイムコード検証の結果別の数",
		}, []string{"result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ayurleaf_logout_total",
			Help: "ログアウトの合計数",
		}),
		identify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ayurleaf_identify_total",
			Help: "植物識別の結果別の数",
		}, []string{"plant"}),
		chat: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ayurleaf_chat_total",
			Help: "チャット応答の結果別の数",
		}, []string{"outcome"}),
		chatLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ayurleaf_chat_latency_seconds",
			Help:    "チャット応答のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ayurleaf_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.otpIssued,
		c.otpVerify,
		c.logouts,
		c.identify,
		c.chat,
		c.chatLatency,
		c.httpStatus,
	)

	return c
}

// RecordOTPIssued はワンタイムコードの発行を記録する。
func (c *Collector) RecordOTPIssued(reason string) {
	c.otpIssued.WithLabelValues(reason).Inc()
}

// RecordOTPVerify はワンタイムコード検証の結果を記録する。
func (c *Collector) RecordOTPVerify(result string) {
	c.otpVerify.WithLabelValues(result).Inc()
}

// RecordLogout はログアウトを記録する。
func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

// RecordIdentify は識別結果の植物名を記録する。
func (c *Collector) RecordIdentify(plant string) {
	c.identify.WithLabelValues(plant).Inc()
}

// RecordChat はチャット応答の結果とレイテンシを記録する。
func (c *Collector) RecordChat(outcome string, duration time.Duration) {
	c.chat.WithLabelValues(outcome).Inc()
	c.chatLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordOTPIssued(string)           {}
func (NopCollector) RecordOTPVerify(string)           {}
func (NopCollector) RecordLogout()                    {}
func (NopCollector) RecordIdentify(string)            {}
func (NopCollector) RecordChat(string, time.Duration) {}
func (NopCollector) RecordHTTPStatus(int)             {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RuntimeStats はスクレイプ時に読み取る現在値の取得元。nilの項目は登録しない。
type RuntimeStats struct {
	ActiveSessions  func() int // メモリ上のセッション数
	GeneralLimiters func() int // API全般リミッターのエントリ数
	ChatLimiters    func() int // チャットクールダウンのエントリ数
}

// RegisterRuntimeGauges はRuntimeStatsをGaugeFuncとして登録する。
func RegisterRuntimeGauges(reg prometheus.Registerer, stats RuntimeStats) {
	gauges := []struct {
		name string
		help string
		fn   func() int
	}{
		{"ayurleaf_active_sessions", "メモリ上に保持しているセッション数", stats.ActiveSessions},
		{"ayurleaf_rate_limiter_entries", "API全般のレートリミッターのエントリ数", stats.GeneralLimiters},
		{"ayurleaf_chat_cooldown_entries", "チャットクールダウンのエントリ数", stats.ChatLimiters},
	}
	for _, g := range gauges {
		if g.fn == nil {
			continue
		}
		fn := g.fn
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: g.name,
			Help: g.help,
		}, func() float64 { return float64(fn()) }))
	}
}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
