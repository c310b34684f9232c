// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// アクセスゲートの判定結果ラベル。
const (
	AccessResultSuccess    = "success"
	AccessResultInvalid    = "invalid_credentials"
	AccessResultValidation = "validation"
	AccessResultError      = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordAccessAttempt(result string)
	RecordAccessLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordRecipientChange(operation string)
	RecordStepTransition(step string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	accessAttempts  *prometheus.CounterVec
	accessLatency   prometheus.Histogram
	httpStatus      *prometheus.CounterVec
	recipientChange *prometheus.CounterVec
	stepTransitions *prometheus.CounterVec
	reg             prometheus.Registerer
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		accessAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "birthday_access_attempts_total",
			Help: "パスワード認証の試行数（結果別）",
		}, []string{"result"}),
		accessLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "birthday_access_verify_seconds",
			Help:    "パスワード検証のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "birthday_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		recipientChange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "birthday_recipient_changes_total",
			Help: "管理画面からの受け取り手変更数（操作別）",
		}, []string{"operation"}),
		stepTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "birthday_step_transitions_total",
			Help: "体験ステップへの遷移数（遷移先ステップ別）",
		}, []string{"step"}),
		reg: reg,
	}

	reg.MustRegister(
		c.accessAttempts,
		c.accessLatency,
		c.httpStatus,
		c.recipientChange,
		c.stepTransitions,
	)

	return c
}

// RegisterSubscriberGauge はリアルタイム購読者数を返す関数をゲージとして登録する。
func (c *Collector) RegisterSubscriberGauge(fn func() float64) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "birthday_realtime_subscribers",
		Help: "変更通知を購読中のクライアント数",
	}, fn))
}

// RegisterDroppedEventsCounter は破棄した変更通知の累計を返す関数をカウンターとして登録する。
func (c *Collector) RegisterDroppedEventsCounter(fn func() float64) {
	c.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "birthday_realtime_dropped_events_total",
		Help: "受信が滞った購読者向けに破棄した変更通知の数",
	}, fn))
}

// RecordAccessAttempt はパスワード認証の試行を記録する。
func (c *Collector) RecordAccessAttempt(result string) {
	c.accessAttempts.WithLabelValues(result).Inc()
}

// RecordAccessLatency はパスワード検証のレイテンシを記録する。
func (c *Collector) RecordAccessLatency(duration time.Duration) {
	c.accessLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRecipientChange は受け取り手の作成・更新・削除を記録する。
func (c *Collector) RecordRecipientChange(operation string) {
	c.recipientChange.WithLabelValues(operation).Inc()
}

// RecordStepTransition は体験ステップへの遷移を記録する。
func (c *Collector) RecordStepTransition(step string) {
	c.stepTransitions.WithLabelValues(step).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// StatusMiddleware はレスポンスのステータスコードを記録するミドルウェアを返す。
func StatusMiddleware(c MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			c.RecordHTTPStatus(sw.status)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush はSSEのためにhttp.Flusherを委譲する。
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap はhttp.ResponseControllerが下位のWriterに到達できるようにする。
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
