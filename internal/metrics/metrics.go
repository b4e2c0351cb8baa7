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
// サービス層・ワーカー・ミドルウェアから利用する。
type MetricsCollector interface {
	RecordAttendance(path, outcome string)
	RecordRegistration(result string)
	RecordPromotion(result string)
	RecordNotification(kind, result string)
	RecordHTTPRequest(method string, statusCode int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	attendance    *prometheus.CounterVec
	registrations *prometheus.CounterVec
	promotions    *prometheus.CounterVec
	notifications *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
	httpLatency   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		attendance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendly_attendance_total",
			Help: "出席記録の試行数（経路・結果別）",
		}, []string{"path", "outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendly_registrations_total",
			Help: "Discordユーザー登録・同期の結果別件数",
		}, []string{"result"}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendly_promotions_total",
			Help: "管理者昇格の試行数（結果別）",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendly_notifications_total",
			Help: "Discord通知の送信数（種別・結果別）",
		}, []string{"kind", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendly_http_requests_total",
			Help: "HTTPメソッド・ステータスコード別のレスポンス数",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendly_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.attendance,
		c.registrations,
		c.promotions,
		c.notifications,
		c.httpStatus,
		c.httpLatency,
	)

	return c
}

// RecordAttendance は出席記録の結果を記録する。pathは"self"または"admin"。
func (c *Collector) RecordAttendance(path, outcome string) {
	c.attendance.WithLabelValues(path, outcome).Inc()
}

// RecordRegistration はユーザー登録・同期の結果を記録する。
func (c *Collector) RecordRegistration(result string) {
	c.registrations.WithLabelValues(result).Inc()
}

// RecordPromotion は管理者昇格の結果を記録する。
func (c *Collector) RecordPromotion(result string) {
	c.promotions.WithLabelValues(result).Inc()
}

// RecordNotification は通知送信の結果を記録する。
func (c *Collector) RecordNotification(kind, result string) {
	c.notifications.WithLabelValues(kind, result).Inc()
}

// RecordHTTPRequest はHTTPリクエストのステータスと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpStatus.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordAttendance(string, string) {}
func (Nop) RecordRegistration(string) {}
func (Nop) RecordPromotion(string) {}
func (Nop) RecordNotification(string, string) {}
func (Nop) RecordHTTPRequest(string, int, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
