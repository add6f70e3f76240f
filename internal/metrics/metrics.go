package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	NotifierSubscribed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bbs_notifier_subscribed",
		Help: "1 while the notification subscription is open, 0 while polling",
	})
	NotifierDegradedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bbs_notifier_degraded_total",
		Help: "Number of times the notifier fell back to polling",
	})
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bbs_notifications_total",
		Help: "Notifications received, by outcome",
	}, []string{"result"})
	PolledEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bbs_polled_events_total",
		Help: "Events emitted by the polling fallback",
	})
	QueueDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bbs_event_queue_dropped_total",
		Help: "Events dropped because the event queue was full",
	})
	MessagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bbs_messages_sent_total",
		Help: "Send attempts, by outcome",
	}, []string{"result"})
	MessagesPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bbs_messages_pruned_total",
		Help: "Messages removed by retention pruning",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		NotifierSubscribed,
		NotifierDegradedTotal,
		NotificationsTotal,
		PolledEventsTotal,
		QueueDroppedTotal,
		MessagesSentTotal,
		MessagesPrunedTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
